package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Outcomes recorded by the sandbox metrics.
const (
	outcomeExited   = "exited"
	outcomeTimedOut = "timed_out"
	outcomeFailed   = "failed"
)

var (
	sandboxRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autograder",
		Subsystem: "sandbox",
		Name:      "runs_total",
		Help:      "Sandboxed command runs by image and outcome.",
	}, []string{"image", "outcome"})

	sandboxDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "autograder",
		Subsystem: "sandbox",
		Name:      "run_duration_seconds",
		Help:      "Wall clock time of sandboxed command runs.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
	}, []string{"image"})
)

// Executor runs one command inside a throwaway sandbox.
type Executor interface {
	Run(ctx context.Context, req ExecutionRequest) (ExecutionResult, error)
}

const (
	stdinFileName = ".ag_stdin"
	labelManaged  = "autograder.managed"
	defaultPids   = 256
)

// DefaultMaxOutputBytes bounds captured stdout and stderr when a request sets no limit.
const DefaultMaxOutputBytes = 64 * 1024

// ExecutionRequest describes one sandboxed run. Shell is run with sh -c and
// takes precedence over Cmd. Stdin needs a Workspace because it is staged
// there as a file and redirected into the command.
type ExecutionRequest struct {
	Image           string
	Cmd             []string
	Shell           string
	Stdin           string
	MaxOutputBytes  int
	Timeout         time.Duration
	Workspace       string
	MemoryLimitMB   int64
	CPUShares       int64
	NetworkDisabled bool
	Labels          map[string]string
}

// ExecutionResult is what a sandboxed run produced. ExitCode is meaningless
// when TimedOut is set.
type ExecutionResult struct {
	Stdout           string
	Stderr           string
	StdoutTruncated  bool
	StderrTruncated  bool
	ExitCode         int
	Duration         time.Duration
	TimedOut         bool
	MemoryUsageBytes int64
	CPUUsageNanosec  uint64
}

// Config holds executor wide defaults.
type Config struct {
	Host          string
	Timeout       time.Duration
	MemoryLimitMB int64
	CPUShares     int64
	PidsLimit     int64
	WorkingDir    string
	Logger        zerolog.Logger
}

// DockerExecutor runs commands in short lived Docker containers with the
// submission workspace bind mounted.
type DockerExecutor struct {
	client *client.Client
	cfg    Config
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewDockerExecutor connects to the Docker daemon at cfg.Host, or the
// environment's default daemon when Host is empty.
func NewDockerExecutor(cfg Config) (*DockerExecutor, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	if cfg.WorkingDir == "" {
		cfg.WorkingDir = "/workspace"
	}
	if cfg.PidsLimit <= 0 {
		cfg.PidsLimit = defaultPids
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &DockerExecutor{
		client: cli,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-autograder-api/pkg/docker"),
		logger: logger.With().Str("component", "sandbox").Logger(),
	}, nil
}

// Run executes req and waits for it to exit or hit its time limit. A run
// that times out is not an error: the result reports TimedOut instead.
func (e *DockerExecutor) Run(parent context.Context, req ExecutionRequest) (ExecutionResult, error) {
	if req.Image == "" {
		return ExecutionResult{}, errors.New("image is required")
	}

	ctx, span := e.tracer.Start(parent, "docker.executor.run", trace.WithAttributes(
		attribute.String("docker.image", req.Image),
	))
	defer span.End()

	fail := func(outcome string, err error) (ExecutionResult, error) {
		sandboxRuns.WithLabelValues(req.Image, outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ExecutionResult{}, err
	}

	cmd, err := e.command(req)
	if err != nil {
		return fail(outcomeFailed, err)
	}

	created, err := e.client.ContainerCreate(ctx, e.containerConfig(req, cmd), e.hostConfig(req), &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return fail(outcomeFailed, fmt.Errorf("container create: %w", err))
	}
	id := created.ID
	logger := e.logger.With().Str("container_id", id).Logger()
	defer e.remove(id, logger)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}

	start := time.Now()
	result, err := e.wait(ctx, id, timeout, logger)
	result.Duration = time.Since(start)
	sandboxDuration.WithLabelValues(req.Image).Observe(result.Duration.Seconds())
	if err != nil {
		return fail(outcomeFailed, err)
	}

	if err := e.collectOutput(parent, id, req.MaxOutputBytes, &result); err != nil {
		logger.Error().Err(err).Msg("failed to read container output")
	}
	e.collectUsage(parent, id, &result)

	outcome := outcomeExited
	if result.TimedOut {
		outcome = outcomeTimedOut
		span.SetStatus(codes.Error, "execution timed out")
		logger.Debug().Dur("timeout", timeout).Msg("execution timed out")
	} else {
		span.SetAttributes(attribute.Int("process.exit_code", result.ExitCode))
	}
	sandboxRuns.WithLabelValues(req.Image, outcome).Inc()

	return result, nil
}

func (e *DockerExecutor) containerConfig(req ExecutionRequest, cmd []string) *container.Config {
	labels := map[string]string{labelManaged: "true"}
	for key, value := range req.Labels {
		labels[key] = value
	}

	return &container.Config{
		Image:           req.Image,
		Cmd:             cmd,
		WorkingDir:      e.cfg.WorkingDir,
		Labels:          labels,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: req.NetworkDisabled,
	}
}

func (e *DockerExecutor) hostConfig(req ExecutionRequest) *container.HostConfig {
	memoryMB := req.MemoryLimitMB
	if memoryMB <= 0 {
		memoryMB = e.cfg.MemoryLimitMB
	}
	shares := req.CPUShares
	if shares <= 0 {
		shares = e.cfg.CPUShares
	}
	pids := e.cfg.PidsLimit

	host := &container.HostConfig{
		NetworkMode: "bridge",
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:    memoryMB * 1024 * 1024,
			CPUShares: shares,
			PidsLimit: &pids,
		},
	}
	if req.NetworkDisabled {
		host.NetworkMode = "none"
	}
	if req.Workspace != "" {
		host.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: req.Workspace,
			Target: e.cfg.WorkingDir,
		}}
	}
	return host
}

// wait starts the container and blocks until it exits or timeout passes, in
// which case the container is killed and the result marked as timed out.
func (e *DockerExecutor) wait(parent context.Context, id string, timeout time.Duration, logger zerolog.Logger) (ExecutionResult, error) {
	ctx := parent
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, timeout)
		defer cancel()
	}

	if err := e.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return ExecutionResult{}, fmt.Errorf("container start: %w", err)
	}

	statusCh, errCh := e.client.ContainerWait(ctx, id, container.WaitConditionNextExit)
	select {
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return ExecutionResult{}, fmt.Errorf("container wait: %s", status.Error.Message)
		}
		return ExecutionResult{ExitCode: int(status.StatusCode)}, nil
	case err := <-errCh:
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ExecutionResult{}, fmt.Errorf("container wait: %w", err)
		}
	case <-ctx.Done():
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ExecutionResult{}, ctx.Err()
		}
	}

	if err := parent.Err(); err != nil {
		return ExecutionResult{}, err
	}

	killCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.client.ContainerKill(killCtx, id, "KILL"); err != nil {
		logger.Error().Err(err).Msg("failed to kill timed out container")
	}
	return ExecutionResult{TimedOut: true, ExitCode: -1}, nil
}

func (e *DockerExecutor) collectOutput(ctx context.Context, id string, limit int, result *ExecutionResult) error {
	logs, err := e.client.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return err
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return err
	}

	if limit <= 0 {
		limit = DefaultMaxOutputBytes
	}
	result.Stdout, result.StdoutTruncated = truncate(stdout.String(), limit)
	result.Stderr, result.StderrTruncated = truncate(stderr.String(), limit)
	return nil
}

// collectUsage is best effort: stats are often gone once the process exits.
func (e *DockerExecutor) collectUsage(parent context.Context, id string, result *ExecutionResult) {
	ctx, cancel := context.WithTimeout(parent, 2*time.Second)
	defer cancel()

	stats, err := e.client.ContainerStatsOneShot(ctx, id)
	if err != nil {
		return
	}
	defer stats.Body.Close()

	var data types.StatsJSON
	if err := json.NewDecoder(stats.Body).Decode(&data); err == nil {
		result.MemoryUsageBytes = int64(data.MemoryStats.MaxUsage)
		result.CPUUsageNanosec = data.CPUStats.CPUUsage.TotalUsage
	}
}

func (e *DockerExecutor) remove(id string, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		logger.Error().Err(err).Msg("failed to remove container")
	}
}

// command builds the container command, staging stdin in the workspace when needed.
func (e *DockerExecutor) command(req ExecutionRequest) ([]string, error) {
	if strings.TrimSpace(req.Shell) == "" {
		if req.Stdin != "" {
			return nil, errors.New("stdin requires a shell command")
		}
		if len(req.Cmd) == 0 {
			return nil, errors.New("command is required")
		}
		return req.Cmd, nil
	}

	if req.Stdin == "" {
		return []string{"sh", "-c", req.Shell}, nil
	}
	if req.Workspace == "" {
		return nil, errors.New("stdin requires a workspace")
	}

	if err := os.WriteFile(filepath.Join(req.Workspace, stdinFileName), []byte(req.Stdin), 0o644); err != nil {
		return nil, fmt.Errorf("stage stdin: %w", err)
	}

	stdinPath := e.cfg.WorkingDir + "/" + stdinFileName
	return []string{"sh", "-c", fmt.Sprintf("(%s) < %s", req.Shell, stdinPath)}, nil
}

func truncate(output string, limit int) (string, bool) {
	if len(output) <= limit {
		return output, false
	}
	return output[:limit], true
}

// Close releases the Docker client.
func (e *DockerExecutor) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}
