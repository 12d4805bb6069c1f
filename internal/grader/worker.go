package grader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/gema-autograder-api/internal/dto"
	"github.com/noah-isme/gema-autograder-api/internal/events"
	"github.com/noah-isme/gema-autograder-api/internal/feedback"
	"github.com/noah-isme/gema-autograder-api/internal/models"
	"github.com/noah-isme/gema-autograder-api/internal/observability"
	"github.com/noah-isme/gema-autograder-api/internal/repository"
	"github.com/noah-isme/gema-autograder-api/internal/service"
	"github.com/noah-isme/gema-autograder-api/pkg/cloudinary"
	dockerexec "github.com/noah-isme/gema-autograder-api/pkg/docker"
)

// StatusUpdater moves a submission through the grading pipeline.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, submissionID uint, payload dto.SubmissionStatusUpdateRequest) (dto.SubmissionResponse, error)
}

// FileFetcher downloads a submitted file.
type FileFetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// Consumer delivers newly received submissions.
type Consumer interface {
	ConsumeSubmissions(ctx context.Context, queue string, handler func(context.Context, events.SubmissionEvent)) error
}

// Config tunes how the worker runs test commands.
type Config struct {
	Queue          string
	Image          string
	Concurrency    int
	MemoryLimitMB  int
	CPUShares      int
	SetupTimeout   time.Duration
	MaxOutputBytes int
	WorkspaceRoot  string
	// SweepInterval is how often the database is checked for submissions
	// whose received event never reached a grader.
	SweepInterval time.Duration
}

// finalizeTimeout bounds recording a grading outcome after the worker has
// been asked to stop.
const finalizeTimeout = 30 * time.Second

var pendingStatuses = []models.SubmissionStatus{models.SubmissionStatusReceived, models.SubmissionStatusQueued}

// Worker grades submissions by running every AG test suite of the project
// in its own sandbox.
type Worker struct {
	submissions repository.SubmissionRepository
	groups      repository.GroupRepository
	projects    repository.ProjectRepository
	statuses    StatusUpdater
	files       FileFetcher
	executor    dockerexec.Executor
	cfg         Config
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewWorker constructs a grading worker.
func NewWorker(submissions repository.SubmissionRepository, groups repository.GroupRepository, projects repository.ProjectRepository, statuses StatusUpdater, files FileFetcher, executor dockerexec.Executor, cfg Config, logger zerolog.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = os.TempDir()
	}
	if cfg.SetupTimeout <= 0 {
		cfg.SetupTimeout = 10 * time.Minute
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = dockerexec.DefaultMaxOutputBytes
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}

	return &Worker{
		submissions: submissions,
		groups:      groups,
		projects:    projects,
		statuses:    statuses,
		files:       files,
		executor:    executor,
		cfg:         cfg,
		logger:      logger.With().Str("component", "grader").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-autograder-api/internal/grader"),
		now:         time.Now,
	}
}

// Run subscribes to received submissions and blocks until ctx is cancelled.
// Submissions already waiting in the database are graded at startup, and
// the database is swept again every SweepInterval for ones whose event was
// lost.
func (w *Worker) Run(ctx context.Context, consumer Consumer) error {
	err := consumer.ConsumeSubmissions(ctx, w.cfg.Queue, func(ctx context.Context, event events.SubmissionEvent) {
		if err := w.Grade(ctx, event.SubmissionID); err != nil {
			logger := observability.Logger(ctx, w.logger)
			logger.Error().Err(err).Uint("submission_id", event.SubmissionID).Msg("grading failed")
		}
	})
	if err != nil {
		return fmt.Errorf("consume submissions: %w", err)
	}

	w.logger.Info().Str("queue", w.cfg.Queue).Int("concurrency", w.cfg.Concurrency).Msg("grader started")

	w.sweep(ctx, time.Time{})

	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// Anything younger than one interval may still be on its way
			// through the queue.
			w.sweep(ctx, w.now().Add(-w.cfg.SweepInterval))
		}
	}
}

// sweep grades pending submissions submitted before cutoff, oldest first. A
// zero cutoff takes every pending submission. Status transitions are
// conditional, so a submission delivered by the queue at the same time is
// graded only once.
func (w *Worker) sweep(ctx context.Context, cutoff time.Time) {
	filter := repository.SubmissionFilter{Statuses: pendingStatuses, OldestFirst: true}
	if !cutoff.IsZero() {
		filter.SubmittedBefore = &cutoff
	}

	pending, err := w.submissions.List(ctx, filter)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("failed to list pending submissions")
		}
		return
	}
	if len(pending) == 0 {
		return
	}

	w.logger.Info().Int("pending", len(pending)).Msg("grading submissions found in the database")
	for _, submission := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := w.Grade(ctx, submission.ID); err != nil {
			w.logger.Error().Err(err).Uint("submission_id", submission.ID).Msg("grading failed")
		}
	}
}

// Grade runs the project's test suites against one submission and stores the
// results. Submissions removed from the queue before grading starts are
// skipped without error.
func (w *Worker) Grade(parent context.Context, submissionID uint) error {
	ctx, span := w.tracer.Start(parent, "grader.grade", trace.WithAttributes(
		attribute.Int64("submission.id", int64(submissionID)),
	))
	defer span.End()

	start := w.now()
	logger := observability.Logger(ctx, w.logger).With().Uint("submission_id", submissionID).Logger()

	submission, err := w.submissions.GetByID(ctx, submissionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("load submission: %w", err)
	}

	steps := stepsToGrading(submission.Status)
	if len(steps) == 0 {
		logger.Info().Str("status", string(submission.Status)).Msg("submission is not waiting to be graded")
		observability.GradingRuns().WithLabelValues("skipped").Inc()
		return nil
	}

	for _, next := range steps {
		if err := w.advance(ctx, submissionID, next, ""); err != nil {
			if errors.Is(err, service.ErrInvalidStatusTransition) {
				logger.Info().Str("status", string(next)).Msg("submission left the queue before grading")
				observability.GradingRuns().WithLabelValues("skipped").Inc()
				return nil
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	results, err := w.run(ctx, submissionID)

	// The outcome is recorded even when ctx was cancelled mid-grade so the
	// submission does not stay being_graded and block its group.
	final, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err == nil {
		err = w.submissions.SaveResults(final, submissionID, results)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.GradingRuns().WithLabelValues(string(models.SubmissionStatusError)).Inc()
		if markErr := w.advance(final, submissionID, models.SubmissionStatusError, err.Error()); markErr != nil {
			logger.Error().Err(markErr).Msg("failed to mark submission as error")
		}
		return err
	}

	if err := w.advance(final, submissionID, models.SubmissionStatusFinishedGrading, ""); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	elapsed := w.now().Sub(start)
	observability.GradingRuns().WithLabelValues(string(models.SubmissionStatusFinishedGrading)).Inc()
	observability.GradingDuration().Observe(elapsed.Seconds())
	span.SetStatus(codes.Ok, "graded")
	logger.Info().Int("suites", len(results)).Dur("elapsed", elapsed).Msg("submission graded")
	return nil
}

// stepsToGrading lists the transitions that bring a pending submission to
// being_graded. It is empty for submissions that are not pending.
func stepsToGrading(status models.SubmissionStatus) []models.SubmissionStatus {
	switch status {
	case models.SubmissionStatusReceived:
		return []models.SubmissionStatus{models.SubmissionStatusQueued, models.SubmissionStatusBeingGraded}
	case models.SubmissionStatusQueued:
		return []models.SubmissionStatus{models.SubmissionStatusBeingGraded}
	default:
		return nil
	}
}

func (w *Worker) advance(ctx context.Context, submissionID uint, next models.SubmissionStatus, errorMsg string) error {
	_, err := w.statuses.UpdateStatus(ctx, submissionID, dto.SubmissionStatusUpdateRequest{
		Status:   string(next),
		ErrorMsg: truncateMessage(errorMsg),
	})
	return err
}

func (w *Worker) run(ctx context.Context, submissionID uint) ([]models.AGTestSuiteResult, error) {
	submission, err := w.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("load submission: %w", err)
	}
	group, err := w.groups.GetByID(ctx, submission.GroupID)
	if err != nil {
		return nil, fmt.Errorf("load group: %w", err)
	}
	project, err := w.projects.GetByID(ctx, group.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}

	staging, err := os.MkdirTemp(w.cfg.WorkspaceRoot, "submission-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(staging)

	for _, url := range submission.SubmittedFiles {
		if err := w.download(ctx, url, staging); err != nil {
			return nil, err
		}
	}

	results := make([]models.AGTestSuiteResult, len(project.AGTestSuites))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for i, suite := range project.AGTestSuites {
		g.Go(func() error {
			result, err := w.runSuite(gctx, staging, suite)
			if err != nil {
				return fmt.Errorf("suite %q: %w", suite.Name, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func (w *Worker) download(ctx context.Context, url, dir string) error {
	reader, err := w.files.Fetch(ctx, url)
	if err != nil {
		return err
	}
	defer reader.Close()

	name := filepath.Base(cloudinary.OriginalName(url))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("stage %s: %w", name, err)
	}
	if _, err := io.Copy(file, reader); err != nil {
		file.Close()
		return fmt.Errorf("stage %s: %w", name, err)
	}
	return file.Close()
}

// runSuite grades one suite in a private copy of the submitted files. Test
// cases run even when the setup command fails; its outcome is recorded for
// feedback.
func (w *Worker) runSuite(ctx context.Context, staging string, suite models.AGTestSuite) (models.AGTestSuiteResult, error) {
	workspace, err := os.MkdirTemp(w.cfg.WorkspaceRoot, "suite-")
	if err != nil {
		return models.AGTestSuiteResult{}, fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(workspace)

	if err := copyFiles(staging, workspace); err != nil {
		return models.AGTestSuiteResult{}, err
	}

	result := models.AGTestSuiteResult{AGTestSuiteID: suite.ID}
	if strings.TrimSpace(suite.SetupSuiteCmd) != "" {
		out, err := w.exec(ctx, workspace, suite.SetupSuiteCmd, "", w.cfg.SetupTimeout, map[string]string{
			"autograder.suite_id": strconv.FormatUint(uint64(suite.ID), 10),
		})
		if err != nil {
			return models.AGTestSuiteResult{}, fmt.Errorf("setup: %w", err)
		}
		result.SetupReturnCode = returnCode(out)
		result.SetupTimedOut = out.TimedOut
		result.SetupStdout = out.Stdout
		result.SetupStderr = out.Stderr
		result.SetupStdoutTruncated = out.StdoutTruncated
		result.SetupStderrTruncated = out.StderrTruncated
	}

	for _, testCase := range suite.Cases {
		caseResult := models.AGTestCaseResult{AGTestCaseID: testCase.ID}
		for _, cmd := range testCase.Commands {
			cmdResult, err := w.runCommand(ctx, workspace, cmd)
			if err != nil {
				return models.AGTestSuiteResult{}, fmt.Errorf("command %q: %w", cmd.Name, err)
			}
			caseResult.CommandResults = append(caseResult.CommandResults, cmdResult)
		}
		result.CaseResults = append(result.CaseResults, caseResult)
	}

	return result, nil
}

func (w *Worker) runCommand(ctx context.Context, workspace string, cmd models.AGTestCommand) (models.AGTestCommandResult, error) {
	out, err := w.exec(ctx, workspace, cmd.Cmd, cmd.Stdin, time.Duration(cmd.TimeLimitSeconds)*time.Second, map[string]string{
		"autograder.command_id": strconv.FormatUint(uint64(cmd.ID), 10),
	})
	if err != nil {
		return models.AGTestCommandResult{}, err
	}

	result := models.AGTestCommandResult{
		AGTestCommandID: cmd.ID,
		ReturnCode:      returnCode(out),
		TimedOut:        out.TimedOut,
		Stdout:          out.Stdout,
		Stderr:          out.Stderr,
		StdoutTruncated: out.StdoutTruncated,
		StderrTruncated: out.StderrTruncated,
	}

	if cmd.ExpectedReturnCode.Checked() {
		correct := result.ReturnCode != nil && cmd.ExpectedReturnCode.Matches(*result.ReturnCode)
		result.ReturnCodeCorrect = &correct
	}

	opts := feedback.DiffOptionsFor(cmd)
	if cmd.ExpectedStdoutSource.Checked() {
		correct := feedback.OutputsMatch(cmd.ExpectedStdout, out.Stdout, opts)
		result.StdoutCorrect = &correct
	}
	if cmd.ExpectedStderrSource.Checked() {
		correct := feedback.OutputsMatch(cmd.ExpectedStderr, out.Stderr, opts)
		result.StderrCorrect = &correct
	}

	return result, nil
}

func (w *Worker) exec(ctx context.Context, workspace, shell, stdin string, timeout time.Duration, labels map[string]string) (dockerexec.ExecutionResult, error) {
	return w.executor.Run(ctx, dockerexec.ExecutionRequest{
		Image:           w.cfg.Image,
		Shell:           shell,
		Stdin:           stdin,
		MaxOutputBytes:  w.cfg.MaxOutputBytes,
		Timeout:         timeout,
		Workspace:       workspace,
		MemoryLimitMB:   int64(w.cfg.MemoryLimitMB),
		CPUShares:       int64(w.cfg.CPUShares),
		NetworkDisabled: true,
		Labels:          labels,
	})
}

// returnCode is nil for processes killed by the time limit.
func returnCode(out dockerexec.ExecutionResult) *int {
	if out.TimedOut {
		return nil
	}
	code := out.ExitCode
	return &code
}

func copyFiles(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(src, entry.Name()))
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dst, entry.Name()), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

const maxErrorMessage = 4000

// truncateMessage caps msg at maxErrorMessage bytes without splitting a rune.
func truncateMessage(msg string) string {
	if len(msg) <= maxErrorMessage {
		return msg
	}
	cut := maxErrorMessage
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
