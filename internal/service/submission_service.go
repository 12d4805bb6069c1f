package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-autograder-api/internal/dto"
	"github.com/noah-isme/gema-autograder-api/internal/events"
	"github.com/noah-isme/gema-autograder-api/internal/feedback"
	"github.com/noah-isme/gema-autograder-api/internal/models"
	"github.com/noah-isme/gema-autograder-api/internal/observability"
	"github.com/noah-isme/gema-autograder-api/internal/repository"
)

// FileUploader abstracts uploading binary data and returning a URL.
type FileUploader interface {
	Upload(ctx context.Context, folder, name string, reader io.Reader) (string, error)
}

// SubmissionEvents publishes submission lifecycle events.
type SubmissionEvents interface {
	SubmissionReceived(ctx context.Context, event events.SubmissionEvent) error
	SubmissionStatusChanged(ctx context.Context, event events.SubmissionEvent) error
}

// FeedbackCacheInvalidator drops cached feedback for a submission.
type FeedbackCacheInvalidator interface {
	InvalidateCache(ctx context.Context, submissionID uint) error
}

// SubmissionService orchestrates submission workflows.
type SubmissionService interface {
	List(ctx context.Context, userID, groupID uint) ([]dto.SubmissionWithResultsResponse, error)
	Create(ctx context.Context, userID, groupID uint, files []*multipart.FileHeader) (dto.SubmissionResponse, error)
	RemoveFromQueue(ctx context.Context, userID, submissionID uint) (dto.SubmissionResponse, error)
	UpdateLimits(ctx context.Context, userID, submissionID uint, payload dto.SubmissionLimitsUpdateRequest) (dto.SubmissionResponse, error)
	UpdateStatus(ctx context.Context, submissionID uint, payload dto.SubmissionStatusUpdateRequest) (dto.SubmissionResponse, error)
}

type submissionService struct {
	submissions repository.SubmissionRepository
	groups      repository.GroupRepository
	projects    repository.ProjectRepository
	engine      feedback.Engine
	validator   *validator.Validate
	uploader    FileUploader
	events      SubmissionEvents
	cache       FeedbackCacheInvalidator
	locks       *keyedMutex
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewSubmissionService constructs a SubmissionService instance.
func NewSubmissionService(subRepo repository.SubmissionRepository, groupRepo repository.GroupRepository, projectRepo repository.ProjectRepository, engine feedback.Engine, validate *validator.Validate, uploader FileUploader, publisher SubmissionEvents, cache FeedbackCacheInvalidator, logger zerolog.Logger) SubmissionService {
	return &submissionService{
		submissions: subRepo,
		groups:      groupRepo,
		projects:    projectRepo,
		engine:      engine,
		validator:   validate,
		uploader:    uploader,
		events:      publisher,
		cache:       cache,
		locks:       newKeyedMutex(),
		logger:      logger.With().Str("component", "submission_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-autograder-api/internal/service/submission"),
		now:         time.Now,
	}
}

// List returns the group's submissions, newest first, each with the feedback
// tier its viewer gets by default: max for staff in the group, staff_viewer
// for other staff, and normal or past_submission_limit for students.
func (s *submissionService) List(ctx context.Context, userID, groupID uint) ([]dto.SubmissionWithResultsResponse, error) {
	project, group, err := s.loadGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	roles := s.engine.Roles()
	role := roles.Resolve(userID, project.Course)
	member := roles.IsGroupMember(userID, group)
	if !roles.CanViewProject(userID, project) || (!member && !role.IsStaff()) {
		return nil, ErrForbidden
	}

	index := feedback.NewTestIndex(project.AGTestSuites)
	now := s.now()
	responses := make([]dto.SubmissionWithResultsResponse, 0, len(group.Submissions))
	for _, submission := range group.Submissions {
		response := dto.SubmissionWithResultsResponse{SubmissionResponse: dto.NewSubmissionResponse(submission)}

		decision, err := s.engine.Decide(feedback.Request{
			UserID:     userID,
			Project:    project,
			Group:      group,
			Submission: submission,
			Category:   listCategory(role, member, submission),
			Now:        now,
		})
		if err != nil {
			return nil, err
		}
		if decision.Allowed() {
			result := feedback.Build(submission, index, decision.Mask)
			response.Results = &result
		}
		responses = append(responses, response)
	}

	return responses, nil
}

func listCategory(role feedback.Role, member bool, submission models.Submission) feedback.Category {
	switch {
	case role.IsStaff() && member:
		return feedback.CategoryMax
	case role.IsStaff():
		return feedback.CategoryStaffViewer
	case submission.IsPastDailyLimit:
		return feedback.CategoryPastLimit
	default:
		return feedback.CategoryNormal
	}
}

func (s *submissionService) Create(ctx context.Context, userID, groupID uint, files []*multipart.FileHeader) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "submission.create", trace.WithAttributes(
		attribute.Int64("group.id", int64(groupID)),
		attribute.Int("submission.files", len(files)),
	))
	defer span.End()

	project, created, err := s.create(ctx, userID, groupID, files)
	switch {
	case err == nil:
		observability.SubmissionIntake().WithLabelValues("accepted").Inc()
	case IsIntakeViolation(err):
		observability.SubmissionIntake().WithLabelValues("rejected").Inc()
		s.logger.Info().Uint("group_id", groupID).Uint("user_id", userID).Err(err).Msg("submission rejected")
		span.SetStatus(codes.Error, "rejected")
		return dto.SubmissionResponse{}, err
	default:
		observability.SubmissionIntake().WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "intake failed")
		return dto.SubmissionResponse{}, err
	}

	if err := s.events.SubmissionReceived(ctx, submissionEvent(created, project.ID)); err != nil {
		s.logger.Warn().Err(err).Uint("submission_id", created.ID).Msg("failed to publish submission received, graders will find it on their next sweep")
	}

	s.logger.Info().
		Uint("submission_id", created.ID).
		Uint("group_id", created.GroupID).
		Bool("past_daily_limit", created.IsPastDailyLimit).
		Bool("bonus", created.IsBonusSubmission).
		Msg("submission created")
	span.SetStatus(codes.Ok, "accepted")

	return dto.NewSubmissionResponse(created), nil
}

func (s *submissionService) create(ctx context.Context, userID, groupID uint, files []*multipart.FileHeader) (models.Project, models.Submission, error) {
	if len(files) == 0 {
		return models.Project{}, models.Submission{}, ErrNoFiles
	}
	for _, file := range files {
		if err := validateFileType(file); err != nil {
			return models.Project{}, models.Submission{}, err
		}
	}

	project, group, err := s.loadGroup(ctx, groupID)
	if err != nil {
		return models.Project{}, models.Submission{}, err
	}

	roles := s.engine.Roles()
	if !roles.IsGroupMember(userID, group) || !roles.CanViewProject(userID, project) {
		return models.Project{}, models.Submission{}, ErrForbidden
	}

	unlock := s.locks.Lock(group.ID)
	defer unlock()

	var created models.Submission
	err = s.submissions.WithinGroupTx(ctx, group.ID, func(store repository.IntakeStore, locked models.Group) error {
		submission, err := s.admit(ctx, store, project, locked, userID)
		if err != nil {
			return err
		}

		if err := store.CreateSubmission(ctx, &submission); err != nil {
			return err
		}

		urls, err := s.uploadFiles(ctx, submission, files)
		if err != nil {
			return err
		}
		submission.SubmittedFiles = datatypes.JSONSlice[string](urls)
		if err := store.UpdateSubmission(ctx, &submission); err != nil {
			return err
		}

		created = submission
		return nil
	})
	if err != nil {
		return models.Project{}, models.Submission{}, err
	}

	return project, created, nil
}

// admit applies the intake rules to a new submission from userID. It runs
// with the group row locked and may spend the group's bonus submissions and
// the members' late days through store.
func (s *submissionService) admit(ctx context.Context, store repository.IntakeStore, project models.Project, group models.Group, userID uint) (models.Submission, error) {
	active, err := store.HasActiveSubmission(ctx, group.ID)
	if err != nil {
		return models.Submission{}, err
	}
	if active {
		return models.Submission{}, ErrActiveSubmission
	}

	now := s.now()
	submission := models.Submission{
		GroupID:                group.ID,
		SubmitterID:            userID,
		Timestamp:              now,
		Status:                 models.SubmissionStatusReceived,
		CountTowardsDailyLimit: true,
		CountTowardsTotalLimit: true,
		DoesNotCountFor:        datatypes.JSONSlice[uint]{},
		SubmittedFiles:         datatypes.JSONSlice[string]{},
	}

	pastLimit, err := s.pastDailyLimit(ctx, store, project, group, now)
	if err != nil {
		return models.Submission{}, err
	}
	if pastLimit && group.BonusSubmissionsRemaining > 0 {
		group.BonusSubmissionsRemaining--
		if err := store.SaveGroup(ctx, &group); err != nil {
			return models.Submission{}, err
		}
		submission.IsBonusSubmission = true
		pastLimit = false
	}
	submission.IsPastDailyLimit = pastLimit

	// Staff in the group are exempt from every remaining rule.
	if s.engine.Roles().Resolve(userID, project.Course).IsStaff() {
		return submission, nil
	}

	if project.DisallowStudentSubmissions {
		return models.Submission{}, ErrSubmissionsDisabled
	}

	if project.ClosingTime != nil {
		deadline := *feedback.EffectiveClosingTime(project, group)
		if now.After(deadline) {
			excluded, err := s.spendLateDays(ctx, store, project, &group, deadline, now)
			if err != nil {
				return models.Submission{}, err
			}
			submission.DoesNotCountFor = datatypes.JSONSlice[uint](excluded)
			if !submission.CountsFor(userID) {
				return models.Submission{}, ErrOutOfLateDays
			}
		}
	}

	if pastLimit && !project.AllowSubmissionsPastLimit {
		return models.Submission{}, ErrPastDailyLimit
	}

	if project.TotalSubmissionLimit != nil {
		count, err := store.CountTowardsTotalLimit(ctx, group.ID)
		if err != nil {
			return models.Submission{}, err
		}
		if count >= int64(*project.TotalSubmissionLimit) {
			return models.Submission{}, ErrTotalLimitReached
		}
	}

	return submission, nil
}

func (s *submissionService) pastDailyLimit(ctx context.Context, store repository.IntakeStore, project models.Project, group models.Group, now time.Time) (bool, error) {
	if project.SubmissionLimitPerDay == nil {
		return false, nil
	}

	start, end, err := project.DailyLimitWindow(now)
	if err != nil {
		return false, err
	}
	count, err := store.CountTowardsDailyLimit(ctx, group.ID, start, end)
	if err != nil {
		return false, err
	}

	limit := *project.SubmissionLimitPerDay
	if project.GroupsCombineDailySubmissions {
		limit *= len(group.Memberships)
	}
	return count >= int64(limit), nil
}

// spendLateDays charges each member the whole days they are late by and
// returns the members who could not pay. Days already spent on this project
// push that member's own deadline back.
func (s *submissionService) spendLateDays(ctx context.Context, store repository.IntakeStore, project models.Project, group *models.Group, deadline, now time.Time) ([]uint, error) {
	if project.Course.NumLateDays == 0 || !project.AllowLateDays {
		return nil, ErrDeadlinePassed
	}

	excluded := make([]uint, 0)
	for _, memberID := range group.MemberIDs() {
		used := group.LateDaysUsedBy(memberID)
		memberDeadline := deadline.Add(time.Duration(used) * 24 * time.Hour)
		if memberDeadline.After(now) {
			continue
		}

		needed := int(now.Sub(memberDeadline)/(24*time.Hour)) + 1
		remaining, err := store.LateDaysRemaining(ctx, project.CourseID, memberID, project.Course.NumLateDays)
		if err != nil {
			return nil, err
		}
		if remaining.LateDaysRemaining < needed {
			excluded = append(excluded, memberID)
			continue
		}

		remaining.LateDaysRemaining -= needed
		if err := store.SaveLateDaysRemaining(ctx, &remaining); err != nil {
			return nil, err
		}
		group.SetLateDaysUsed(memberID, used+needed)
	}

	if err := store.SaveGroup(ctx, group); err != nil {
		return nil, err
	}
	return excluded, nil
}

func (s *submissionService) uploadFiles(ctx context.Context, submission models.Submission, files []*multipart.FileHeader) ([]string, error) {
	folder := fmt.Sprintf("groups/%d/submissions/%d", submission.GroupID, submission.ID)
	urls := make([]string, 0, len(files))
	for _, file := range files {
		reader, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open file: %w", err)
		}
		url, err := s.uploader.Upload(ctx, folder, file.Filename, reader)
		reader.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to upload file: %w", err)
		}
		urls = append(urls, url)
	}
	return urls, nil
}

func (s *submissionService) RemoveFromQueue(ctx context.Context, userID, submissionID uint) (dto.SubmissionResponse, error) {
	submission, err := s.getSubmission(ctx, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	project, group, err := s.loadGroup(ctx, submission.GroupID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	roles := s.engine.Roles()
	if !roles.IsGroupMember(userID, group) || !roles.CanViewProject(userID, project) {
		return dto.SubmissionResponse{}, ErrForbidden
	}

	unlock := s.locks.Lock(group.ID)
	defer unlock()

	var removed models.Submission
	err = s.submissions.WithinGroupTx(ctx, group.ID, func(store repository.IntakeStore, locked models.Group) error {
		current, err := store.GetSubmission(ctx, submissionID)
		if err != nil {
			return err
		}
		if current.Status != models.SubmissionStatusReceived && current.Status != models.SubmissionStatusQueued {
			return fmt.Errorf("%w: cannot remove a %s submission from the queue", ErrInvalidStatusTransition, current.Status)
		}

		if current.IsBonusSubmission {
			locked.BonusSubmissionsRemaining++
			if err := store.SaveGroup(ctx, &locked); err != nil {
				return err
			}
			current.IsBonusSubmission = false
		}

		current.Status = models.SubmissionStatusRemovedFromQueue
		if err := store.UpdateSubmission(ctx, &current); err != nil {
			return err
		}
		removed = current
		return nil
	})
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	if err := s.events.SubmissionStatusChanged(ctx, submissionEvent(removed, project.ID)); err != nil {
		s.logger.Warn().Err(err).Uint("submission_id", removed.ID).Msg("failed to publish status change")
	}
	s.logger.Info().Uint("submission_id", removed.ID).Msg("submission removed from queue")

	return dto.NewSubmissionResponse(removed), nil
}

func (s *submissionService) UpdateLimits(ctx context.Context, userID, submissionID uint, payload dto.SubmissionLimitsUpdateRequest) (dto.SubmissionResponse, error) {
	submission, err := s.getSubmission(ctx, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	project, _, err := s.loadGroup(ctx, submission.GroupID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if s.engine.Roles().Resolve(userID, project.Course) != feedback.RoleAdmin {
		return dto.SubmissionResponse{}, ErrForbidden
	}

	if payload.CountTowardsDailyLimit != nil {
		submission.CountTowardsDailyLimit = *payload.CountTowardsDailyLimit
	}
	if payload.CountTowardsTotalLimit != nil {
		submission.CountTowardsTotalLimit = *payload.CountTowardsTotalLimit
	}

	if err := s.submissions.Update(ctx, &submission); err != nil {
		return dto.SubmissionResponse{}, err
	}

	s.logger.Info().Uint("submission_id", submission.ID).Msg("submission limits updated")
	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) UpdateStatus(ctx context.Context, submissionID uint, payload dto.SubmissionStatusUpdateRequest) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	submission, err := s.getSubmission(ctx, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	next := models.SubmissionStatus(payload.Status)
	if !submission.Status.CanTransitionTo(next) {
		return dto.SubmissionResponse{}, fmt.Errorf("%w: %s to %s", ErrInvalidStatusTransition, submission.Status, next)
	}

	moved, err := s.submissions.TransitionStatus(ctx, submission.ID, submission.Status, next, payload.ErrorMsg)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if !moved {
		return dto.SubmissionResponse{}, fmt.Errorf("%w: submission %d changed concurrently", ErrInvalidStatusTransition, submission.ID)
	}
	submission.Status = next
	if payload.ErrorMsg != "" {
		submission.ErrorMsg = payload.ErrorMsg
	}

	if s.cache != nil && (next == models.SubmissionStatusFinishedGrading || next == models.SubmissionStatusError) {
		if err := s.cache.InvalidateCache(ctx, submission.ID); err != nil {
			s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Msg("failed to invalidate feedback cache")
		}
	}

	if err := s.events.SubmissionStatusChanged(ctx, submissionEvent(submission, s.projectIDFor(ctx, submission.GroupID))); err != nil {
		s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Msg("failed to publish status change")
	}

	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) getSubmission(ctx context.Context, id uint) (models.Submission, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, ErrSubmissionNotFound
		}
		return models.Submission{}, err
	}
	return submission, nil
}

func (s *submissionService) loadGroup(ctx context.Context, groupID uint) (models.Project, models.Group, error) {
	group, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Project{}, models.Group{}, ErrGroupNotFound
		}
		return models.Project{}, models.Group{}, err
	}

	project, err := s.projects.GetByID(ctx, group.ProjectID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Project{}, models.Group{}, ErrProjectNotFound
		}
		return models.Project{}, models.Group{}, err
	}

	return project, group, nil
}

// projectIDFor resolves the project for event payloads. Lookup failures
// only cost the event its project id.
func (s *submissionService) projectIDFor(ctx context.Context, groupID uint) uint {
	group, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return 0
	}
	return group.ProjectID
}

func submissionEvent(submission models.Submission, projectID uint) events.SubmissionEvent {
	return events.SubmissionEvent{
		SubmissionID: submission.ID,
		GroupID:      submission.GroupID,
		ProjectID:    projectID,
		Status:       submission.Status,
	}
}

var allowedSubmissionTypes = []string{
	"text/plain",
	"application/zip",
	"application/x-tar",
	"application/gzip",
	"application/pdf",
	"application/json",
}

func validateFileType(file *multipart.FileHeader) error {
	reader, err := file.Open()
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer reader.Close()

	mime, err := mimetype.DetectReader(reader)
	if err != nil {
		return fmt.Errorf("failed to detect file type: %w", err)
	}

	for _, allowed := range allowedSubmissionTypes {
		if mime.Is(allowed) {
			return nil
		}
	}
	for parent := mime.Parent(); parent != nil; parent = parent.Parent() {
		if parent.Is("text/plain") {
			return nil
		}
	}

	return fmt.Errorf("%w: %s", ErrUnsupportedFileType, mime.String())
}
