package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-autograder-api/internal/dto"
	"github.com/noah-isme/gema-autograder-api/internal/feedback"
	"github.com/noah-isme/gema-autograder-api/internal/models"
	"github.com/noah-isme/gema-autograder-api/internal/observability"
	"github.com/noah-isme/gema-autograder-api/internal/repository"
)

// FeedbackService answers what a user may see of a submission's results.
type FeedbackService interface {
	SubmissionFeedback(ctx context.Context, userID, submissionID uint, query dto.FeedbackQuery) (feedback.SubmissionFeedback, error)
	GroupUltimateSubmission(ctx context.Context, userID, groupID uint) (dto.SubmissionResponse, error)
	UltimateSubmissions(ctx context.Context, userID, projectID uint, query dto.UltimateSubmissionsQuery) (dto.UltimateSubmissionsResult, error)
	InvalidateCache(ctx context.Context, submissionID uint) error
}

type feedbackService struct {
	projects    repository.ProjectRepository
	groups      repository.GroupRepository
	submissions repository.SubmissionRepository
	users       repository.UserRepository
	engine      feedback.Engine
	cache       *redis.Client
	cacheTTL    time.Duration
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewFeedbackService constructs the feedback service. A nil cache disables caching.
func NewFeedbackService(projects repository.ProjectRepository, groups repository.GroupRepository, submissions repository.SubmissionRepository, users repository.UserRepository, engine feedback.Engine, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) FeedbackService {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &feedbackService{
		projects:    projects,
		groups:      groups,
		submissions: submissions,
		users:       users,
		engine:      engine,
		cache:       cache,
		cacheTTL:    ttl,
		logger:      logger.With().Str("component", "feedback_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-autograder-api/internal/service/feedback"),
		now:         time.Now,
	}
}

func (s *feedbackService) SubmissionFeedback(ctx context.Context, userID, submissionID uint, query dto.FeedbackQuery) (feedback.SubmissionFeedback, error) {
	ctx, span := s.tracer.Start(ctx, "feedback.submission", trace.WithAttributes(
		attribute.Int64("submission.id", int64(submissionID)),
		attribute.String("feedback.category", query.FeedbackCategory),
	))
	defer span.End()

	category, err := feedback.ParseCategory(query.FeedbackCategory)
	if err != nil {
		span.SetStatus(codes.Error, "invalid category")
		return feedback.SubmissionFeedback{}, err
	}

	project, group, submission, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return feedback.SubmissionFeedback{}, err
	}

	if !s.engine.Roles().CanViewProject(userID, project) {
		span.SetStatus(codes.Error, "project not visible")
		return feedback.SubmissionFeedback{}, ErrForbidden
	}

	decision, err := s.engine.Decide(feedback.Request{
		UserID:     userID,
		Project:    project,
		Group:      group,
		Submission: submission,
		Category:   category,
		Now:        s.now(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decision failed")
		return feedback.SubmissionFeedback{}, err
	}
	observability.FeedbackDecisions().WithLabelValues(string(category), string(decision.Outcome)).Inc()

	if !decision.Allowed() {
		s.logger.Debug().
			Uint("user_id", userID).
			Uint("submission_id", submissionID).
			Str("category", category.String()).
			Str("role", decision.Role.String()).
			Str("reason", decision.Reason).
			Msg("feedback denied")
		span.SetStatus(codes.Error, "denied")
		return feedback.SubmissionFeedback{}, decision.Err()
	}

	cacheable := s.cache != nil && query.UseCache &&
		category == feedback.CategoryNormal &&
		submission.Status == models.SubmissionStatusFinishedGrading
	key := feedbackCacheKey(submission.ID, category)

	if cacheable {
		if cached, err := s.cache.Get(ctx, key).Result(); err == nil {
			var result feedback.SubmissionFeedback
			if unmarshalErr := json.Unmarshal([]byte(cached), &result); unmarshalErr == nil {
				observability.FeedbackCache().WithLabelValues("hit").Inc()
				span.SetAttributes(attribute.Bool("feedback.cache_hit", true))
				return result, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("failed to read feedback cache")
		}
		observability.FeedbackCache().WithLabelValues("miss").Inc()
	}

	result := feedback.Build(submission, feedback.NewTestIndex(project.AGTestSuites), decision.Mask)

	if cacheable {
		if payload, err := json.Marshal(result); err == nil {
			if err := s.cache.Set(ctx, key, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store feedback cache")
			}
		}
	}

	span.SetStatus(codes.Ok, "allowed")
	return result, nil
}

func (s *feedbackService) GroupUltimateSubmission(ctx context.Context, userID, groupID uint) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "feedback.group_ultimate", trace.WithAttributes(
		attribute.Int64("group.id", int64(groupID)),
	))
	defer span.End()

	group, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrGroupNotFound
		}
		return dto.SubmissionResponse{}, err
	}

	project, err := s.loadProject(ctx, group.ProjectID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	roles := s.engine.Roles()
	role := roles.Resolve(userID, project.Course)
	member := roles.IsGroupMember(userID, group)
	if !ultimateVisible(role, member, project, group, s.now()) {
		span.SetStatus(codes.Error, "forbidden")
		return dto.SubmissionResponse{}, ErrForbidden
	}

	selector := feedback.NewUltimateSubmissionSelector(feedback.NewTestIndex(project.AGTestSuites))
	var (
		ultimate models.Submission
		ok       bool
	)
	if member {
		ultimate, ok = selector.SelectFor(group, project.Policy(), userID)
	} else {
		ultimate, ok = selector.Select(group, project.Policy())
	}
	if !ok {
		return dto.SubmissionResponse{}, feedback.ErrNoEligibleSubmission
	}

	return dto.NewSubmissionResponse(ultimate), nil
}

// ultimateVisible mirrors who may learn which submission is a group's
// ultimate one. Staff always see their own group. Everyone else waits for
// the deadline, and students additionally need ultimate feedback unhidden.
func ultimateVisible(role feedback.Role, member bool, project models.Project, group models.Group, now time.Time) bool {
	if !member && !role.IsStaff() {
		return false
	}
	if role.IsStaff() && member {
		return true
	}
	if !feedback.DeadlinePassed(project, group, now) {
		return false
	}
	if role.IsStaff() {
		return true
	}
	return !project.HideUltimateSubmissionFdbk
}

func (s *feedbackService) UltimateSubmissions(ctx context.Context, userID, projectID uint, query dto.UltimateSubmissionsQuery) (dto.UltimateSubmissionsResult, error) {
	ctx, span := s.tracer.Start(ctx, "feedback.ultimate_submissions", trace.WithAttributes(
		attribute.Int64("project.id", int64(projectID)),
		attribute.Bool("feedback.full_results", query.FullResults),
	))
	defer span.End()

	project, err := s.loadProject(ctx, projectID)
	if err != nil {
		return dto.UltimateSubmissionsResult{}, err
	}

	now := s.now()
	role := s.engine.Roles().Resolve(userID, project.Course)
	if !ultimateListingVisible(role, project, now) {
		span.SetStatus(codes.Error, "forbidden")
		return dto.UltimateSubmissionsResult{}, ErrForbidden
	}

	page := query.Page
	if page < 1 {
		page = 1
	}
	pageSize := query.GroupsPerPage
	if pageSize <= 0 {
		pageSize = dto.DefaultGroupsPerPage
	}
	if pageSize > dto.MaxGroupsPerPage {
		pageSize = dto.MaxGroupsPerPage
	}

	filter := repository.GroupFilter{ProjectID: project.ID, Page: page, PageSize: pageSize}
	if !query.IncludeStaff {
		filter.ExcludeMemberIDs = courseStaffIDs(project.Course)
	}

	groups, total, err := s.groups.ListByProject(ctx, filter)
	if err != nil {
		span.RecordError(err)
		return dto.UltimateSubmissionsResult{}, err
	}

	usernames, err := s.usernames(ctx, groups)
	if err != nil {
		return dto.UltimateSubmissionsResult{}, err
	}

	index := feedback.NewTestIndex(project.AGTestSuites)
	selector := feedback.NewUltimateSubmissionSelector(index)
	policy := project.Policy()

	items := make([]dto.UltimateSubmissionEntry, 0, len(groups))
	for _, group := range groups {
		ultimate, ok := selector.Select(group, policy)
		if !ok {
			continue
		}

		pending := group.ExtendedDueDate != nil && group.ExtendedDueDate.After(now)
		groupResponse := dto.NewGroupResponse(group)

		for _, memberID := range groupResponse.MemberIDs {
			entry := dto.UltimateSubmissionEntry{
				UserID:   memberID,
				Username: usernames[memberID],
				Group:    groupResponse,
			}

			chosen := ultimate
			if !ultimate.CountsFor(memberID) {
				chosen, ok = selector.SelectFor(group, policy, memberID)
				if !ok {
					continue
				}
			}

			if !pending || query.IncludePendingExtensions {
				result := ultimateSubmissionResult(chosen, index, query.FullResults)
				entry.UltimateSubmission = &result
			}
			items = append(items, entry)
		}
	}

	totalPages := 0
	if total > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}

	return dto.UltimateSubmissionsResult{
		Items: items,
		Pagination: dto.PaginationMeta{
			Page:       page,
			PageSize:   pageSize,
			TotalItems: total,
			TotalPages: totalPages,
		},
	}, nil
}

// ultimateListingVisible lets admins list ultimate submissions at any time.
// Staff must wait for the closing time and unhidden ultimate feedback.
func ultimateListingVisible(role feedback.Role, project models.Project, now time.Time) bool {
	if role == feedback.RoleAdmin {
		return true
	}
	if !role.IsStaff() || project.HideUltimateSubmissionFdbk {
		return false
	}
	return project.ClosingTime == nil || project.ClosingTime.Before(now)
}

func ultimateSubmissionResult(submission models.Submission, index feedback.TestIndex, full bool) dto.UltimateSubmissionResponse {
	result := feedback.Build(submission, index, feedback.MaskFor(feedback.CategoryMax))
	results := dto.UltimateSubmissionResults{
		TotalPoints:         result.TotalPoints,
		TotalPointsPossible: result.TotalPointsPossible,
	}
	if full {
		results.Suites = result.Suites
	}
	return dto.UltimateSubmissionResponse{
		SubmissionResponse: dto.NewSubmissionResponse(submission),
		Results:            results,
	}
}

func courseStaffIDs(course models.Course) []uint {
	seen := map[uint]struct{}{}
	ids := make([]uint, 0)
	for _, membership := range course.Memberships {
		if membership.Role != models.CourseRoleStaff && membership.Role != models.CourseRoleAdmin {
			continue
		}
		if _, ok := seen[membership.UserID]; ok {
			continue
		}
		seen[membership.UserID] = struct{}{}
		ids = append(ids, membership.UserID)
	}
	return ids
}

func (s *feedbackService) usernames(ctx context.Context, groups []models.Group) (map[uint]string, error) {
	ids := make([]uint, 0)
	for _, group := range groups {
		ids = append(ids, group.MemberIDs()...)
	}

	users, err := s.users.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	names := make(map[uint]string, len(users))
	for _, user := range users {
		names[user.ID] = user.Username
	}
	return names, nil
}

func (s *feedbackService) InvalidateCache(ctx context.Context, submissionID uint) error {
	if s.cache == nil {
		return nil
	}
	keys := make([]string, 0, len(feedback.Categories))
	for _, category := range feedback.Categories {
		keys = append(keys, feedbackCacheKey(submissionID, category))
	}
	if err := s.cache.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate feedback cache: %w", err)
	}
	return nil
}

// loadSubmission returns the submission as found in its group's snapshot,
// so the engine and the renderer see the same results.
func (s *feedbackService) loadSubmission(ctx context.Context, submissionID uint) (models.Project, models.Group, models.Submission, error) {
	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Project{}, models.Group{}, models.Submission{}, ErrSubmissionNotFound
		}
		return models.Project{}, models.Group{}, models.Submission{}, err
	}

	group, err := s.groups.GetByID(ctx, submission.GroupID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Project{}, models.Group{}, models.Submission{}, ErrGroupNotFound
		}
		return models.Project{}, models.Group{}, models.Submission{}, err
	}

	project, err := s.loadProject(ctx, group.ProjectID)
	if err != nil {
		return models.Project{}, models.Group{}, models.Submission{}, err
	}

	for _, candidate := range group.Submissions {
		if candidate.ID == submissionID {
			return project, group, candidate, nil
		}
	}

	// Created after the group snapshot was read.
	withResults, err := s.submissions.GetWithResults(ctx, submissionID)
	if err != nil {
		return models.Project{}, models.Group{}, models.Submission{}, err
	}
	group.Submissions = append([]models.Submission{withResults}, group.Submissions...)
	return project, group, withResults, nil
}

func (s *feedbackService) loadProject(ctx context.Context, projectID uint) (models.Project, error) {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Project{}, ErrProjectNotFound
		}
		return models.Project{}, err
	}
	return project, nil
}

func feedbackCacheKey(submissionID uint, category feedback.Category) string {
	return fmt.Sprintf("feedback:submission:%d:%s", submissionID, category)
}
