package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-autograder-api/internal/models"
)

// SubmissionFilter allows narrowing submission queries.
type SubmissionFilter struct {
	GroupID  *uint
	Status   *models.SubmissionStatus
	Statuses []models.SubmissionStatus
	// SubmittedBefore keeps submissions whose timestamp is strictly earlier.
	SubmittedBefore *time.Time
	// OldestFirst reverses the default newest-first order.
	OldestFirst bool
}

// SubmissionRepository defines data operations for submissions.
type SubmissionRepository interface {
	List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, error)
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	GetWithResults(ctx context.Context, id uint) (models.Submission, error)
	Update(ctx context.Context, submission *models.Submission) error
	// TransitionStatus moves the submission from one status to another. It
	// reports false when the submission was no longer in the from status.
	TransitionStatus(ctx context.Context, id uint, from, to models.SubmissionStatus, errorMsg string) (bool, error)
	SaveResults(ctx context.Context, submissionID uint, results []models.AGTestSuiteResult) error
	// WithinGroupTx runs fn in a transaction holding a row lock on the group.
	// Everything fn does through the store commits or rolls back together.
	WithinGroupTx(ctx context.Context, groupID uint, fn func(store IntakeStore, group models.Group) error) error
}

// IntakeStore is the transactional view used while accepting or withdrawing
// a submission.
type IntakeStore interface {
	HasActiveSubmission(ctx context.Context, groupID uint) (bool, error)
	CountTowardsDailyLimit(ctx context.Context, groupID uint, start, end time.Time) (int64, error)
	CountTowardsTotalLimit(ctx context.Context, groupID uint) (int64, error)
	LateDaysRemaining(ctx context.Context, courseID, userID uint, initial int) (models.LateDaysRemaining, error)
	SaveLateDaysRemaining(ctx context.Context, remaining *models.LateDaysRemaining) error
	SaveGroup(ctx context.Context, group *models.Group) error
	GetSubmission(ctx context.Context, id uint) (models.Submission, error)
	CreateSubmission(ctx context.Context, submission *models.Submission) error
	UpdateSubmission(ctx context.Context, submission *models.Submission) error
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, error) {
	query := r.db.WithContext(ctx).Model(&models.Submission{})

	if filter.GroupID != nil {
		query = query.Where("group_id = ?", *filter.GroupID)
	}

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}

	if filter.SubmittedBefore != nil {
		query = query.Where("timestamp < ?", *filter.SubmittedBefore)
	}

	if filter.OldestFirst {
		query = query.Order("timestamp ASC").Order("id ASC")
	} else {
		query = query.Order("timestamp DESC").Order("id DESC")
	}

	var submissions []models.Submission
	if err := query.Find(&submissions).Error; err != nil {
		return nil, err
	}

	return submissions, nil
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) GetWithResults(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).
		Preload("SuiteResults").
		Preload("SuiteResults.CaseResults").
		Preload("SuiteResults.CaseResults.CommandResults").
		First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) Update(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(submission).Error
}

func (r *submissionRepository) TransitionStatus(ctx context.Context, id uint, from, to models.SubmissionStatus, errorMsg string) (bool, error) {
	updates := map[string]interface{}{"status": to}
	if errorMsg != "" {
		updates["error_msg"] = errorMsg
	}

	result := r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

func (r *submissionRepository) SaveResults(ctx context.Context, submissionID uint, results []models.AGTestSuiteResult) error {
	if len(results) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range results {
			results[i].SubmissionID = submissionID
			if err := tx.Create(&results[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *submissionRepository) WithinGroupTx(ctx context.Context, groupID uint, fn func(store IntakeStore, group models.Group) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var group models.Group
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Preload("Memberships").
			First(&group, groupID).Error; err != nil {
			return err
		}
		return fn(&intakeStore{db: tx}, group)
	})
}

type intakeStore struct {
	db *gorm.DB
}

func (s *intakeStore) HasActiveSubmission(ctx context.Context, groupID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Submission{}).
		Where("group_id = ? AND status IN ?", groupID, models.ActiveSubmissionStatuses).
		Count(&count).Error
	return count > 0, err
}

func (s *intakeStore) CountTowardsDailyLimit(ctx context.Context, groupID uint, start, end time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Submission{}).
		Where("group_id = ?", groupID).
		Where("timestamp >= ? AND timestamp < ?", start, end).
		Where("count_towards_daily_limit = ?", true).
		Where("status IN ?", models.DailyLimitStatuses).
		Count(&count).Error
	return count, err
}

func (s *intakeStore) CountTowardsTotalLimit(ctx context.Context, groupID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Submission{}).
		Where("group_id = ? AND count_towards_total_limit = ?", groupID, true).
		Count(&count).Error
	return count, err
}

func (s *intakeStore) LateDaysRemaining(ctx context.Context, courseID, userID uint, initial int) (models.LateDaysRemaining, error) {
	remaining := models.LateDaysRemaining{CourseID: courseID, UserID: userID}
	err := s.db.WithContext(ctx).
		Where(models.LateDaysRemaining{CourseID: courseID, UserID: userID}).
		Attrs(models.LateDaysRemaining{LateDaysRemaining: initial}).
		FirstOrCreate(&remaining).Error
	return remaining, err
}

func (s *intakeStore) SaveLateDaysRemaining(ctx context.Context, remaining *models.LateDaysRemaining) error {
	return s.db.WithContext(ctx).Save(remaining).Error
}

func (s *intakeStore) SaveGroup(ctx context.Context, group *models.Group) error {
	return s.db.WithContext(ctx).Omit(clause.Associations).Save(group).Error
}

func (s *intakeStore) GetSubmission(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := s.db.WithContext(ctx).First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (s *intakeStore) CreateSubmission(ctx context.Context, submission *models.Submission) error {
	return s.db.WithContext(ctx).Omit(clause.Associations).Create(submission).Error
}

func (s *intakeStore) UpdateSubmission(ctx context.Context, submission *models.Submission) error {
	return s.db.WithContext(ctx).Omit(clause.Associations).Save(submission).Error
}
