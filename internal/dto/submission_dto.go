package dto

import (
	"time"

	"github.com/noah-isme/gema-autograder-api/internal/feedback"
	"github.com/noah-isme/gema-autograder-api/internal/models"
	"github.com/noah-isme/gema-autograder-api/pkg/cloudinary"
)

// SubmissionLimitsUpdateRequest lets course admins exclude a submission from the limits.
type SubmissionLimitsUpdateRequest struct {
	CountTowardsDailyLimit *bool `json:"count_towards_daily_limit"`
	CountTowardsTotalLimit *bool `json:"count_towards_total_limit"`
}

// SubmissionStatusUpdateRequest is sent by the grading pipeline.
type SubmissionStatusUpdateRequest struct {
	Status   string `json:"status" validate:"required,oneof=queued being_graded finished_grading error"`
	ErrorMsg string `json:"error_msg" validate:"max=4000"`
}

// FeedbackQuery describes the query string of the results endpoint.
type FeedbackQuery struct {
	FeedbackCategory string `query:"feedback_category" validate:"required"`
	UseCache         bool   `query:"use_cache"`
}

// SubmissionResponse is returned to API clients when viewing submissions.
type SubmissionResponse struct {
	ID                     uint      `json:"id"`
	GroupID                uint      `json:"group_id"`
	SubmitterID            uint      `json:"submitter_id"`
	Timestamp              time.Time `json:"timestamp"`
	Status                 string    `json:"status"`
	SubmittedFilenames     []string  `json:"submitted_filenames"`
	IsPastDailyLimit       bool      `json:"is_past_daily_limit"`
	IsBonusSubmission      bool      `json:"is_bonus_submission"`
	CountTowardsDailyLimit bool      `json:"count_towards_daily_limit"`
	CountTowardsTotalLimit bool      `json:"count_towards_total_limit"`
	DoesNotCountFor        []uint    `json:"does_not_count_for"`
	ErrorMsg               string    `json:"error_msg,omitempty"`
}

// SubmissionWithResultsResponse pairs a submission with the feedback its viewer may see.
type SubmissionWithResultsResponse struct {
	SubmissionResponse
	Results *feedback.SubmissionFeedback `json:"results"`
}

// NewSubmissionResponse converts a Submission model into a DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	filenames := make([]string, 0, len(model.SubmittedFiles))
	for _, url := range model.SubmittedFiles {
		filenames = append(filenames, cloudinary.OriginalName(url))
	}

	doesNotCountFor := make([]uint, 0, len(model.DoesNotCountFor))
	doesNotCountFor = append(doesNotCountFor, model.DoesNotCountFor...)

	return SubmissionResponse{
		ID:                     model.ID,
		GroupID:                model.GroupID,
		SubmitterID:            model.SubmitterID,
		Timestamp:              model.Timestamp,
		Status:                 string(model.Status),
		SubmittedFilenames:     filenames,
		IsPastDailyLimit:       model.IsPastDailyLimit,
		IsBonusSubmission:      model.IsBonusSubmission,
		CountTowardsDailyLimit: model.CountTowardsDailyLimit,
		CountTowardsTotalLimit: model.CountTowardsTotalLimit,
		DoesNotCountFor:        doesNotCountFor,
		ErrorMsg:               model.ErrorMsg,
	}
}

// NewSubmissionResponseSlice converts submission models into DTOs.
func NewSubmissionResponseSlice(models []models.Submission) []SubmissionResponse {
	responses := make([]SubmissionResponse, 0, len(models))
	for _, submission := range models {
		responses = append(responses, NewSubmissionResponse(submission))
	}

	return responses
}
