package models

import (
	"time"

	"gorm.io/datatypes"
)

// SubmissionStatus tracks a submission through the grading pipeline.
type SubmissionStatus string

const (
	SubmissionStatusReceived         SubmissionStatus = "received"
	SubmissionStatusQueued           SubmissionStatus = "queued"
	SubmissionStatusBeingGraded      SubmissionStatus = "being_graded"
	SubmissionStatusFinishedGrading  SubmissionStatus = "finished_grading"
	SubmissionStatusRemovedFromQueue SubmissionStatus = "removed_from_queue"
	SubmissionStatusError            SubmissionStatus = "error"
)

// ActiveSubmissionStatuses are the statuses that block a group from submitting again.
var ActiveSubmissionStatuses = []SubmissionStatus{
	SubmissionStatusReceived,
	SubmissionStatusQueued,
	SubmissionStatusBeingGraded,
}

// DailyLimitStatuses are the statuses counted against the daily submission limit.
var DailyLimitStatuses = []SubmissionStatus{
	SubmissionStatusReceived,
	SubmissionStatusQueued,
	SubmissionStatusBeingGraded,
	SubmissionStatusFinishedGrading,
}

// Valid reports whether the status is one of the known values.
func (s SubmissionStatus) Valid() bool {
	switch s {
	case SubmissionStatusReceived, SubmissionStatusQueued, SubmissionStatusBeingGraded,
		SubmissionStatusFinishedGrading, SubmissionStatusRemovedFromQueue, SubmissionStatusError:
		return true
	default:
		return false
	}
}

// IsActive reports whether the submission is still waiting on or undergoing grading.
func (s SubmissionStatus) IsActive() bool {
	for _, status := range ActiveSubmissionStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether moving to next keeps the pipeline moving forward.
func (s SubmissionStatus) CanTransitionTo(next SubmissionStatus) bool {
	switch next {
	case SubmissionStatusQueued:
		return s == SubmissionStatusReceived
	case SubmissionStatusBeingGraded:
		return s == SubmissionStatusQueued
	case SubmissionStatusFinishedGrading:
		return s == SubmissionStatusBeingGraded
	case SubmissionStatusRemovedFromQueue, SubmissionStatusError:
		return s.IsActive()
	default:
		return false
	}
}

// Submission is one upload of files by a group member.
type Submission struct {
	ID                     uint                        `gorm:"primaryKey" json:"id"`
	GroupID                uint                        `gorm:"not null;index" json:"group_id"`
	SubmitterID            uint                        `gorm:"not null;index" json:"submitter_id"`
	Timestamp              time.Time                   `gorm:"not null;index" json:"timestamp"`
	Status                 SubmissionStatus            `gorm:"size:32;not null;index" json:"status"`
	IsPastDailyLimit       bool                        `json:"is_past_daily_limit"`
	IsBonusSubmission      bool                        `json:"is_bonus_submission"`
	CountTowardsDailyLimit bool                        `json:"count_towards_daily_limit"`
	CountTowardsTotalLimit bool                        `json:"count_towards_total_limit"`
	DoesNotCountFor        datatypes.JSONSlice[uint]   `gorm:"type:json" json:"does_not_count_for"`
	SubmittedFiles         datatypes.JSONSlice[string] `gorm:"type:json" json:"submitted_files"`
	ErrorMsg               string                      `gorm:"type:text" json:"error_msg"`
	SuiteResults           []AGTestSuiteResult         `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	CreatedAt              time.Time                   `json:"created_at"`
	UpdatedAt              time.Time                   `json:"updated_at"`
}

// CountsFor reports whether the submission may be chosen as the user's ultimate submission.
func (s Submission) CountsFor(userID uint) bool {
	for _, id := range s.DoesNotCountFor {
		if id == userID {
			return false
		}
	}
	return true
}
