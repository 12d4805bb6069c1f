package models

import (
	"fmt"
	"time"
)

// UltimateSubmissionPolicy names the rule used to pick a group's official submission.
type UltimateSubmissionPolicy string

const (
	UltimateSubmissionPolicyMostRecent         UltimateSubmissionPolicy = "most_recent"
	UltimateSubmissionPolicyBest               UltimateSubmissionPolicy = "best"
	UltimateSubmissionPolicyBestWithNormalFdbk UltimateSubmissionPolicy = "best_with_normal_fdbk"
)

// Project is a course assignment graded by AG test suites.
type Project struct {
	ID                            uint                     `gorm:"primaryKey" json:"id"`
	CourseID                      uint                     `gorm:"not null;index" json:"course_id"`
	Name                          string                   `gorm:"size:255;not null" json:"name"`
	VisibleToStudents             bool                     `json:"visible_to_students"`
	GuestsCanSubmit               bool                     `json:"guests_can_submit"`
	ClosingTime                   *time.Time               `json:"closing_time"`
	DisallowStudentSubmissions    bool                     `json:"disallow_student_submissions"`
	MinGroupSize                  int                      `gorm:"not null" json:"min_group_size"`
	MaxGroupSize                  int                      `gorm:"not null" json:"max_group_size"`
	SubmissionLimitPerDay         *int                     `json:"submission_limit_per_day"`
	AllowSubmissionsPastLimit     bool                     `json:"allow_submissions_past_limit"`
	GroupsCombineDailySubmissions bool                     `json:"groups_combine_daily_submissions"`
	SubmissionLimitResetTime      string                   `gorm:"size:5" json:"submission_limit_reset_time"`
	SubmissionLimitResetTimezone  string                   `gorm:"size:64" json:"submission_limit_reset_timezone"`
	NumBonusSubmissions           int                      `gorm:"not null" json:"num_bonus_submissions"`
	TotalSubmissionLimit          *int                     `json:"total_submission_limit"`
	AllowLateDays                 bool                     `json:"allow_late_days"`
	UltimateSubmissionPolicy      UltimateSubmissionPolicy `gorm:"size:32" json:"ultimate_submission_policy"`
	HideUltimateSubmissionFdbk    bool                     `json:"hide_ultimate_submission_fdbk"`
	Course                        Course                   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	AGTestSuites                  []AGTestSuite            `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	CreatedAt                     time.Time                `json:"created_at"`
	UpdatedAt                     time.Time                `json:"updated_at"`
}

// Policy returns the configured ultimate submission policy, defaulting to most_recent.
func (p Project) Policy() UltimateSubmissionPolicy {
	if p.UltimateSubmissionPolicy == "" {
		return UltimateSubmissionPolicyMostRecent
	}
	return p.UltimateSubmissionPolicy
}

// GroupSizeBounds returns the inclusive min and max group sizes, treating unset values as one.
func (p Project) GroupSizeBounds() (int, int) {
	minSize, maxSize := p.MinGroupSize, p.MaxGroupSize
	if minSize <= 0 {
		minSize = 1
	}
	if maxSize < minSize {
		maxSize = minSize
	}
	return minSize, maxSize
}

// DailyLimitWindow returns the 24 hour submission-limit period containing now.
func (p Project) DailyLimitWindow(now time.Time) (time.Time, time.Time, error) {
	location := time.UTC
	if p.SubmissionLimitResetTimezone != "" {
		loaded, err := time.LoadLocation(p.SubmissionLimitResetTimezone)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid reset timezone %q: %w", p.SubmissionLimitResetTimezone, err)
		}
		location = loaded
	}

	hour, minute := 0, 0
	if p.SubmissionLimitResetTime != "" {
		reset, err := time.Parse("15:04", p.SubmissionLimitResetTime)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid reset time %q: %w", p.SubmissionLimitResetTime, err)
		}
		hour, minute = reset.Hour(), reset.Minute()
	}

	local := now.In(location)
	start := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, location)
	if start.After(local) {
		start = start.AddDate(0, 0, -1)
	}

	return start, start.AddDate(0, 0, 1), nil
}
