package dto

import "github.com/noah-isme/gema-autograder-api/internal/feedback"

const (
	// DefaultGroupsPerPage is used when the ultimate submission listing is not given a page size.
	DefaultGroupsPerPage = 100
	// MaxGroupsPerPage bounds the ultimate submission listing page size.
	MaxGroupsPerPage = 200
)

// PaginationMeta captures pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
}

// UltimateSubmissionsQuery filters the staff listing of ultimate submissions.
type UltimateSubmissionsQuery struct {
	Page                     int  `query:"page" validate:"gte=0"`
	GroupsPerPage            int  `query:"groups_per_page" validate:"gte=0"`
	FullResults              bool `query:"full_results"`
	IncludeStaff             bool `query:"include_staff"`
	IncludePendingExtensions bool `query:"include_pending_extensions"`
}

// UltimateSubmissionResults is either the point summary or, with full
// results, the complete max feedback of the submission.
type UltimateSubmissionResults struct {
	TotalPoints         int                      `json:"total_points"`
	TotalPointsPossible int                      `json:"total_points_possible"`
	Suites              []feedback.SuiteFeedback `json:"ag_test_suite_results,omitempty"`
}

// UltimateSubmissionResponse is a submission chosen as a member's ultimate submission.
type UltimateSubmissionResponse struct {
	SubmissionResponse
	Results UltimateSubmissionResults `json:"results"`
}

// UltimateSubmissionEntry is one row of the staff listing. Each group member
// gets a row, since members excluded from a submission may have a different
// ultimate submission.
type UltimateSubmissionEntry struct {
	UserID             uint                        `json:"user_id"`
	Username           string                      `json:"username"`
	Group              GroupResponse               `json:"group"`
	UltimateSubmission *UltimateSubmissionResponse `json:"ultimate_submission"`
}

// UltimateSubmissionsResult is a page of the staff listing.
type UltimateSubmissionsResult struct {
	Items      []UltimateSubmissionEntry `json:"items"`
	Pagination PaginationMeta            `json:"pagination"`
}
