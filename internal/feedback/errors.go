package feedback

import "errors"

var (
	// ErrInvalidCategory indicates the requested feedback category is not recognised.
	ErrInvalidCategory = errors.New("invalid feedback category")
	// ErrPermissionDenied indicates the requester may not see the requested category.
	ErrPermissionDenied = errors.New("feedback permission denied")
	// ErrNoEligibleSubmission indicates the group has no finished submission to treat as ultimate.
	ErrNoEligibleSubmission = errors.New("ultimate submission not yet available")
	// ErrSubmissionNotInGroup indicates the submission and group of a request do not match.
	ErrSubmissionNotInGroup = errors.New("submission does not belong to the group")
)
