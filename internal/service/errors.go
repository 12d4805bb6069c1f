package service

import "errors"

var (
	// ErrSubmissionNotFound indicates a submission could not be found.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrGroupNotFound indicates a group could not be found.
	ErrGroupNotFound = errors.New("group not found")
	// ErrProjectNotFound indicates a project could not be found.
	ErrProjectNotFound = errors.New("project not found")
	// ErrInvitationNotFound indicates a group invitation could not be found.
	ErrInvitationNotFound = errors.New("group invitation not found")
	// ErrUserNotFound indicates a referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrForbidden indicates the requester lacks permission for the operation.
	ErrForbidden = errors.New("forbidden")
	ErrInvalidStatusTransition = errors.New("invalid submission status transition")
	ErrUnsupportedFileType     = errors.New("unsupported file type")
)

// Intake rule violations. Each is reported to the submitter as a bad request.
var (
	ErrActiveSubmission    = errors.New("group already has a submission being processed")
	ErrSubmissionsDisabled = errors.New("submissions are currently disabled for this project")
	ErrDeadlinePassed      = errors.New("project closing time has passed")
	ErrPastDailyLimit      = errors.New("submissions past the daily limit are not allowed")
	ErrTotalLimitReached   = errors.New("total submission limit reached")
	ErrOutOfLateDays       = errors.New("submitter has no late days remaining")
	ErrNoFiles             = errors.New("at least one file is required")
)

// Group formation violations.
var (
	ErrGroupSize         = errors.New("group size is outside the project's limits")
	ErrAlreadyInGroup    = errors.New("one or more users are already in a group for this project")
	ErrPendingInvitation = errors.New("one or more users already have a pending invitation for this project")
)

// IsIntakeViolation reports whether err is a submission rule the submitter broke.
func IsIntakeViolation(err error) bool {
	for _, target := range []error{
		ErrActiveSubmission,
		ErrSubmissionsDisabled,
		ErrDeadlinePassed,
		ErrPastDailyLimit,
		ErrTotalLimitReached,
		ErrOutOfLateDays,
		ErrNoFiles,
		ErrUnsupportedFileType,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
