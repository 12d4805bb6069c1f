package feedback

import (
	"fmt"
	"time"

	"github.com/noah-isme/gema-autograder-api/internal/models"
)

// Outcome is the terminal state of a feedback decision.
type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeDenied  Outcome = "denied"
)

// Request is one feedback question. Project must carry its Course roster and
// AGTestSuites, Group its Memberships and Submissions with results.
type Request struct {
	UserID     uint
	Project    models.Project
	Group      models.Group
	Submission models.Submission
	Category   Category
	Now        time.Time
}

// Decision is the engine's answer. Mask is only meaningful when allowed.
type Decision struct {
	Outcome  Outcome
	Category Category
	Role     Role
	Reason   string
	Mask     FieldMask
}

// Allowed reports whether the requested category may be shown.
func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAllowed
}

// Err converts a denial into an error wrapping ErrPermissionDenied.
func (d Decision) Err() error {
	if d.Allowed() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPermissionDenied, d.Reason)
}

// Engine decides which feedback tier a user may see on a submission.
// It is pure and safe for concurrent use.
type Engine struct {
	roles RoleResolver
}

// NewEngine builds an engine on top of the role resolver.
func NewEngine(roles RoleResolver) Engine {
	return Engine{roles: roles}
}

// Roles exposes the resolver the engine decides with.
func (e Engine) Roles() RoleResolver {
	return e.roles
}

// Decide evaluates the request. Denials are returned as a Decision, not an
// error. Errors are reserved for malformed requests and a missing ultimate
// submission.
func (e Engine) Decide(req Request) (Decision, error) {
	if !req.Category.Valid() {
		return Decision{}, fmt.Errorf("%w: %q", ErrInvalidCategory, req.Category)
	}
	if req.Submission.GroupID != req.Group.ID {
		return Decision{}, fmt.Errorf("%w: submission %d, group %d", ErrSubmissionNotInGroup, req.Submission.ID, req.Group.ID)
	}

	role := e.roles.Resolve(req.UserID, req.Project.Course)
	member := e.roles.IsGroupMember(req.UserID, req.Group)
	decision := Decision{Category: req.Category, Role: role}

	if staffSelfView(role, member) {
		return allow(decision), nil
	}

	switch req.Category {
	case CategoryNormal:
		if !member {
			return deny(decision, "not a member of the submission's group"), nil
		}
		if req.Submission.IsPastDailyLimit {
			return deny(decision, "submission is past the daily limit"), nil
		}
		return allow(decision), nil

	case CategoryPastLimit:
		if !member {
			return deny(decision, "not a member of the submission's group"), nil
		}
		if !req.Submission.IsPastDailyLimit {
			return deny(decision, "submission is not past the daily limit"), nil
		}
		return allow(decision), nil

	case CategoryUltimate:
		if !member && !role.IsStaff() {
			return deny(decision, "not a member of the submission's group"), nil
		}
		return e.ultimateGate(req, decision, member)

	case CategoryStaffViewer:
		if !role.IsStaff() {
			return deny(decision, "staff only"), nil
		}
		return allow(decision), nil

	case CategoryMax:
		if !role.IsStaff() {
			return deny(decision, "staff only"), nil
		}
		return e.ultimateGate(req, decision, member)
	}

	return deny(decision, "unsupported category"), nil
}

// staffSelfView lets staff and admins see everything on their own group's submissions.
func staffSelfView(role Role, member bool) bool {
	return role.IsStaff() && member
}

// ultimateGate allows the decision only once the deadline has passed and the
// submission is the group's ultimate submission. Non-staff also need the
// project to not hide ultimate feedback.
func (e Engine) ultimateGate(req Request, decision Decision, member bool) (Decision, error) {
	if !decision.Role.IsStaff() && req.Project.HideUltimateSubmissionFdbk {
		return deny(decision, "ultimate submission feedback is hidden"), nil
	}
	if !DeadlinePassed(req.Project, req.Group, req.Now) {
		return deny(decision, "deadline has not passed"), nil
	}

	selector := NewUltimateSubmissionSelector(NewTestIndex(req.Project.AGTestSuites))
	var (
		ultimate models.Submission
		ok       bool
	)
	if member {
		ultimate, ok = selector.SelectFor(req.Group, req.Project.Policy(), req.UserID)
	} else {
		ultimate, ok = selector.Select(req.Group, req.Project.Policy())
	}
	if !ok {
		return Decision{}, ErrNoEligibleSubmission
	}
	if ultimate.ID != req.Submission.ID {
		return deny(decision, "submission is not the group's ultimate submission"), nil
	}

	return allow(decision), nil
}

func allow(decision Decision) Decision {
	decision.Outcome = OutcomeAllowed
	decision.Reason = ""
	decision.Mask = MaskFor(decision.Category)
	return decision
}

func deny(decision Decision, reason string) Decision {
	decision.Outcome = OutcomeDenied
	decision.Reason = reason
	decision.Mask = FieldMask{}
	return decision
}
