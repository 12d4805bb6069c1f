package feedback

import (
	"time"

	"github.com/noah-isme/gema-autograder-api/internal/models"
)

// EffectiveClosingTime is the group's extension when one is granted, else the project's closing time.
func EffectiveClosingTime(project models.Project, group models.Group) *time.Time {
	if group.ExtendedDueDate != nil {
		return group.ExtendedDueDate
	}
	return project.ClosingTime
}

// DeadlinePassed reports whether the group can no longer submit on time. No deadline counts as passed.
func DeadlinePassed(project models.Project, group models.Group, now time.Time) bool {
	closing := EffectiveClosingTime(project, group)
	return closing == nil || closing.Before(now)
}
