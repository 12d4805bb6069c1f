package feedback

import "github.com/noah-isme/gema-autograder-api/internal/models"

// Role is a user's effective standing in a course. Higher values outrank lower ones.
type Role int

const (
	RoleOther Role = iota
	RoleEnrolled
	RoleHandgrader
	RoleStaff
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleStaff:
		return "staff"
	case RoleHandgrader:
		return "handgrader"
	case RoleEnrolled:
		return "enrolled"
	default:
		return "other"
	}
}

// IsStaff reports whether the role is staff or admin.
func (r Role) IsStaff() bool {
	return r >= RoleStaff
}

// MembershipProvider answers course role questions for a user.
type MembershipProvider interface {
	IsAdmin(userID uint, course models.Course) bool
	IsStaff(userID uint, course models.Course) bool
	IsHandgrader(userID uint, course models.Course) bool
	IsEnrolled(userID uint, course models.Course) bool
}

// RosterMembership reads roles from the course's preloaded memberships.
type RosterMembership struct{}

func (RosterMembership) IsAdmin(userID uint, course models.Course) bool {
	return course.HasRole(userID, models.CourseRoleAdmin)
}

func (RosterMembership) IsStaff(userID uint, course models.Course) bool {
	return course.HasRole(userID, models.CourseRoleStaff)
}

func (RosterMembership) IsHandgrader(userID uint, course models.Course) bool {
	return course.HasRole(userID, models.CourseRoleHandgrader)
}

func (RosterMembership) IsEnrolled(userID uint, course models.Course) bool {
	return course.HasRole(userID, models.CourseRoleStudent)
}

// RoleResolver turns membership answers into a single Role.
type RoleResolver struct {
	members MembershipProvider
}

// NewRoleResolver builds a resolver. A nil provider falls back to RosterMembership.
func NewRoleResolver(members MembershipProvider) RoleResolver {
	if members == nil {
		members = RosterMembership{}
	}
	return RoleResolver{members: members}
}

// Resolve returns the highest-priority role the user holds in the course.
func (r RoleResolver) Resolve(userID uint, course models.Course) Role {
	if userID == 0 {
		return RoleOther
	}
	members := r.provider()
	switch {
	case members.IsAdmin(userID, course):
		return RoleAdmin
	case members.IsStaff(userID, course):
		return RoleStaff
	case members.IsHandgrader(userID, course):
		return RoleHandgrader
	case members.IsEnrolled(userID, course):
		return RoleEnrolled
	default:
		return RoleOther
	}
}

// IsGroupMember reports whether the user is one of the group's members.
func (r RoleResolver) IsGroupMember(userID uint, group models.Group) bool {
	return group.HasMember(userID)
}

// CanViewProject reports whether the user may see the project at all.
func (r RoleResolver) CanViewProject(userID uint, project models.Project) bool {
	role := r.Resolve(userID, project.Course)
	if role.IsStaff() {
		return true
	}
	if !project.VisibleToStudents {
		return false
	}
	if role == RoleEnrolled {
		return true
	}
	return project.GuestsCanSubmit
}

func (r RoleResolver) provider() MembershipProvider {
	if r.members == nil {
		return RosterMembership{}
	}
	return r.members
}
