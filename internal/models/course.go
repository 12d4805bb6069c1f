package models

import "time"

const (
	CourseRoleAdmin      = "admin"
	CourseRoleStaff      = "staff"
	CourseRoleHandgrader = "handgrader"
	CourseRoleStudent    = "student"
)

// Course owns projects and the roster of users holding roles in it.
type Course struct {
	ID          uint               `gorm:"primaryKey" json:"id"`
	Name        string             `gorm:"size:255;uniqueIndex;not null" json:"name"`
	NumLateDays int                `gorm:"not null" json:"num_late_days"`
	Memberships []CourseMembership `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// CourseMembership grants a single role to a user. A user may hold several.
type CourseMembership struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	CourseID uint   `gorm:"not null;uniqueIndex:idx_course_membership_role" json:"course_id"`
	UserID   uint   `gorm:"not null;uniqueIndex:idx_course_membership_role;index" json:"user_id"`
	Role     string `gorm:"size:32;not null;uniqueIndex:idx_course_membership_role" json:"role"`
}

// HasRole reports whether the user holds the given role in the course.
func (c Course) HasRole(userID uint, role string) bool {
	if userID == 0 {
		return false
	}
	for _, membership := range c.Memberships {
		if membership.UserID == userID && membership.Role == role {
			return true
		}
	}
	return false
}

// LateDaysRemaining tracks the late days a user has left in a course.
type LateDaysRemaining struct {
	ID                uint `gorm:"primaryKey" json:"id"`
	CourseID          uint `gorm:"not null;uniqueIndex:idx_late_days_course_user" json:"course_id"`
	UserID            uint `gorm:"not null;uniqueIndex:idx_late_days_course_user" json:"user_id"`
	LateDaysRemaining int  `gorm:"not null" json:"late_days_remaining"`
}

// TableName avoids the pluralised default.
func (LateDaysRemaining) TableName() string {
	return "late_days_remaining"
}
