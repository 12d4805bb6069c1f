package models

import (
	"encoding/json"
	"strconv"
	"time"

	"gorm.io/datatypes"
)

// Group is the set of users who submit together for a project.
type Group struct {
	ID                        uint              `gorm:"primaryKey" json:"id"`
	ProjectID                 uint              `gorm:"not null;index" json:"project_id"`
	ExtendedDueDate           *time.Time        `json:"extended_due_date"`
	BonusSubmissionsRemaining int               `gorm:"not null" json:"bonus_submissions_remaining"`
	LateDaysUsed              datatypes.JSONMap `gorm:"type:json" json:"late_days_used"`
	Memberships               []GroupMembership `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Submissions               []Submission      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	CreatedAt                 time.Time         `json:"created_at"`
	UpdatedAt                 time.Time         `json:"updated_at"`
}

// GroupMembership ties a user to one group. The unique index keeps a user in
// at most one group per project.
type GroupMembership struct {
	ID        uint `gorm:"primaryKey" json:"id"`
	GroupID   uint `gorm:"not null;index" json:"group_id"`
	ProjectID uint `gorm:"not null;uniqueIndex:idx_group_membership_project_user" json:"project_id"`
	UserID    uint `gorm:"not null;uniqueIndex:idx_group_membership_project_user" json:"user_id"`
}

// MemberIDs lists the group's members in membership order.
func (g Group) MemberIDs() []uint {
	ids := make([]uint, 0, len(g.Memberships))
	for _, membership := range g.Memberships {
		ids = append(ids, membership.UserID)
	}
	return ids
}

// HasMember reports whether the user belongs to the group.
func (g Group) HasMember(userID uint) bool {
	if userID == 0 {
		return false
	}
	for _, membership := range g.Memberships {
		if membership.UserID == userID {
			return true
		}
	}
	return false
}

// LateDaysUsedBy returns how many late days the user has spent on this group's project.
func (g Group) LateDaysUsedBy(userID uint) int {
	if g.LateDaysUsed == nil {
		return 0
	}
	switch v := g.LateDaysUsed[strconv.FormatUint(uint64(userID), 10)].(type) {
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return 0
		}
		return int(parsed)
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

// SetLateDaysUsed records the late days the user has spent on this group's project.
func (g *Group) SetLateDaysUsed(userID uint, days int) {
	if g.LateDaysUsed == nil {
		g.LateDaysUsed = datatypes.JSONMap{}
	}
	g.LateDaysUsed[strconv.FormatUint(uint64(userID), 10)] = days
}

// GroupInvitation asks a set of users to form a group with the sender.
type GroupInvitation struct {
	ID         uint                       `gorm:"primaryKey" json:"id"`
	ProjectID  uint                       `gorm:"not null;index" json:"project_id"`
	SenderID   uint                       `gorm:"not null;index" json:"sender_id"`
	Recipients []GroupInvitationRecipient `gorm:"foreignKey:InvitationID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"recipients"`
	CreatedAt  time.Time                  `json:"created_at"`
}

// GroupInvitationRecipient records one invited user's answer.
type GroupInvitationRecipient struct {
	ID           uint `gorm:"primaryKey" json:"id"`
	InvitationID uint `gorm:"not null;index" json:"invitation_id"`
	UserID       uint `gorm:"not null;index" json:"user_id"`
	Accepted     bool `json:"accepted"`
}

// AllAccepted reports whether every recipient accepted.
func (i GroupInvitation) AllAccepted() bool {
	for _, recipient := range i.Recipients {
		if !recipient.Accepted {
			return false
		}
	}
	return true
}

// UserIDs returns the sender followed by every recipient.
func (i GroupInvitation) UserIDs() []uint {
	ids := make([]uint, 0, len(i.Recipients)+1)
	ids = append(ids, i.SenderID)
	for _, recipient := range i.Recipients {
		ids = append(ids, recipient.UserID)
	}
	return ids
}

// Involves reports whether the user sent or received the invitation.
func (i GroupInvitation) Involves(userID uint) bool {
	for _, id := range i.UserIDs() {
		if id == userID {
			return true
		}
	}
	return false
}
