package dto

import (
	"sort"
	"strconv"
	"time"

	"github.com/noah-isme/gema-autograder-api/internal/models"
)

// GroupInvitationCreateRequest invites users to form a group with the sender.
type GroupInvitationCreateRequest struct {
	RecipientIDs []uint `json:"recipient_ids" validate:"required,min=1,dive,gt=0"`
}

// GroupResponse describes a group without its submissions.
type GroupResponse struct {
	ID                        uint         `json:"id"`
	ProjectID                 uint         `json:"project_id"`
	MemberIDs                 []uint       `json:"member_ids"`
	ExtendedDueDate           *time.Time   `json:"extended_due_date"`
	BonusSubmissionsRemaining int          `json:"bonus_submissions_remaining"`
	LateDaysUsed              map[uint]int `json:"late_days_used"`
	CreatedAt                 time.Time    `json:"created_at"`
}

// GroupInvitationRecipientResponse is one invitee's answer.
type GroupInvitationRecipientResponse struct {
	UserID   uint `json:"user_id"`
	Accepted bool `json:"accepted"`
}

// GroupInvitationResponse describes a pending invitation.
type GroupInvitationResponse struct {
	ID         uint                               `json:"id"`
	ProjectID  uint                               `json:"project_id"`
	SenderID   uint                               `json:"sender_id"`
	Recipients []GroupInvitationRecipientResponse `json:"recipients"`
	CreatedAt  time.Time                          `json:"created_at"`
}

// GroupInvitationAcceptResponse carries the still pending invitation, or the
// group once every recipient has accepted.
type GroupInvitationAcceptResponse struct {
	Invitation *GroupInvitationResponse `json:"invitation,omitempty"`
	Group      *GroupResponse           `json:"group,omitempty"`
}

// NewGroupResponse converts a Group model into a DTO.
func NewGroupResponse(model models.Group) GroupResponse {
	members := model.MemberIDs()
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })

	lateDays := make(map[uint]int, len(model.LateDaysUsed))
	for key := range model.LateDaysUsed {
		userID, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			continue
		}
		lateDays[uint(userID)] = model.LateDaysUsedBy(uint(userID))
	}

	return GroupResponse{
		ID:                        model.ID,
		ProjectID:                 model.ProjectID,
		MemberIDs:                 members,
		ExtendedDueDate:           model.ExtendedDueDate,
		BonusSubmissionsRemaining: model.BonusSubmissionsRemaining,
		LateDaysUsed:              lateDays,
		CreatedAt:                 model.CreatedAt,
	}
}

// NewGroupInvitationResponse converts a GroupInvitation model into a DTO.
func NewGroupInvitationResponse(model models.GroupInvitation) GroupInvitationResponse {
	recipients := make([]GroupInvitationRecipientResponse, 0, len(model.Recipients))
	for _, recipient := range model.Recipients {
		recipients = append(recipients, GroupInvitationRecipientResponse{
			UserID:   recipient.UserID,
			Accepted: recipient.Accepted,
		})
	}

	return GroupInvitationResponse{
		ID:         model.ID,
		ProjectID:  model.ProjectID,
		SenderID:   model.SenderID,
		Recipients: recipients,
		CreatedAt:  model.CreatedAt,
	}
}
