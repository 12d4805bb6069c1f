package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-autograder-api/internal/dto"
	"github.com/noah-isme/gema-autograder-api/internal/events"
	"github.com/noah-isme/gema-autograder-api/internal/feedback"
	"github.com/noah-isme/gema-autograder-api/internal/models"
	"github.com/noah-isme/gema-autograder-api/internal/repository"
)

// InvitationEvents publishes group invitation notifications.
type InvitationEvents interface {
	InvitationRejected(ctx context.Context, event events.InvitationEvent) error
}

// GroupService manages how users form groups for a project.
type GroupService interface {
	Invite(ctx context.Context, senderID, projectID uint, payload dto.GroupInvitationCreateRequest) (dto.GroupInvitationResponse, error)
	Accept(ctx context.Context, userID, invitationID uint) (dto.GroupInvitationAcceptResponse, error)
	Reject(ctx context.Context, userID, invitationID uint) error
	CreateSoloGroup(ctx context.Context, userID, projectID uint) (dto.GroupResponse, error)
}

type groupService struct {
	groups    repository.GroupRepository
	projects  repository.ProjectRepository
	users     repository.UserRepository
	roles     feedback.RoleResolver
	validator *validator.Validate
	events    InvitationEvents
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	now       func() time.Time
}

// NewGroupService constructs the group formation service.
func NewGroupService(groups repository.GroupRepository, projects repository.ProjectRepository, users repository.UserRepository, roles feedback.RoleResolver, validate *validator.Validate, publisher InvitationEvents, logger zerolog.Logger) GroupService {
	return &groupService{
		groups:    groups,
		projects:  projects,
		users:     users,
		roles:     roles,
		validator: validate,
		events:    publisher,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "group_service").Logger(),
		now:       time.Now,
	}
}

func (s *groupService) Invite(ctx context.Context, senderID, projectID uint, payload dto.GroupInvitationCreateRequest) (dto.GroupInvitationResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.GroupInvitationResponse{}, err
	}

	project, err := s.loadProject(ctx, projectID)
	if err != nil {
		return dto.GroupInvitationResponse{}, err
	}
	if !s.roles.CanViewProject(senderID, project) {
		return dto.GroupInvitationResponse{}, ErrForbidden
	}

	recipients := uniqueRecipients(senderID, payload.RecipientIDs)
	if len(recipients) == 0 {
		return dto.GroupInvitationResponse{}, fmt.Errorf("%w: an invitation needs someone other than the sender", ErrGroupSize)
	}
	minSize, maxSize := project.GroupSizeBounds()
	if size := len(recipients) + 1; size < minSize || size > maxSize {
		return dto.GroupInvitationResponse{}, fmt.Errorf("%w: %d not in [%d, %d]", ErrGroupSize, size, minSize, maxSize)
	}

	found, err := s.users.CountByIDs(ctx, recipients)
	if err != nil {
		return dto.GroupInvitationResponse{}, err
	}
	if found != int64(len(recipients)) {
		return dto.GroupInvitationResponse{}, ErrUserNotFound
	}
	for _, recipientID := range recipients {
		if !s.roles.CanViewProject(recipientID, project) {
			return dto.GroupInvitationResponse{}, fmt.Errorf("%w: user %d cannot join groups for this project", ErrForbidden, recipientID)
		}
	}

	invitation := models.GroupInvitation{ProjectID: project.ID, SenderID: senderID}
	for _, recipientID := range recipients {
		invitation.Recipients = append(invitation.Recipients, models.GroupInvitationRecipient{UserID: recipientID})
	}

	everyone := invitation.UserIDs()
	err = s.groups.WithinProjectTx(ctx, project.ID, func(tx repository.GroupRepository) error {
		inGroup, err := tx.IsInGroup(ctx, project.ID, everyone)
		if err != nil {
			return err
		}
		if inGroup {
			return ErrAlreadyInGroup
		}

		pending, err := tx.HasPendingInvitation(ctx, project.ID, everyone)
		if err != nil {
			return err
		}
		if pending {
			return ErrPendingInvitation
		}

		return tx.CreateInvitation(ctx, &invitation)
	})
	if err != nil {
		return dto.GroupInvitationResponse{}, err
	}

	s.logger.Info().Uint("invitation_id", invitation.ID).Uint("project_id", project.ID).Int("recipients", len(recipients)).Msg("group invitation sent")
	return dto.NewGroupInvitationResponse(invitation), nil
}

func (s *groupService) Accept(ctx context.Context, userID, invitationID uint) (dto.GroupInvitationAcceptResponse, error) {
	invitation, err := s.loadInvitation(ctx, invitationID)
	if err != nil {
		return dto.GroupInvitationAcceptResponse{}, err
	}
	if userID == invitation.SenderID || !invitation.Involves(userID) {
		return dto.GroupInvitationAcceptResponse{}, ErrForbidden
	}

	project, err := s.loadProject(ctx, invitation.ProjectID)
	if err != nil {
		return dto.GroupInvitationAcceptResponse{}, err
	}

	var response dto.GroupInvitationAcceptResponse
	err = s.groups.WithinProjectTx(ctx, project.ID, func(tx repository.GroupRepository) error {
		if err := tx.AcceptInvitation(ctx, invitation.ID, userID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvitationNotFound
			}
			return err
		}

		current, err := tx.GetInvitation(ctx, invitation.ID)
		if err != nil {
			return err
		}
		if !current.AllAccepted() {
			pending := dto.NewGroupInvitationResponse(current)
			response.Invitation = &pending
			return nil
		}

		members := current.UserIDs()
		inGroup, err := tx.IsInGroup(ctx, project.ID, members)
		if err != nil {
			return err
		}
		if inGroup {
			return ErrAlreadyInGroup
		}

		group := models.Group{
			ProjectID:                 project.ID,
			BonusSubmissionsRemaining: project.NumBonusSubmissions,
		}
		if err := tx.Create(ctx, &group, members); err != nil {
			return err
		}
		if err := tx.DeleteInvitation(ctx, current.ID); err != nil {
			return err
		}

		created := dto.NewGroupResponse(group)
		response.Group = &created
		return nil
	})
	if err != nil {
		return dto.GroupInvitationAcceptResponse{}, err
	}

	if response.Group != nil {
		s.logger.Info().Uint("group_id", response.Group.ID).Uint("project_id", project.ID).Msg("group created from invitation")
	}
	return response, nil
}

// Reject withdraws the invitation. Recipients reject it, the sender cancels
// it, and everyone involved is notified either way.
func (s *groupService) Reject(ctx context.Context, userID, invitationID uint) error {
	invitation, err := s.loadInvitation(ctx, invitationID)
	if err != nil {
		return err
	}
	if !invitation.Involves(userID) {
		return ErrForbidden
	}

	project, err := s.loadProject(ctx, invitation.ProjectID)
	if err != nil {
		return err
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	if err := s.groups.DeleteInvitation(ctx, invitation.ID); err != nil {
		return err
	}

	verb := "rejected"
	if userID == invitation.SenderID {
		verb = "cancelled"
	}
	message := fmt.Sprintf("%s has %s the group invitation for %s.",
		s.sanitizer.Sanitize(user.Username), verb, s.sanitizer.Sanitize(project.Name))

	event := events.InvitationEvent{
		InvitationID: invitation.ID,
		ProjectID:    project.ID,
		RejectedBy:   userID,
		UserIDs:      invitation.UserIDs(),
		Message:      message,
		OccurredAt:   s.now().UTC(),
	}
	if err := s.events.InvitationRejected(ctx, event); err != nil {
		s.logger.Warn().Err(err).Uint("invitation_id", invitation.ID).Msg("failed to publish invitation rejection")
	}

	s.logger.Info().Uint("invitation_id", invitation.ID).Str("action", verb).Msg("group invitation withdrawn")
	return nil
}

// CreateSoloGroup puts the user in a group of their own. Students may only do
// so when the project allows groups of one. Staff may always work alone.
func (s *groupService) CreateSoloGroup(ctx context.Context, userID, projectID uint) (dto.GroupResponse, error) {
	project, err := s.loadProject(ctx, projectID)
	if err != nil {
		return dto.GroupResponse{}, err
	}
	if !s.roles.CanViewProject(userID, project) {
		return dto.GroupResponse{}, ErrForbidden
	}

	minSize, maxSize := project.GroupSizeBounds()
	if minSize > 1 && !s.roles.Resolve(userID, project.Course).IsStaff() {
		return dto.GroupResponse{}, fmt.Errorf("%w: 1 not in [%d, %d]", ErrGroupSize, minSize, maxSize)
	}

	group := models.Group{
		ProjectID:                 project.ID,
		BonusSubmissionsRemaining: project.NumBonusSubmissions,
	}
	err = s.groups.WithinProjectTx(ctx, project.ID, func(tx repository.GroupRepository) error {
		_, err := tx.GetByMember(ctx, project.ID, userID)
		switch {
		case err == nil:
			return ErrAlreadyInGroup
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		pending, err := tx.HasPendingInvitation(ctx, project.ID, []uint{userID})
		if err != nil {
			return err
		}
		if pending {
			return ErrPendingInvitation
		}

		return tx.Create(ctx, &group, []uint{userID})
	})
	if err != nil {
		return dto.GroupResponse{}, err
	}

	s.logger.Info().Uint("group_id", group.ID).Uint("project_id", project.ID).Msg("solo group created")
	return dto.NewGroupResponse(group), nil
}

func (s *groupService) loadInvitation(ctx context.Context, id uint) (models.GroupInvitation, error) {
	invitation, err := s.groups.GetInvitation(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.GroupInvitation{}, ErrInvitationNotFound
		}
		return models.GroupInvitation{}, err
	}
	return invitation, nil
}

func (s *groupService) loadProject(ctx context.Context, id uint) (models.Project, error) {
	project, err := s.projects.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Project{}, ErrProjectNotFound
		}
		return models.Project{}, err
	}
	return project, nil
}

// uniqueRecipients drops duplicates and the sender, keeping first-seen order.
func uniqueRecipients(senderID uint, ids []uint) []uint {
	seen := map[uint]struct{}{senderID: {}}
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
