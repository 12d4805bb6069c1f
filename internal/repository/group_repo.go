package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-autograder-api/internal/models"
)

// GroupFilter narrows group listings for a project.
type GroupFilter struct {
	ProjectID uint
	// ExcludeMemberIDs drops groups with any of these users as members.
	ExcludeMemberIDs []uint
	Page             int
	PageSize         int
}

// GroupRepository persists groups, their memberships and pending invitations.
type GroupRepository interface {
	GetByID(ctx context.Context, id uint) (models.Group, error)
	GetByMember(ctx context.Context, projectID, userID uint) (models.Group, error)
	ListByProject(ctx context.Context, filter GroupFilter) ([]models.Group, int64, error)
	Create(ctx context.Context, group *models.Group, memberIDs []uint) error
	IsInGroup(ctx context.Context, projectID uint, userIDs []uint) (bool, error)
	CreateInvitation(ctx context.Context, invitation *models.GroupInvitation) error
	GetInvitation(ctx context.Context, id uint) (models.GroupInvitation, error)
	HasPendingInvitation(ctx context.Context, projectID uint, userIDs []uint) (bool, error)
	AcceptInvitation(ctx context.Context, invitationID, userID uint) error
	DeleteInvitation(ctx context.Context, id uint) error
	// WithinProjectTx runs fn in a transaction holding a row lock on the
	// project, so membership changes for one project are serialized.
	WithinProjectTx(ctx context.Context, projectID uint, fn func(GroupRepository) error) error
}

type groupRepository struct {
	db *gorm.DB
}

// NewGroupRepository instantiates the repository.
func NewGroupRepository(db *gorm.DB) GroupRepository {
	return &groupRepository{db: db}
}

// withSubmissionSnapshot preloads members and every submission with its
// results, newest first.
func withSubmissionSnapshot(query *gorm.DB) *gorm.DB {
	return query.
		Preload("Memberships").
		Preload("Submissions", func(db *gorm.DB) *gorm.DB {
			return db.Order("timestamp DESC").Order("id DESC")
		}).
		Preload("Submissions.SuiteResults").
		Preload("Submissions.SuiteResults.CaseResults").
		Preload("Submissions.SuiteResults.CaseResults.CommandResults")
}

func (r *groupRepository) GetByID(ctx context.Context, id uint) (models.Group, error) {
	var group models.Group
	if err := withSubmissionSnapshot(r.db.WithContext(ctx)).First(&group, id).Error; err != nil {
		return models.Group{}, err
	}
	return group, nil
}

func (r *groupRepository) GetByMember(ctx context.Context, projectID, userID uint) (models.Group, error) {
	var group models.Group
	err := withSubmissionSnapshot(r.db.WithContext(ctx)).
		Where("id = (?)", r.db.Model(&models.GroupMembership{}).
			Select("group_id").
			Where("project_id = ? AND user_id = ?", projectID, userID)).
		First(&group).Error
	if err != nil {
		return models.Group{}, err
	}
	return group, nil
}

func (r *groupRepository) ListByProject(ctx context.Context, filter GroupFilter) ([]models.Group, int64, error) {
	scoped := func() *gorm.DB {
		query := r.db.WithContext(ctx).Model(&models.Group{}).Where("project_id = ?", filter.ProjectID)
		if len(filter.ExcludeMemberIDs) > 0 {
			query = query.Where("id NOT IN (?)", r.db.Model(&models.GroupMembership{}).
				Select("group_id").
				Where("project_id = ? AND user_id IN ?", filter.ProjectID, filter.ExcludeMemberIDs))
		}
		return query
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	var groups []models.Group
	if err := withSubmissionSnapshot(scoped()).
		Order("id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&groups).Error; err != nil {
		return nil, 0, err
	}

	return groups, total, nil
}

func (r *groupRepository) Create(ctx context.Context, group *models.Group, memberIDs []uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(group).Error; err != nil {
			return err
		}

		memberships := make([]models.GroupMembership, 0, len(memberIDs))
		for _, userID := range memberIDs {
			memberships = append(memberships, models.GroupMembership{
				GroupID:   group.ID,
				ProjectID: group.ProjectID,
				UserID:    userID,
			})
		}
		if len(memberships) > 0 {
			if err := tx.Create(&memberships).Error; err != nil {
				return err
			}
		}

		group.Memberships = memberships
		return nil
	})
}

func (r *groupRepository) IsInGroup(ctx context.Context, projectID uint, userIDs []uint) (bool, error) {
	if len(userIDs) == 0 {
		return false, nil
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&models.GroupMembership{}).
		Where("project_id = ? AND user_id IN ?", projectID, userIDs).
		Count(&count).Error
	return count > 0, err
}

func (r *groupRepository) CreateInvitation(ctx context.Context, invitation *models.GroupInvitation) error {
	return r.db.WithContext(ctx).Create(invitation).Error
}

func (r *groupRepository) GetInvitation(ctx context.Context, id uint) (models.GroupInvitation, error) {
	var invitation models.GroupInvitation
	if err := r.db.WithContext(ctx).Preload("Recipients", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).First(&invitation, id).Error; err != nil {
		return models.GroupInvitation{}, err
	}
	return invitation, nil
}

func (r *groupRepository) HasPendingInvitation(ctx context.Context, projectID uint, userIDs []uint) (bool, error) {
	if len(userIDs) == 0 {
		return false, nil
	}

	var count int64
	err := r.db.WithContext(ctx).Model(&models.GroupInvitation{}).
		Where("project_id = ?", projectID).
		Where("sender_id IN ? OR id IN (?)", userIDs,
			r.db.Model(&models.GroupInvitationRecipient{}).
				Select("invitation_id").
				Where("user_id IN ?", userIDs)).
		Count(&count).Error
	return count > 0, err
}

func (r *groupRepository) AcceptInvitation(ctx context.Context, invitationID, userID uint) error {
	result := r.db.WithContext(ctx).Model(&models.GroupInvitationRecipient{}).
		Where("invitation_id = ? AND user_id = ?", invitationID, userID).
		Update("accepted", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *groupRepository) DeleteInvitation(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("invitation_id = ?", id).Delete(&models.GroupInvitationRecipient{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.GroupInvitation{}, id).Error
	})
}

func (r *groupRepository) WithinProjectTx(ctx context.Context, projectID uint, fn func(GroupRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project models.Project
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			First(&project, projectID).Error; err != nil {
			return err
		}
		return fn(&groupRepository{db: tx})
	})
}
