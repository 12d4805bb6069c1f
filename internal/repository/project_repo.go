package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-autograder-api/internal/models"
)

// ProjectRepository loads projects together with everything the feedback
// engine needs to decide on them.
type ProjectRepository interface {
	GetByID(ctx context.Context, id uint) (models.Project, error)
}

type projectRepository struct {
	db *gorm.DB
}

// NewProjectRepository instantiates the repository.
func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{db: db}
}

func (r *projectRepository) GetByID(ctx context.Context, id uint) (models.Project, error) {
	var project models.Project
	if err := r.db.WithContext(ctx).
		Preload("Course").
		Preload("Course.Memberships").
		Preload("AGTestSuites", orderedBySortOrder).
		Preload("AGTestSuites.Cases", orderedBySortOrder).
		Preload("AGTestSuites.Cases.Commands", orderedBySortOrder).
		First(&project, id).Error; err != nil {
		return models.Project{}, err
	}

	return project, nil
}

func orderedBySortOrder(db *gorm.DB) *gorm.DB {
	return db.Order("sort_order ASC").Order("id ASC")
}
