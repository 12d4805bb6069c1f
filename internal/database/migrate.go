package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-autograder-api/internal/models"
)

// Migrate creates or updates every table the autograder stores.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Course{},
		&models.CourseMembership{},
		&models.LateDaysRemaining{},
		&models.Project{},
		&models.AGTestSuite{},
		&models.AGTestCase{},
		&models.AGTestCommand{},
		&models.Group{},
		&models.GroupMembership{},
		&models.GroupInvitation{},
		&models.GroupInvitationRecipient{},
		&models.Submission{},
		&models.AGTestSuiteResult{},
		&models.AGTestCaseResult{},
		&models.AGTestCommandResult{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
