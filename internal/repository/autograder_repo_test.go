package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-autograder-api/internal/database"
	"github.com/noah-isme/gema-autograder-api/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func seedProject(t *testing.T, db *gorm.DB) models.Project {
	t.Helper()

	course := models.Course{
		Name:        "EECS 280",
		NumLateDays: 2,
		Memberships: []models.CourseMembership{
			{UserID: 1, Role: models.CourseRoleStaff},
			{UserID: 2, Role: models.CourseRoleStudent},
		},
	}
	require.NoError(t, db.Create(&course).Error)

	project := models.Project{CourseID: course.ID, Name: "Project 1", VisibleToStudents: true, MaxGroupSize: 2}
	require.NoError(t, db.Create(&project).Error)

	suites := []models.AGTestSuite{
		{ProjectID: project.ID, Name: "second", SortOrder: 1},
		{ProjectID: project.ID, Name: "first", SortOrder: 0, Cases: []models.AGTestCase{
			{Name: "b", SortOrder: 1},
			{Name: "a", SortOrder: 0, Commands: []models.AGTestCommand{{Name: "run", Cmd: "true", ExpectedReturnCode: models.ExpectedReturnCodeZero}}},
		}},
	}
	require.NoError(t, db.Create(&suites).Error)

	return project
}

func TestProjectRepositoryLoadsOrderedSnapshot(t *testing.T) {
	db := newTestDB(t)
	seeded := seedProject(t, db)

	project, err := NewProjectRepository(db).GetByID(context.Background(), seeded.ID)
	require.NoError(t, err)
	require.Equal(t, "EECS 280", project.Course.Name)
	require.Len(t, project.Course.Memberships, 2)
	require.Len(t, project.AGTestSuites, 2)
	require.Equal(t, "first", project.AGTestSuites[0].Name)
	require.Equal(t, "a", project.AGTestSuites[0].Cases[0].Name)
	require.Len(t, project.AGTestSuites[0].Cases[0].Commands, 1)

	_, err = NewProjectRepository(db).GetByID(context.Background(), 999)
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestGroupRepositoryMembershipIsUniquePerProject(t *testing.T) {
	db := newTestDB(t)
	project := seedProject(t, db)
	repo := NewGroupRepository(db)
	ctx := context.Background()

	group := models.Group{ProjectID: project.ID}
	require.NoError(t, repo.Create(ctx, &group, []uint{1, 2}))
	require.Len(t, group.Memberships, 2)

	found, err := repo.GetByMember(ctx, project.ID, 2)
	require.NoError(t, err)
	require.Equal(t, group.ID, found.ID)
	require.ElementsMatch(t, []uint{1, 2}, found.MemberIDs())

	inGroup, err := repo.IsInGroup(ctx, project.ID, []uint{3, 2})
	require.NoError(t, err)
	require.True(t, inGroup)

	duplicate := models.Group{ProjectID: project.ID}
	require.Error(t, repo.Create(ctx, &duplicate, []uint{2}))

	_, err = repo.GetByMember(ctx, project.ID, 3)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestGroupRepositoryInvitationLifecycle(t *testing.T) {
	db := newTestDB(t)
	project := seedProject(t, db)
	repo := NewGroupRepository(db)
	ctx := context.Background()

	invitation := models.GroupInvitation{
		ProjectID:  project.ID,
		SenderID:   1,
		Recipients: []models.GroupInvitationRecipient{{UserID: 2}},
	}
	require.NoError(t, repo.CreateInvitation(ctx, &invitation))

	pending, err := repo.HasPendingInvitation(ctx, project.ID, []uint{2})
	require.NoError(t, err)
	require.True(t, pending)

	require.NoError(t, repo.AcceptInvitation(ctx, invitation.ID, 2))
	require.ErrorIs(t, repo.AcceptInvitation(ctx, invitation.ID, 5), gorm.ErrRecordNotFound)

	loaded, err := repo.GetInvitation(ctx, invitation.ID)
	require.NoError(t, err)
	require.True(t, loaded.AllAccepted())

	require.NoError(t, repo.DeleteInvitation(ctx, invitation.ID))
	pending, err = repo.HasPendingInvitation(ctx, project.ID, []uint{1})
	require.NoError(t, err)
	require.False(t, pending)
}

func TestGroupRepositoryListsSubmissionsNewestFirst(t *testing.T) {
	db := newTestDB(t)
	project := seedProject(t, db)
	repo := NewGroupRepository(db)
	ctx := context.Background()

	group := models.Group{ProjectID: project.ID}
	require.NoError(t, repo.Create(ctx, &group, []uint{2}))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	older := models.Submission{GroupID: group.ID, SubmitterID: 2, Timestamp: now.Add(-time.Hour), Status: models.SubmissionStatusFinishedGrading}
	newer := models.Submission{GroupID: group.ID, SubmitterID: 2, Timestamp: now, Status: models.SubmissionStatusFinishedGrading}
	require.NoError(t, db.Create(&older).Error)
	require.NoError(t, db.Create(&newer).Error)

	groups, total, err := repo.ListByProject(ctx, GroupFilter{ProjectID: project.ID, PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Submissions, 2)
	require.Equal(t, newer.ID, groups[0].Submissions[0].ID)
}

func TestGroupRepositoryListExcludesMembers(t *testing.T) {
	db := newTestDB(t)
	project := seedProject(t, db)
	repo := NewGroupRepository(db)
	ctx := context.Background()

	staffGroup := models.Group{ProjectID: project.ID}
	require.NoError(t, repo.Create(ctx, &staffGroup, []uint{1}))
	studentGroup := models.Group{ProjectID: project.ID}
	require.NoError(t, repo.Create(ctx, &studentGroup, []uint{2}))

	groups, total, err := repo.ListByProject(ctx, GroupFilter{ProjectID: project.ID, ExcludeMemberIDs: []uint{1}})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, groups, 1)
	require.Equal(t, studentGroup.ID, groups[0].ID)

	users := []models.User{{ID: 1, Username: "staff"}, {ID: 2, Username: "student"}}
	require.NoError(t, db.Create(&users).Error)
	listed, err := NewUserRepository(db).ListByIDs(ctx, []uint{2, 1, 99})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	require.Equal(t, "staff", listed[0].Username)
}

func TestSubmissionRepositoryIntakeCountsAndRollback(t *testing.T) {
	db := newTestDB(t)
	project := seedProject(t, db)
	groups := NewGroupRepository(db)
	repo := NewSubmissionRepository(db)
	ctx := context.Background()

	group := models.Group{ProjectID: project.ID}
	require.NoError(t, groups.Create(ctx, &group, []uint{2}))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seed := []models.Submission{
		{GroupID: group.ID, SubmitterID: 2, Timestamp: now.Add(-time.Hour), Status: models.SubmissionStatusFinishedGrading, CountTowardsDailyLimit: true, CountTowardsTotalLimit: true},
		{GroupID: group.ID, SubmitterID: 2, Timestamp: now.Add(-2 * time.Hour), Status: models.SubmissionStatusRemovedFromQueue, CountTowardsDailyLimit: true, CountTowardsTotalLimit: true},
		{GroupID: group.ID, SubmitterID: 2, Timestamp: now.Add(-30 * time.Hour), Status: models.SubmissionStatusFinishedGrading, CountTowardsDailyLimit: true},
	}
	require.NoError(t, db.Create(&seed).Error)

	err := repo.WithinGroupTx(ctx, group.ID, func(store IntakeStore, locked models.Group) error {
		require.Equal(t, []uint{2}, locked.MemberIDs())

		active, err := store.HasActiveSubmission(ctx, locked.ID)
		require.NoError(t, err)
		require.False(t, active)

		daily, err := store.CountTowardsDailyLimit(ctx, locked.ID, now.Add(-12*time.Hour), now.Add(12*time.Hour))
		require.NoError(t, err)
		require.Equal(t, int64(1), daily)

		total, err := store.CountTowardsTotalLimit(ctx, locked.ID)
		require.NoError(t, err)
		require.Equal(t, int64(2), total)

		remaining, err := store.LateDaysRemaining(ctx, project.CourseID, 2, 2)
		require.NoError(t, err)
		require.Equal(t, 2, remaining.LateDaysRemaining)
		return nil
	})
	require.NoError(t, err)

	rollback := errors.New("rejected")
	err = repo.WithinGroupTx(ctx, group.ID, func(store IntakeStore, locked models.Group) error {
		require.NoError(t, store.CreateSubmission(ctx, &models.Submission{GroupID: locked.ID, SubmitterID: 2, Timestamp: now, Status: models.SubmissionStatusReceived}))
		return rollback
	})
	require.ErrorIs(t, err, rollback)

	submissions, err := repo.List(ctx, SubmissionFilter{GroupID: &group.ID})
	require.NoError(t, err)
	require.Len(t, submissions, 3)
}

func TestSubmissionRepositoryTransitionsAndResults(t *testing.T) {
	db := newTestDB(t)
	project := seedProject(t, db)
	repo := NewSubmissionRepository(db)
	ctx := context.Background()

	group := models.Group{ProjectID: project.ID}
	require.NoError(t, NewGroupRepository(db).Create(ctx, &group, []uint{2}))

	submission := models.Submission{GroupID: group.ID, SubmitterID: 2, Timestamp: time.Now().UTC(), Status: models.SubmissionStatusQueued}
	require.NoError(t, db.Create(&submission).Error)

	moved, err := repo.TransitionStatus(ctx, submission.ID, models.SubmissionStatusReceived, models.SubmissionStatusQueued, "")
	require.NoError(t, err)
	require.False(t, moved)

	moved, err = repo.TransitionStatus(ctx, submission.ID, models.SubmissionStatusQueued, models.SubmissionStatusBeingGraded, "")
	require.NoError(t, err)
	require.True(t, moved)

	var command models.AGTestCommand
	require.NoError(t, db.Where("name = ?", "run").First(&command).Error)
	var kase models.AGTestCase
	require.NoError(t, db.First(&kase, command.AGTestCaseID).Error)

	code := 0
	correct := true
	err = repo.SaveResults(ctx, submission.ID, []models.AGTestSuiteResult{{
		AGTestSuiteID:   kase.AGTestSuiteID,
		SetupReturnCode: &code,
		CaseResults: []models.AGTestCaseResult{{
			AGTestCaseID: kase.ID,
			CommandResults: []models.AGTestCommandResult{{
				AGTestCommandID:   command.ID,
				ReturnCode:        &code,
				ReturnCodeCorrect: &correct,
			}},
		}},
	}})
	require.NoError(t, err)

	loaded, err := repo.GetWithResults(ctx, submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusBeingGraded, loaded.Status)
	require.Len(t, loaded.SuiteResults, 1)
	require.Len(t, loaded.SuiteResults[0].CaseResults, 1)
	require.True(t, *loaded.SuiteResults[0].CaseResults[0].CommandResults[0].ReturnCodeCorrect)
}

func TestSubmissionRepositoryListsPendingOldestFirst(t *testing.T) {
	db := newTestDB(t)
	project := seedProject(t, db)
	repo := NewSubmissionRepository(db)
	ctx := context.Background()

	group := models.Group{ProjectID: project.ID}
	require.NoError(t, NewGroupRepository(db).Create(ctx, &group, []uint{2}))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seed := []models.Submission{
		{GroupID: group.ID, SubmitterID: 2, Timestamp: now.Add(-time.Minute), Status: models.SubmissionStatusReceived},
		{GroupID: group.ID, SubmitterID: 2, Timestamp: now.Add(-time.Hour), Status: models.SubmissionStatusQueued},
		{GroupID: group.ID, SubmitterID: 2, Timestamp: now.Add(-2 * time.Hour), Status: models.SubmissionStatusFinishedGrading},
		{GroupID: group.ID, SubmitterID: 2, Timestamp: now.Add(-3 * time.Hour), Status: models.SubmissionStatusReceived},
	}
	require.NoError(t, db.Create(&seed).Error)

	pending := []models.SubmissionStatus{models.SubmissionStatusReceived, models.SubmissionStatusQueued}
	listed, err := repo.List(ctx, SubmissionFilter{Statuses: pending, OldestFirst: true})
	require.NoError(t, err)
	require.Len(t, listed, 3)
	require.Equal(t, []uint{seed[3].ID, seed[1].ID, seed[0].ID}, []uint{listed[0].ID, listed[1].ID, listed[2].ID})

	cutoff := now.Add(-30 * time.Minute)
	listed, err = repo.List(ctx, SubmissionFilter{Statuses: pending, SubmittedBefore: &cutoff, OldestFirst: true})
	require.NoError(t, err)
	require.Len(t, listed, 2, "the newest submission is not old enough")
	require.Equal(t, seed[3].ID, listed[0].ID)
}
