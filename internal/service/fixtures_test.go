package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-autograder-api/internal/database"
	"github.com/noah-isme/gema-autograder-api/internal/events"
	"github.com/noah-isme/gema-autograder-api/internal/feedback"
	"github.com/noah-isme/gema-autograder-api/internal/models"
	"github.com/noah-isme/gema-autograder-api/internal/repository"
)

const (
	adminID   uint = 1
	staffID   uint = 2
	studentID uint = 10
	partnerID uint = 11
	loneID    uint = 12
	outsideID uint = 99
)

var fixtureNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type serviceFixture struct {
	db          *gorm.DB
	project     models.Project
	suiteID     uint
	caseID      uint
	commandID   uint
	projects    repository.ProjectRepository
	groups      repository.GroupRepository
	submissions repository.SubmissionRepository
	users       repository.UserRepository
	engine      feedback.Engine
	validator   *validator.Validate
}

func newServiceFixture(t *testing.T, configure func(*models.Project)) *serviceFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	users := []models.User{
		{ID: adminID, Username: "admin"},
		{ID: staffID, Username: "staff"},
		{ID: studentID, Username: "student"},
		{ID: partnerID, Username: "partner"},
		{ID: loneID, Username: "lone"},
	}
	require.NoError(t, db.Create(&users).Error)

	course := models.Course{
		Name:        "EECS 490",
		NumLateDays: 2,
		Memberships: []models.CourseMembership{
			{UserID: adminID, Role: models.CourseRoleAdmin},
			{UserID: staffID, Role: models.CourseRoleStaff},
			{UserID: studentID, Role: models.CourseRoleStudent},
			{UserID: partnerID, Role: models.CourseRoleStudent},
			{UserID: loneID, Role: models.CourseRoleStudent},
		},
	}
	require.NoError(t, db.Create(&course).Error)

	project := models.Project{
		CourseID:                 course.ID,
		Name:                     "Interpreter",
		VisibleToStudents:        true,
		MinGroupSize:             1,
		MaxGroupSize:             3,
		UltimateSubmissionPolicy: models.UltimateSubmissionPolicyMostRecent,
	}
	if configure != nil {
		configure(&project)
	}
	require.NoError(t, db.Create(&project).Error)

	suite := models.AGTestSuite{
		ProjectID:               project.ID,
		Name:                    "public",
		NormalFdbk:              models.DefaultAGTestSuiteFeedbackConfig(),
		UltimateSubmissionFdbk:  models.DefaultAGTestSuiteFeedbackConfig(),
		PastLimitSubmissionFdbk: models.DefaultAGTestSuiteFeedbackConfig(),
		StaffViewerFdbk:         models.MaxAGTestSuiteFeedbackConfig(),
		Cases: []models.AGTestCase{{
			Name:                    "hello",
			NormalFdbk:              models.MaxAGTestCaseFeedbackConfig(),
			UltimateSubmissionFdbk:  models.MaxAGTestCaseFeedbackConfig(),
			PastLimitSubmissionFdbk: models.MaxAGTestCaseFeedbackConfig(),
			StaffViewerFdbk:         models.MaxAGTestCaseFeedbackConfig(),
			Commands: []models.AGTestCommand{{
				Name:                       "run",
				Cmd:                        "python3 hello.py",
				TimeLimitSeconds:           10,
				ExpectedReturnCode:         models.ExpectedReturnCodeZero,
				ExpectedStdoutSource:       models.ExpectedOutputSourceNone,
				ExpectedStderrSource:       models.ExpectedOutputSourceNone,
				PointsForCorrectReturnCode: 2,
				NormalFdbk:                 models.DefaultAGTestCommandFeedbackConfig(),
				UltimateSubmissionFdbk:     models.DefaultAGTestCommandFeedbackConfig(),
				PastLimitSubmissionFdbk:    models.DefaultAGTestCommandFeedbackConfig(),
				StaffViewerFdbk:            models.MaxAGTestCommandFeedbackConfig(),
			}},
		}},
	}
	require.NoError(t, db.Create(&suite).Error)

	engine := feedback.NewEngine(feedback.NewRoleResolver(nil))
	return &serviceFixture{
		db:          db,
		project:     project,
		suiteID:     suite.ID,
		caseID:      suite.Cases[0].ID,
		commandID:   suite.Cases[0].Commands[0].ID,
		projects:    repository.NewProjectRepository(db),
		groups:      repository.NewGroupRepository(db),
		submissions: repository.NewSubmissionRepository(db),
		users:       repository.NewUserRepository(db),
		engine:      engine,
		validator:   validator.New(),
	}
}

func (f *serviceFixture) addGroup(t *testing.T, members ...uint) models.Group {
	t.Helper()
	group := models.Group{ProjectID: f.project.ID, BonusSubmissionsRemaining: f.project.NumBonusSubmissions}
	require.NoError(t, f.groups.Create(context.Background(), &group, members))
	return group
}

// addSubmission stores a graded submission whose single command passed or failed.
func (f *serviceFixture) addSubmission(t *testing.T, group models.Group, submitter uint, timestamp time.Time, status models.SubmissionStatus, passed bool) models.Submission {
	t.Helper()
	code := 0
	if !passed {
		code = 1
	}
	submission := models.Submission{
		GroupID:                group.ID,
		SubmitterID:            submitter,
		Timestamp:              timestamp,
		Status:                 status,
		CountTowardsDailyLimit: true,
		CountTowardsTotalLimit: true,
		SuiteResults: []models.AGTestSuiteResult{{
			AGTestSuiteID: f.suiteID,
			CaseResults: []models.AGTestCaseResult{{
				AGTestCaseID: f.caseID,
				CommandResults: []models.AGTestCommandResult{{
					AGTestCommandID:   f.commandID,
					ReturnCode:        &code,
					ReturnCodeCorrect: &passed,
				}},
			}},
		}},
	}
	require.NoError(t, f.db.Create(&submission).Error)
	return submission
}

func (f *serviceFixture) submissionService(uploader FileUploader, publisher SubmissionEvents, cache FeedbackCacheInvalidator) *submissionService {
	svc := NewSubmissionService(f.submissions, f.groups, f.projects, f.engine, f.validator, uploader, publisher, cache, zerolog.Nop()).(*submissionService)
	svc.now = func() time.Time { return fixtureNow }
	return svc
}

type recordingUploader struct {
	mu      sync.Mutex
	folders []string
	names   []string
	err     error
}

func (u *recordingUploader) Upload(_ context.Context, folder, name string, reader io.Reader) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	if _, err := io.ReadAll(reader); err != nil {
		return "", err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.folders = append(u.folders, folder)
	u.names = append(u.names, name)

	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("https://res.cloudinary.com/demo/raw/upload/autograder/%s/%s--%d%s", folder, stem, len(u.names), ext), nil
}

type recordingEvents struct {
	mu          sync.Mutex
	received    []events.SubmissionEvent
	statuses    []events.SubmissionEvent
	rejected    []events.InvitationEvent
	invalidated []uint
}

func (r *recordingEvents) SubmissionReceived(_ context.Context, event events.SubmissionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, event)
	return nil
}

func (r *recordingEvents) SubmissionStatusChanged(_ context.Context, event events.SubmissionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, event)
	return nil
}

func (r *recordingEvents) InvitationRejected(_ context.Context, event events.InvitationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, event)
	return nil
}

func (r *recordingEvents) InvalidateCache(_ context.Context, submissionID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, submissionID)
	return nil
}

// formFiles builds multipart headers the way fiber hands them to handlers.
func formFiles(t *testing.T, files map[string]string) []*multipart.FileHeader {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, name := range names {
		part, err := writer.CreateFormFile("submitted_files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	form, err := multipart.NewReader(body, writer.Boundary()).ReadForm(1 << 20)
	require.NoError(t, err)
	return form.File["submitted_files"]
}

func intPtr(v int) *int { return &v }

func timePtr(v time.Time) *time.Time { return &v }
