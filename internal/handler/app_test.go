package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-autograder-api/internal/config"
	"github.com/noah-isme/gema-autograder-api/internal/database"
	"github.com/noah-isme/gema-autograder-api/internal/events"
	"github.com/noah-isme/gema-autograder-api/internal/feedback"
	"github.com/noah-isme/gema-autograder-api/internal/handler"
	"github.com/noah-isme/gema-autograder-api/internal/models"
	"github.com/noah-isme/gema-autograder-api/internal/repository"
	"github.com/noah-isme/gema-autograder-api/internal/router"
	"github.com/noah-isme/gema-autograder-api/internal/service"
)

const (
	adminID   uint = 1
	staffID   uint = 2
	studentID uint = 10
	partnerID uint = 11
	loneID    uint = 12
)

type testUploader struct{}

func (testUploader) Upload(_ context.Context, folder, name string, _ io.Reader) (string, error) {
	return "https://res.cloudinary.com/demo/raw/upload/" + folder + "/" + strings.Replace(name, ".", "--abc.", 1), nil
}

type testApp struct {
	app        *fiber.App
	db         *gorm.DB
	project    models.Project
	group      models.Group
	submission models.Submission
}

// newTestApp seeds a course with one project, a two person group and one
// graded submission, and serves the full router over sqlite. Requests pick
// their user with the X-User-ID header and their token role with X-User-Role.
func newTestApp(t *testing.T) *testApp {
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
		Name: "EECS 281",
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
		Name:                     "Graphs",
		VisibleToStudents:        true,
		MinGroupSize:             1,
		MaxGroupSize:             2,
		UltimateSubmissionPolicy: models.UltimateSubmissionPolicyMostRecent,
	}
	require.NoError(t, db.Create(&project).Error)

	suite := models.AGTestSuite{
		ProjectID:               project.ID,
		Name:                    "public",
		NormalFdbk:              models.MaxAGTestSuiteFeedbackConfig(),
		UltimateSubmissionFdbk:  models.MaxAGTestSuiteFeedbackConfig(),
		PastLimitSubmissionFdbk: models.DefaultAGTestSuiteFeedbackConfig(),
		StaffViewerFdbk:         models.MaxAGTestSuiteFeedbackConfig(),
		Cases: []models.AGTestCase{{
			Name:                    "bfs",
			NormalFdbk:              models.MaxAGTestCaseFeedbackConfig(),
			UltimateSubmissionFdbk:  models.MaxAGTestCaseFeedbackConfig(),
			PastLimitSubmissionFdbk: models.MaxAGTestCaseFeedbackConfig(),
			StaffViewerFdbk:         models.MaxAGTestCaseFeedbackConfig(),
			Commands: []models.AGTestCommand{{
				Name:                       "run",
				Cmd:                        "./bfs < graph.txt",
				TimeLimitSeconds:           10,
				ExpectedReturnCode:         models.ExpectedReturnCodeZero,
				ExpectedStdoutSource:       models.ExpectedOutputSourceText,
				ExpectedStdout:             "1 2 3\n",
				ExpectedStderrSource:       models.ExpectedOutputSourceNone,
				PointsForCorrectReturnCode: 1,
				PointsForCorrectStdout:     3,
				NormalFdbk:                 models.MaxAGTestCommandFeedbackConfig(),
				UltimateSubmissionFdbk:     models.MaxAGTestCommandFeedbackConfig(),
				PastLimitSubmissionFdbk:    models.DefaultAGTestCommandFeedbackConfig(),
				StaffViewerFdbk:            models.MaxAGTestCommandFeedbackConfig(),
			}},
		}},
	}
	require.NoError(t, db.Create(&suite).Error)

	groups := repository.NewGroupRepository(db)
	group := models.Group{ProjectID: project.ID}
	require.NoError(t, groups.Create(context.Background(), &group, []uint{studentID, partnerID}))

	code := 0
	passed := true
	submission := models.Submission{
		GroupID:                group.ID,
		SubmitterID:            studentID,
		Timestamp:              time.Now().Add(-time.Hour),
		Status:                 models.SubmissionStatusFinishedGrading,
		CountTowardsDailyLimit: true,
		CountTowardsTotalLimit: true,
		SubmittedFiles:         []string{"https://res.cloudinary.com/demo/raw/upload/bfs--abc.cpp"},
		SuiteResults: []models.AGTestSuiteResult{{
			AGTestSuiteID: suite.ID,
			CaseResults: []models.AGTestCaseResult{{
				AGTestCaseID: suite.Cases[0].ID,
				CommandResults: []models.AGTestCommandResult{{
					AGTestCommandID:   suite.Cases[0].Commands[0].ID,
					ReturnCode:        &code,
					ReturnCodeCorrect: &passed,
					StdoutCorrect:     &passed,
					Stdout:            "1 2 3\n",
				}},
			}},
		}},
	}
	require.NoError(t, db.Create(&submission).Error)

	logger := zerolog.Nop()
	validate := validator.New(validator.WithRequiredStructEnabled())
	bus := events.NewBus(nil, "autograder", logger)
	engine := feedback.NewEngine(feedback.NewRoleResolver(nil))

	projectRepo := repository.NewProjectRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	userRepo := repository.NewUserRepository(db)

	feedbackService := service.NewFeedbackService(projectRepo, groups, submissionRepo, userRepo, engine, nil, time.Minute, logger)
	submissionService := service.NewSubmissionService(submissionRepo, groups, projectRepo, engine, validate, testUploader{}, bus, feedbackService, logger)
	groupService := service.NewGroupService(groups, projectRepo, userRepo, engine.Roles(), validate, bus, logger)

	app := fiber.New()
	router.Register(app, config.Config{AppName: "Test", AppEnv: "test", JWTSecret: "secret"}, router.Dependencies{
		FeedbackHandler:   handler.NewFeedbackHandler(feedbackService, validate, logger),
		SubmissionHandler: handler.NewSubmissionHandler(submissionService, logger),
		GroupHandler:      handler.NewGroupHandler(groupService, logger),
		JWTMiddleware: func(c *fiber.Ctx) error {
			if raw := c.Get("X-User-ID"); raw != "" {
				id, err := strconv.ParseUint(raw, 10, 64)
				if err != nil {
					return fiber.ErrUnauthorized
				}
				c.Locals("user_id", uint(id))
			}
			if role := c.Get("X-User-Role"); role != "" {
				c.Locals("user_role", role)
			}
			return c.Next()
		},
	})

	return &testApp{app: app, db: db, project: project, group: group, submission: submission}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
	Details json.RawMessage `json:"details"`
}

func (a *testApp) do(t *testing.T, method, path string, userID uint, body io.Reader, contentType string) (*http.Response, envelope) {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if userID != 0 {
		req.Header.Set("X-User-ID", strconv.FormatUint(uint64(userID), 10))
	}
	return a.send(t, req)
}

func (a *testApp) send(t *testing.T, req *http.Request) (*http.Response, envelope) {
	t.Helper()

	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	var payload envelope
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &payload), string(raw))
	}
	return resp, payload
}

func (a *testApp) get(t *testing.T, path string, userID uint) (*http.Response, envelope) {
	t.Helper()
	return a.do(t, http.MethodGet, path, userID, nil, "")
}

func (a *testApp) sendJSON(t *testing.T, method, path string, userID uint, payload interface{}) (*http.Response, envelope) {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return a.do(t, method, path, userID, bytes.NewReader(body), fiber.MIMEApplicationJSON)
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, content := range files {
		part, err := writer.CreateFormFile("submitted_files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}
