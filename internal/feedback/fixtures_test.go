package feedback

import (
	"time"

	"github.com/noah-isme/gema-autograder-api/internal/models"
)

const (
	adminID      uint = 1
	staffID      uint = 2
	handgraderID uint = 3
	studentID    uint = 4
	partnerID    uint = 5
	outsiderID   uint = 6
	guestID      uint = 7

	suiteID        uint = 10
	visibleCaseID  uint = 100
	hiddenCaseID   uint = 101
	visibleCommand uint = 1000
	hiddenCommand  uint = 1001
	studentGroupID uint = 50
	staffGroupID   uint = 51
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testCourse() models.Course {
	return models.Course{
		ID:   1,
		Name: "EECS 280",
		Memberships: []models.CourseMembership{
			{CourseID: 1, UserID: adminID, Role: models.CourseRoleAdmin},
			{CourseID: 1, UserID: staffID, Role: models.CourseRoleStaff},
			{CourseID: 1, UserID: staffID, Role: models.CourseRoleStudent},
			{CourseID: 1, UserID: handgraderID, Role: models.CourseRoleHandgrader},
			{CourseID: 1, UserID: studentID, Role: models.CourseRoleStudent},
			{CourseID: 1, UserID: partnerID, Role: models.CourseRoleStudent},
			{CourseID: 1, UserID: outsiderID, Role: models.CourseRoleStudent},
		},
	}
}

// testSuites defines one suite with a case visible in every tier and a case
// only visible on the ultimate submission. Max score is 8.
func testSuites() []models.AGTestSuite {
	defaultCommand := models.DefaultAGTestCommandFeedbackConfig()

	return []models.AGTestSuite{{
		ID:                      suiteID,
		Name:                    "Public tests",
		SetupSuiteCmdName:       "compile",
		NormalFdbk:              models.DefaultAGTestSuiteFeedbackConfig(),
		UltimateSubmissionFdbk:  models.DefaultAGTestSuiteFeedbackConfig(),
		PastLimitSubmissionFdbk: models.DefaultAGTestSuiteFeedbackConfig(),
		StaffViewerFdbk:         models.MaxAGTestSuiteFeedbackConfig(),
		Cases: []models.AGTestCase{
			{
				ID:                      visibleCaseID,
				AGTestSuiteID:           suiteID,
				Name:                    "hello",
				SortOrder:               0,
				NormalFdbk:              models.AGTestCaseFeedbackConfig{Visible: true, ShowIndividualCommands: true},
				UltimateSubmissionFdbk:  models.AGTestCaseFeedbackConfig{Visible: true, ShowIndividualCommands: true},
				PastLimitSubmissionFdbk: models.AGTestCaseFeedbackConfig{Visible: true, ShowIndividualCommands: true},
				StaffViewerFdbk:         models.MaxAGTestCaseFeedbackConfig(),
				Commands: []models.AGTestCommand{{
					ID:                         visibleCommand,
					AGTestCaseID:               visibleCaseID,
					Name:                       "run hello",
					Cmd:                        "python3 hello.py",
					ExpectedReturnCode:         models.ExpectedReturnCodeZero,
					ExpectedStdoutSource:       models.ExpectedOutputSourceText,
					ExpectedStdout:             "hello\n",
					PointsForCorrectReturnCode: 3,
					PointsForCorrectStdout:     2,
					NormalFdbk:                 defaultCommand,
					UltimateSubmissionFdbk:     defaultCommand,
					PastLimitSubmissionFdbk:    defaultCommand,
					StaffViewerFdbk:            models.MaxAGTestCommandFeedbackConfig(),
				}},
			},
			{
				ID:                      hiddenCaseID,
				AGTestSuiteID:           suiteID,
				Name:                    "secret",
				SortOrder:               1,
				NormalFdbk:              models.AGTestCaseFeedbackConfig{Visible: false},
				UltimateSubmissionFdbk:  models.AGTestCaseFeedbackConfig{Visible: true, ShowIndividualCommands: true},
				PastLimitSubmissionFdbk: models.AGTestCaseFeedbackConfig{Visible: false},
				StaffViewerFdbk:         models.MaxAGTestCaseFeedbackConfig(),
				Commands: []models.AGTestCommand{{
					ID:                         hiddenCommand,
					AGTestCaseID:               hiddenCaseID,
					Name:                       "run secret",
					Cmd:                        "python3 secret.py",
					ExpectedReturnCode:         models.ExpectedReturnCodeZero,
					PointsForCorrectReturnCode: 3,
					NormalFdbk:                 defaultCommand,
					UltimateSubmissionFdbk:     defaultCommand,
					PastLimitSubmissionFdbk:    defaultCommand,
					StaffViewerFdbk:            models.MaxAGTestCommandFeedbackConfig(),
				}},
			},
		},
	}}
}

func testProject() models.Project {
	return models.Project{
		ID:                       20,
		CourseID:                 1,
		Name:                     "Project 1",
		VisibleToStudents:        true,
		UltimateSubmissionPolicy: models.UltimateSubmissionPolicyMostRecent,
		Course:                   testCourse(),
		AGTestSuites:             testSuites(),
	}
}

func testGroup(id uint, members ...uint) models.Group {
	group := models.Group{ID: id, ProjectID: 20}
	for _, member := range members {
		group.Memberships = append(group.Memberships, models.GroupMembership{GroupID: id, ProjectID: 20, UserID: member})
	}
	return group
}

func boolPtr(v bool) *bool { return &v }

func intPtr(v int) *int { return &v }

func timePtr(v time.Time) *time.Time { return &v }

// gradedSubmission builds a finished submission. helloPasses controls both the
// return code and stdout of the visible case, secretPasses the hidden case.
func gradedSubmission(id, groupID uint, timestamp time.Time, helloPasses, secretPasses bool) models.Submission {
	stdout := "hello\n"
	if !helloPasses {
		stdout = "goodbye\n"
	}
	helloCode, secretCode := 0, 0
	if !helloPasses {
		helloCode = 1
	}
	if !secretPasses {
		secretCode = 2
	}

	return models.Submission{
		ID:        id,
		GroupID:   groupID,
		Timestamp: timestamp,
		Status:    models.SubmissionStatusFinishedGrading,
		SuiteResults: []models.AGTestSuiteResult{{
			ID:              id * 10,
			SubmissionID:    id,
			AGTestSuiteID:   suiteID,
			SetupReturnCode: intPtr(0),
			SetupStdout:     "compiled",
			CaseResults: []models.AGTestCaseResult{
				{
					ID:           id*100 + 1,
					AGTestCaseID: visibleCaseID,
					CommandResults: []models.AGTestCommandResult{{
						ID:                id*1000 + 1,
						AGTestCommandID:   visibleCommand,
						ReturnCode:        intPtr(helloCode),
						ReturnCodeCorrect: boolPtr(helloPasses),
						StdoutCorrect:     boolPtr(helloPasses),
						Stdout:            stdout,
					}},
				},
				{
					ID:           id*100 + 2,
					AGTestCaseID: hiddenCaseID,
					CommandResults: []models.AGTestCommandResult{{
						ID:                id*1000 + 2,
						AGTestCommandID:   hiddenCommand,
						ReturnCode:        intPtr(secretCode),
						ReturnCodeCorrect: boolPtr(secretPasses),
					}},
				},
			},
		}},
	}
}
