package models

import "time"

// ExpectedReturnCode is the return code check applied to a command.
type ExpectedReturnCode string

const (
	ExpectedReturnCodeNone    ExpectedReturnCode = "none"
	ExpectedReturnCodeZero    ExpectedReturnCode = "zero"
	ExpectedReturnCodeNonzero ExpectedReturnCode = "nonzero"
)

// Checked reports whether a return code check is configured.
func (e ExpectedReturnCode) Checked() bool {
	return e == ExpectedReturnCodeZero || e == ExpectedReturnCodeNonzero
}

// Matches reports whether the return code satisfies the check.
func (e ExpectedReturnCode) Matches(code int) bool {
	switch e {
	case ExpectedReturnCodeZero:
		return code == 0
	case ExpectedReturnCodeNonzero:
		return code != 0
	default:
		return false
	}
}

// ExpectedOutputSource says where a command's expected output comes from.
type ExpectedOutputSource string

const (
	ExpectedOutputSourceNone ExpectedOutputSource = "none"
	ExpectedOutputSourceText ExpectedOutputSource = "text"
)

// Checked reports whether the output is compared against an expected value.
func (e ExpectedOutputSource) Checked() bool {
	return e == ExpectedOutputSourceText
}

// AGTestSuite groups test cases that share a setup command.
type AGTestSuite struct {
	ID                      uint                      `gorm:"primaryKey" json:"id"`
	ProjectID               uint                      `gorm:"not null;index" json:"project_id"`
	Name                    string                    `gorm:"size:255;not null" json:"name"`
	SortOrder               int                       `gorm:"not null" json:"sort_order"`
	SetupSuiteCmd           string                    `gorm:"type:text" json:"setup_suite_cmd"`
	SetupSuiteCmdName       string                    `gorm:"size:255" json:"setup_suite_cmd_name"`
	NormalFdbk              AGTestSuiteFeedbackConfig `gorm:"embedded;embeddedPrefix:normal_fdbk_" json:"normal_fdbk_config"`
	UltimateSubmissionFdbk  AGTestSuiteFeedbackConfig `gorm:"embedded;embeddedPrefix:ultimate_fdbk_" json:"ultimate_submission_fdbk_config"`
	PastLimitSubmissionFdbk AGTestSuiteFeedbackConfig `gorm:"embedded;embeddedPrefix:past_limit_fdbk_" json:"past_limit_submission_fdbk_config"`
	StaffViewerFdbk         AGTestSuiteFeedbackConfig `gorm:"embedded;embeddedPrefix:staff_viewer_fdbk_" json:"staff_viewer_fdbk_config"`
	Cases                   []AGTestCase              `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	CreatedAt               time.Time                 `json:"created_at"`
	UpdatedAt               time.Time                 `json:"updated_at"`
}

// AGTestCase groups the commands that together make up one test.
type AGTestCase struct {
	ID                      uint                     `gorm:"primaryKey" json:"id"`
	AGTestSuiteID           uint                     `gorm:"not null;index" json:"ag_test_suite_id"`
	Name                    string                   `gorm:"size:255;not null" json:"name"`
	SortOrder               int                      `gorm:"not null" json:"sort_order"`
	NormalFdbk              AGTestCaseFeedbackConfig `gorm:"embedded;embeddedPrefix:normal_fdbk_" json:"normal_fdbk_config"`
	UltimateSubmissionFdbk  AGTestCaseFeedbackConfig `gorm:"embedded;embeddedPrefix:ultimate_fdbk_" json:"ultimate_submission_fdbk_config"`
	PastLimitSubmissionFdbk AGTestCaseFeedbackConfig `gorm:"embedded;embeddedPrefix:past_limit_fdbk_" json:"past_limit_submission_fdbk_config"`
	StaffViewerFdbk         AGTestCaseFeedbackConfig `gorm:"embedded;embeddedPrefix:staff_viewer_fdbk_" json:"staff_viewer_fdbk_config"`
	Commands                []AGTestCommand          `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// VisibleToStudents is the case's visibility in normal feedback.
func (c AGTestCase) VisibleToStudents() bool {
	return c.NormalFdbk.Visible
}

// VisibleInPastLimitSubmission is the case's visibility on submissions past the daily limit.
func (c AGTestCase) VisibleInPastLimitSubmission() bool {
	return c.PastLimitSubmissionFdbk.Visible
}

// VisibleInUltimateSubmission is the case's visibility on the ultimate submission.
func (c AGTestCase) VisibleInUltimateSubmission() bool {
	return c.UltimateSubmissionFdbk.Visible
}

// AGTestCommand is a single command run and checked against a submission.
type AGTestCommand struct {
	ID                          uint                        `gorm:"primaryKey" json:"id"`
	AGTestCaseID                uint                        `gorm:"not null;index" json:"ag_test_case_id"`
	Name                        string                      `gorm:"size:255;not null" json:"name"`
	SortOrder                   int                         `gorm:"not null" json:"sort_order"`
	Cmd                         string                      `gorm:"type:text;not null" json:"cmd"`
	Stdin                       string                      `gorm:"type:text" json:"stdin"`
	TimeLimitSeconds            int                         `gorm:"not null" json:"time_limit"`
	ExpectedReturnCode          ExpectedReturnCode          `gorm:"size:16" json:"expected_return_code"`
	ExpectedStdoutSource        ExpectedOutputSource        `gorm:"size:16" json:"expected_stdout_source"`
	ExpectedStdout              string                      `gorm:"type:text" json:"expected_stdout_text"`
	ExpectedStderrSource        ExpectedOutputSource        `gorm:"size:16" json:"expected_stderr_source"`
	ExpectedStderr              string                      `gorm:"type:text" json:"expected_stderr_text"`
	IgnoreCase                  bool                        `json:"ignore_case"`
	IgnoreWhitespace            bool                        `json:"ignore_whitespace"`
	IgnoreWhitespaceChanges     bool                        `json:"ignore_whitespace_changes"`
	IgnoreBlankLines            bool                        `json:"ignore_blank_lines"`
	PointsForCorrectReturnCode  int                         `json:"points_for_correct_return_code"`
	DeductionForWrongReturnCode int                         `json:"deduction_for_wrong_return_code"`
	PointsForCorrectStdout      int                         `json:"points_for_correct_stdout"`
	DeductionForWrongStdout     int                         `json:"deduction_for_wrong_stdout"`
	PointsForCorrectStderr      int                         `json:"points_for_correct_stderr"`
	DeductionForWrongStderr     int                         `json:"deduction_for_wrong_stderr"`
	NormalFdbk                  AGTestCommandFeedbackConfig `gorm:"embedded;embeddedPrefix:normal_fdbk_" json:"normal_fdbk_config"`
	UseFirstFailedTestFdbk      bool                        `json:"use_first_failed_test_normal_fdbk"`
	FirstFailedTestNormalFdbk   AGTestCommandFeedbackConfig `gorm:"embedded;embeddedPrefix:first_failed_fdbk_" json:"first_failed_test_normal_fdbk_config"`
	UltimateSubmissionFdbk      AGTestCommandFeedbackConfig `gorm:"embedded;embeddedPrefix:ultimate_fdbk_" json:"ultimate_submission_fdbk_config"`
	PastLimitSubmissionFdbk     AGTestCommandFeedbackConfig `gorm:"embedded;embeddedPrefix:past_limit_fdbk_" json:"past_limit_submission_fdbk_config"`
	StaffViewerFdbk             AGTestCommandFeedbackConfig `gorm:"embedded;embeddedPrefix:staff_viewer_fdbk_" json:"staff_viewer_fdbk_config"`
}
