package models

// AGTestSuiteResult holds the outcome of running one suite against a submission.
type AGTestSuiteResult struct {
	ID                   uint               `gorm:"primaryKey" json:"id"`
	SubmissionID         uint               `gorm:"not null;uniqueIndex:idx_suite_result_submission_suite" json:"submission_id"`
	AGTestSuiteID        uint               `gorm:"not null;uniqueIndex:idx_suite_result_submission_suite" json:"ag_test_suite_id"`
	SetupReturnCode      *int               `json:"setup_return_code"`
	SetupTimedOut        bool               `json:"setup_timed_out"`
	SetupStdout          string             `gorm:"type:text" json:"-"`
	SetupStderr          string             `gorm:"type:text" json:"-"`
	SetupStdoutTruncated bool               `json:"setup_stdout_truncated"`
	SetupStderrTruncated bool               `json:"setup_stderr_truncated"`
	CaseResults          []AGTestCaseResult `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// AGTestCaseResult holds the command results for one test case.
type AGTestCaseResult struct {
	ID                  uint                  `gorm:"primaryKey" json:"id"`
	AGTestSuiteResultID uint                  `gorm:"not null;index" json:"ag_test_suite_result_id"`
	AGTestCaseID        uint                  `gorm:"not null;index" json:"ag_test_case_id"`
	CommandResults      []AGTestCommandResult `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// AGTestCommandResult is the raw outcome of one command. Nil correctness
// fields mean the value was not checked.
type AGTestCommandResult struct {
	ID                 uint   `gorm:"primaryKey" json:"id"`
	AGTestCaseResultID uint   `gorm:"not null;index" json:"ag_test_case_result_id"`
	AGTestCommandID    uint   `gorm:"not null;index" json:"ag_test_command_id"`
	ReturnCode         *int   `json:"return_code"`
	TimedOut           bool   `json:"timed_out"`
	ReturnCodeCorrect  *bool  `json:"return_code_correct"`
	StdoutCorrect      *bool  `json:"stdout_correct"`
	StderrCorrect      *bool  `json:"stderr_correct"`
	Stdout             string `gorm:"type:text" json:"-"`
	Stderr             string `gorm:"type:text" json:"-"`
	StdoutTruncated    bool   `json:"stdout_truncated"`
	StderrTruncated    bool   `json:"stderr_truncated"`
}
