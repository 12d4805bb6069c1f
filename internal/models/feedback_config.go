package models

// ValueFeedbackLevel controls how much of a checked value a student may see.
type ValueFeedbackLevel string

const (
	ValueFeedbackLevelNone               ValueFeedbackLevel = "no_feedback"
	ValueFeedbackLevelCorrectOrIncorrect ValueFeedbackLevel = "correct_or_incorrect"
	ValueFeedbackLevelExpectedAndActual  ValueFeedbackLevel = "expected_and_actual"
)

// ShowsCorrectness reports whether the level reveals if the value was correct.
func (l ValueFeedbackLevel) ShowsCorrectness() bool {
	return l == ValueFeedbackLevelCorrectOrIncorrect || l == ValueFeedbackLevelExpectedAndActual
}

// ShowsExpectedAndActual reports whether the level reveals both values and their diff.
func (l ValueFeedbackLevel) ShowsExpectedAndActual() bool {
	return l == ValueFeedbackLevelExpectedAndActual
}

// AGTestSuiteFeedbackConfig is the author's disclosure setting for a suite in one tier.
type AGTestSuiteFeedbackConfig struct {
	Visible             bool `json:"visible"`
	ShowIndividualTests bool `json:"show_individual_tests"`
	ShowSetupReturnCode bool `json:"show_setup_return_code"`
	ShowSetupTimedOut   bool `json:"show_setup_timed_out"`
	ShowSetupStdout     bool `json:"show_setup_stdout"`
	ShowSetupStderr     bool `json:"show_setup_stderr"`
}

// MaxAGTestSuiteFeedbackConfig discloses everything about a suite.
func MaxAGTestSuiteFeedbackConfig() AGTestSuiteFeedbackConfig {
	return AGTestSuiteFeedbackConfig{
		Visible:             true,
		ShowIndividualTests: true,
		ShowSetupReturnCode: true,
		ShowSetupTimedOut:   true,
		ShowSetupStdout:     true,
		ShowSetupStderr:     true,
	}
}

// DefaultAGTestSuiteFeedbackConfig is the suite setting new tiers start with.
func DefaultAGTestSuiteFeedbackConfig() AGTestSuiteFeedbackConfig {
	return AGTestSuiteFeedbackConfig{
		Visible:             true,
		ShowIndividualTests: true,
		ShowSetupReturnCode: true,
		ShowSetupTimedOut:   true,
	}
}

// AGTestCaseFeedbackConfig is the author's disclosure setting for a test case in one tier.
type AGTestCaseFeedbackConfig struct {
	Visible                bool `json:"visible"`
	ShowIndividualCommands bool `json:"show_individual_commands"`
}

// MaxAGTestCaseFeedbackConfig discloses everything about a test case.
func MaxAGTestCaseFeedbackConfig() AGTestCaseFeedbackConfig {
	return AGTestCaseFeedbackConfig{Visible: true, ShowIndividualCommands: true}
}

// AGTestCommandFeedbackConfig is the author's disclosure setting for a command in one tier.
type AGTestCommandFeedbackConfig struct {
	Visible              bool               `json:"visible"`
	ReturnCodeFdbkLevel  ValueFeedbackLevel `gorm:"size:32" json:"return_code_fdbk_level"`
	StdoutFdbkLevel      ValueFeedbackLevel `gorm:"size:32" json:"stdout_fdbk_level"`
	StderrFdbkLevel      ValueFeedbackLevel `gorm:"size:32" json:"stderr_fdbk_level"`
	ShowPoints           bool               `json:"show_points"`
	ShowActualReturnCode bool               `json:"show_actual_return_code"`
	ShowActualStdout     bool               `json:"show_actual_stdout"`
	ShowActualStderr     bool               `json:"show_actual_stderr"`
	ShowWhetherTimedOut  bool               `json:"show_whether_timed_out"`
}

// MaxAGTestCommandFeedbackConfig discloses everything about a command.
func MaxAGTestCommandFeedbackConfig() AGTestCommandFeedbackConfig {
	return AGTestCommandFeedbackConfig{
		Visible:              true,
		ReturnCodeFdbkLevel:  ValueFeedbackLevelExpectedAndActual,
		StdoutFdbkLevel:      ValueFeedbackLevelExpectedAndActual,
		StderrFdbkLevel:      ValueFeedbackLevelExpectedAndActual,
		ShowPoints:           true,
		ShowActualReturnCode: true,
		ShowActualStdout:     true,
		ShowActualStderr:     true,
		ShowWhetherTimedOut:  true,
	}
}

// DefaultAGTestCommandFeedbackConfig shows correctness and points but no output.
func DefaultAGTestCommandFeedbackConfig() AGTestCommandFeedbackConfig {
	return AGTestCommandFeedbackConfig{
		Visible:             true,
		ReturnCodeFdbkLevel: ValueFeedbackLevelCorrectOrIncorrect,
		StdoutFdbkLevel:     ValueFeedbackLevelCorrectOrIncorrect,
		StderrFdbkLevel:     ValueFeedbackLevelCorrectOrIncorrect,
		ShowPoints:          true,
		ShowWhetherTimedOut: true,
	}
}
