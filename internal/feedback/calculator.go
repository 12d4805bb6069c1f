package feedback

import (
	"sort"

	"github.com/noah-isme/gema-autograder-api/internal/models"
)

// SubmissionFeedback is the disclosed view of a submission's results.
type SubmissionFeedback struct {
	SubmissionID        uint            `json:"pk"`
	Category            Category        `json:"feedback_category"`
	TotalPoints         int             `json:"total_points"`
	TotalPointsPossible int             `json:"total_points_possible"`
	Suites              []SuiteFeedback `json:"ag_test_suite_results"`
}

// SuiteFeedback is the disclosed view of one suite result.
type SuiteFeedback struct {
	ID                  uint                             `json:"pk"`
	SuiteID             uint                             `json:"ag_test_suite_pk"`
	SuiteName           string                           `json:"ag_test_suite_name"`
	Settings            models.AGTestSuiteFeedbackConfig `json:"fdbk_settings"`
	TotalPoints         int                              `json:"total_points"`
	TotalPointsPossible int                              `json:"total_points_possible"`
	SetupName           *string                          `json:"setup_name"`
	SetupReturnCode     *int                             `json:"setup_return_code"`
	SetupTimedOut       *bool                            `json:"setup_timed_out"`
	SetupStdout         *string                          `json:"setup_stdout,omitempty"`
	SetupStderr         *string                          `json:"setup_stderr,omitempty"`
	Cases               []CaseFeedback                   `json:"ag_test_case_results"`
}

// CaseFeedback is the disclosed view of one test case result.
type CaseFeedback struct {
	ID                  uint                            `json:"pk"`
	CaseID              uint                            `json:"ag_test_case_pk"`
	CaseName            string                          `json:"ag_test_case_name"`
	Settings            models.AGTestCaseFeedbackConfig `json:"fdbk_settings"`
	TotalPoints         int                             `json:"total_points"`
	TotalPointsPossible int                             `json:"total_points_possible"`
	Commands            []CommandFeedback               `json:"ag_test_command_results"`
}

// CommandFeedback is the disclosed view of one command result.
type CommandFeedback struct {
	ID                       uint                               `json:"pk"`
	CommandID                uint                               `json:"ag_test_command_pk"`
	CommandName              string                             `json:"ag_test_command_name"`
	Settings                 models.AGTestCommandFeedbackConfig `json:"fdbk_settings"`
	TimedOut                 *bool                              `json:"timed_out"`
	ReturnCodeCorrect        *bool                              `json:"return_code_correct"`
	ExpectedReturnCode       *models.ExpectedReturnCode         `json:"expected_return_code"`
	ActualReturnCode         *int                               `json:"actual_return_code"`
	ReturnCodePoints         int                                `json:"return_code_points"`
	ReturnCodePointsPossible int                                `json:"return_code_points_possible"`
	StdoutCorrect            *bool                              `json:"stdout_correct"`
	Stdout                   *string                            `json:"stdout,omitempty"`
	StdoutDiff               *string                            `json:"stdout_diff,omitempty"`
	StdoutPoints             int                                `json:"stdout_points"`
	StdoutPointsPossible     int                                `json:"stdout_points_possible"`
	StderrCorrect            *bool                              `json:"stderr_correct"`
	Stderr                   *string                            `json:"stderr,omitempty"`
	StderrDiff               *string                            `json:"stderr_diff,omitempty"`
	StderrPoints             int                                `json:"stderr_points"`
	StderrPointsPossible     int                                `json:"stderr_points_possible"`
	TotalPoints              int                                `json:"total_points"`
	TotalPointsPossible      int                                `json:"total_points_possible"`
}

// Build renders the submission's results under the mask. Hidden results are
// omitted and never contribute to any total.
func Build(submission models.Submission, index TestIndex, mask FieldMask) SubmissionFeedback {
	out := SubmissionFeedback{
		SubmissionID: submission.ID,
		Category:     mask.Category(),
		Suites:       []SuiteFeedback{},
	}

	type visibleSuite struct {
		order  int
		result models.AGTestSuiteResult
		suite  models.AGTestSuite
		config models.AGTestSuiteFeedbackConfig
	}

	visible := make([]visibleSuite, 0, len(submission.SuiteResults))
	for _, result := range submission.SuiteResults {
		suite, ok := index.Suite(result.AGTestSuiteID)
		if !ok {
			continue
		}
		config := mask.Suite(suite)
		if !config.Visible {
			continue
		}
		visible = append(visible, visibleSuite{order: suite.SortOrder, result: result, suite: suite, config: config})
	}
	sort.SliceStable(visible, func(i, j int) bool {
		if visible[i].order != visible[j].order {
			return visible[i].order < visible[j].order
		}
		return visible[i].suite.ID < visible[j].suite.ID
	})

	for _, item := range visible {
		suiteFeedback := buildSuite(item.result, item.suite, item.config, index, mask)
		out.TotalPoints += suiteFeedback.TotalPoints
		out.TotalPointsPossible += suiteFeedback.TotalPointsPossible
		out.Suites = append(out.Suites, suiteFeedback)
	}

	return out
}

// TotalPoints scores the submission under the category's mask.
func TotalPoints(submission models.Submission, index TestIndex, category Category) int {
	return Build(submission, index, MaskFor(category)).TotalPoints
}

func buildSuite(result models.AGTestSuiteResult, suite models.AGTestSuite, config models.AGTestSuiteFeedbackConfig, index TestIndex, mask FieldMask) SuiteFeedback {
	out := SuiteFeedback{
		ID:        result.ID,
		SuiteID:   suite.ID,
		SuiteName: suite.Name,
		Settings:  config,
		Cases:     []CaseFeedback{},
	}

	if config.ShowSetupReturnCode || config.ShowSetupTimedOut || config.ShowSetupStdout || config.ShowSetupStderr {
		name := suite.SetupSuiteCmdName
		out.SetupName = &name
	}
	if config.ShowSetupReturnCode && result.SetupReturnCode != nil {
		code := *result.SetupReturnCode
		out.SetupReturnCode = &code
	}
	if config.ShowSetupTimedOut {
		timedOut := result.SetupTimedOut
		out.SetupTimedOut = &timedOut
	}
	if config.ShowSetupStdout {
		stdout := result.SetupStdout
		out.SetupStdout = &stdout
	}
	if config.ShowSetupStderr {
		stderr := result.SetupStderr
		out.SetupStderr = &stderr
	}

	type visibleCase struct {
		order    int
		result   models.AGTestCaseResult
		kase     models.AGTestCase
		feedback CaseFeedback
	}

	cases := make([]visibleCase, 0, len(result.CaseResults))
	for _, caseResult := range result.CaseResults {
		kase, ok := index.Case(caseResult.AGTestCaseID)
		if !ok {
			continue
		}
		caseFeedback, visible := buildCase(caseResult, kase, index, mask, false)
		if !visible {
			continue
		}
		cases = append(cases, visibleCase{order: kase.SortOrder, result: caseResult, kase: kase, feedback: caseFeedback})
	}
	sort.SliceStable(cases, func(i, j int) bool {
		if cases[i].order != cases[j].order {
			return cases[i].order < cases[j].order
		}
		return cases[i].kase.ID < cases[j].kase.ID
	})

	if mask.Category() == CategoryNormal {
		for i := range cases {
			if cases[i].feedback.TotalPoints < cases[i].feedback.TotalPointsPossible {
				if rebuilt, visible := buildCase(cases[i].result, cases[i].kase, index, mask, true); visible {
					cases[i].feedback = rebuilt
				}
				break
			}
		}
	}

	for _, item := range cases {
		out.TotalPoints += item.feedback.TotalPoints
		out.TotalPointsPossible += item.feedback.TotalPointsPossible
		if config.ShowIndividualTests {
			out.Cases = append(out.Cases, item.feedback)
		}
	}

	return out
}

func buildCase(result models.AGTestCaseResult, kase models.AGTestCase, index TestIndex, mask FieldMask, firstFailure bool) (CaseFeedback, bool) {
	config := mask.Case(kase)
	if !config.Visible {
		return CaseFeedback{}, false
	}

	out := CaseFeedback{
		ID:       result.ID,
		CaseID:   kase.ID,
		CaseName: kase.Name,
		Settings: config,
		Commands: []CommandFeedback{},
	}

	type visibleCommand struct {
		order    int
		id       uint
		feedback CommandFeedback
	}

	commands := make([]visibleCommand, 0, len(result.CommandResults))
	for _, commandResult := range result.CommandResults {
		cmd, ok := index.Command(commandResult.AGTestCommandID)
		if !ok {
			continue
		}
		commandConfig := mask.Command(cmd, firstFailure)
		if !commandConfig.Visible {
			continue
		}
		commands = append(commands, visibleCommand{
			order:    cmd.SortOrder,
			id:       cmd.ID,
			feedback: buildCommand(commandResult, cmd, commandConfig),
		})
	}
	sort.SliceStable(commands, func(i, j int) bool {
		if commands[i].order != commands[j].order {
			return commands[i].order < commands[j].order
		}
		return commands[i].id < commands[j].id
	})

	points := 0
	for _, item := range commands {
		points += item.feedback.TotalPoints
		out.TotalPointsPossible += item.feedback.TotalPointsPossible
		if config.ShowIndividualCommands {
			out.Commands = append(out.Commands, item.feedback)
		}
	}
	if points > 0 {
		out.TotalPoints = points
	}

	return out, true
}

func buildCommand(result models.AGTestCommandResult, cmd models.AGTestCommand, config models.AGTestCommandFeedbackConfig) CommandFeedback {
	out := CommandFeedback{
		ID:          result.ID,
		CommandID:   cmd.ID,
		CommandName: cmd.Name,
		Settings:    config,
	}

	if config.ShowWhetherTimedOut {
		timedOut := result.TimedOut
		out.TimedOut = &timedOut
	}

	if cmd.ExpectedReturnCode.Checked() && config.ReturnCodeFdbkLevel.ShowsCorrectness() && result.ReturnCodeCorrect != nil {
		correct := *result.ReturnCodeCorrect
		out.ReturnCodeCorrect = &correct
		out.ReturnCodePoints = awarded(correct, cmd.PointsForCorrectReturnCode, cmd.DeductionForWrongReturnCode)
		out.ReturnCodePointsPossible = cmd.PointsForCorrectReturnCode
	}
	if config.ReturnCodeFdbkLevel.ShowsExpectedAndActual() {
		expected := cmd.ExpectedReturnCode
		out.ExpectedReturnCode = &expected
	}
	if (config.ReturnCodeFdbkLevel.ShowsExpectedAndActual() || config.ShowActualReturnCode) && result.ReturnCode != nil {
		code := *result.ReturnCode
		out.ActualReturnCode = &code
	}

	if cmd.ExpectedStdoutSource.Checked() && config.StdoutFdbkLevel.ShowsCorrectness() && result.StdoutCorrect != nil {
		correct := *result.StdoutCorrect
		out.StdoutCorrect = &correct
		out.StdoutPoints = awarded(correct, cmd.PointsForCorrectStdout, cmd.DeductionForWrongStdout)
		out.StdoutPointsPossible = cmd.PointsForCorrectStdout
	}
	if config.ShowActualStdout || config.StdoutFdbkLevel.ShowsExpectedAndActual() {
		stdout := result.Stdout
		out.Stdout = &stdout
	}
	if cmd.ExpectedStdoutSource.Checked() && config.StdoutFdbkLevel.ShowsExpectedAndActual() {
		out.StdoutDiff = renderDiff(cmd.ExpectedStdout, result.Stdout, DiffOptionsFor(cmd))
	}

	if cmd.ExpectedStderrSource.Checked() && config.StderrFdbkLevel.ShowsCorrectness() && result.StderrCorrect != nil {
		correct := *result.StderrCorrect
		out.StderrCorrect = &correct
		out.StderrPoints = awarded(correct, cmd.PointsForCorrectStderr, cmd.DeductionForWrongStderr)
		out.StderrPointsPossible = cmd.PointsForCorrectStderr
	}
	if config.ShowActualStderr || config.StderrFdbkLevel.ShowsExpectedAndActual() {
		stderr := result.Stderr
		out.Stderr = &stderr
	}
	if cmd.ExpectedStderrSource.Checked() && config.StderrFdbkLevel.ShowsExpectedAndActual() {
		out.StderrDiff = renderDiff(cmd.ExpectedStderr, result.Stderr, DiffOptionsFor(cmd))
	}

	// Hidden points keep their per-field values but drop out of the totals.
	if !config.ShowPoints {
		return out
	}

	out.TotalPoints = out.ReturnCodePoints + out.StdoutPoints + out.StderrPoints
	out.TotalPointsPossible = out.ReturnCodePointsPossible + out.StdoutPointsPossible + out.StderrPointsPossible
	return out
}

func awarded(correct bool, points, deduction int) int {
	if correct {
		return points
	}
	return deduction
}

func renderDiff(expected, actual string, opts DiffOptions) *string {
	diff, err := Diff(expected, actual, opts)
	if err != nil {
		return nil
	}
	return &diff
}
