package feedback

import "github.com/noah-isme/gema-autograder-api/internal/models"

// FieldMask selects, per suite, case and command, which feedback config governs disclosure.
// Tier categories use the author's per-tier configs. staff_viewer and max expose everything.
type FieldMask struct {
	category Category
}

// MaskFor returns the mask a category grants once it has been allowed.
func MaskFor(category Category) FieldMask {
	return FieldMask{category: category}
}

func (m FieldMask) Category() Category {
	return m.category
}

// Full reports whether the mask exposes every field regardless of author settings.
func (m FieldMask) Full() bool {
	return m.category == CategoryStaffViewer || m.category == CategoryMax
}

// Suite returns the config for the suite under this mask.
func (m FieldMask) Suite(suite models.AGTestSuite) models.AGTestSuiteFeedbackConfig {
	switch m.category {
	case CategoryNormal:
		return suite.NormalFdbk
	case CategoryPastLimit:
		return suite.PastLimitSubmissionFdbk
	case CategoryUltimate:
		return suite.UltimateSubmissionFdbk
	case CategoryStaffViewer, CategoryMax:
		return models.MaxAGTestSuiteFeedbackConfig()
	default:
		return models.AGTestSuiteFeedbackConfig{}
	}
}

// Case returns the config for the test case under this mask.
func (m FieldMask) Case(kase models.AGTestCase) models.AGTestCaseFeedbackConfig {
	switch m.category {
	case CategoryNormal:
		return models.AGTestCaseFeedbackConfig{Visible: kase.VisibleToStudents(), ShowIndividualCommands: kase.NormalFdbk.ShowIndividualCommands}
	case CategoryPastLimit:
		return models.AGTestCaseFeedbackConfig{Visible: kase.VisibleInPastLimitSubmission(), ShowIndividualCommands: kase.PastLimitSubmissionFdbk.ShowIndividualCommands}
	case CategoryUltimate:
		return models.AGTestCaseFeedbackConfig{Visible: kase.VisibleInUltimateSubmission(), ShowIndividualCommands: kase.UltimateSubmissionFdbk.ShowIndividualCommands}
	case CategoryStaffViewer, CategoryMax:
		return models.MaxAGTestCaseFeedbackConfig()
	default:
		return models.AGTestCaseFeedbackConfig{}
	}
}

// Command returns the config for the command under this mask. firstFailure marks
// commands inside the first failed case of normal feedback.
func (m FieldMask) Command(cmd models.AGTestCommand, firstFailure bool) models.AGTestCommandFeedbackConfig {
	switch m.category {
	case CategoryNormal:
		if firstFailure && cmd.UseFirstFailedTestFdbk {
			return cmd.FirstFailedTestNormalFdbk
		}
		return cmd.NormalFdbk
	case CategoryPastLimit:
		return cmd.PastLimitSubmissionFdbk
	case CategoryUltimate:
		return cmd.UltimateSubmissionFdbk
	case CategoryStaffViewer, CategoryMax:
		return models.MaxAGTestCommandFeedbackConfig()
	default:
		return models.AGTestCommandFeedbackConfig{}
	}
}
