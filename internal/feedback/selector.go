package feedback

import (
	"sort"

	"github.com/noah-isme/gema-autograder-api/internal/models"
)

// UltimateSubmissionSelector picks the submission that counts for grading.
// Candidates are finished submissions ordered newest first, ties on timestamp
// going to the higher ID. The best policies only replace the running choice
// on a strictly higher score, so ties resolve the same way.
type UltimateSubmissionSelector struct {
	index TestIndex
}

// NewUltimateSubmissionSelector builds a selector that scores against the given tests.
func NewUltimateSubmissionSelector(index TestIndex) UltimateSubmissionSelector {
	return UltimateSubmissionSelector{index: index}
}

// Select returns the group's ultimate submission under the policy.
func (s UltimateSubmissionSelector) Select(group models.Group, policy models.UltimateSubmissionPolicy) (models.Submission, bool) {
	return s.pick(group.Submissions, policy, func(models.Submission) bool { return true })
}

// SelectFor is Select restricted to submissions that count for the user.
func (s UltimateSubmissionSelector) SelectFor(group models.Group, policy models.UltimateSubmissionPolicy, userID uint) (models.Submission, bool) {
	return s.pick(group.Submissions, policy, func(submission models.Submission) bool {
		return submission.CountsFor(userID)
	})
}

func (s UltimateSubmissionSelector) pick(submissions []models.Submission, policy models.UltimateSubmissionPolicy, include func(models.Submission) bool) (models.Submission, bool) {
	candidates := make([]models.Submission, 0, len(submissions))
	for _, submission := range submissions {
		if submission.Status == models.SubmissionStatusFinishedGrading && include(submission) {
			candidates = append(candidates, submission)
		}
	}
	if len(candidates) == 0 {
		return models.Submission{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].Timestamp.Equal(candidates[j].Timestamp) {
			return candidates[i].Timestamp.After(candidates[j].Timestamp)
		}
		return candidates[i].ID > candidates[j].ID
	})

	var scoring Category
	switch policy {
	case models.UltimateSubmissionPolicyBest:
		scoring = CategoryMax
	case models.UltimateSubmissionPolicyBestWithNormalFdbk:
		scoring = CategoryNormal
	default:
		return candidates[0], true
	}

	best := candidates[0]
	bestScore := TotalPoints(best, s.index, scoring)
	for _, candidate := range candidates[1:] {
		if score := TotalPoints(candidate, s.index, scoring); score > bestScore {
			best, bestScore = candidate, score
		}
	}
	return best, true
}
