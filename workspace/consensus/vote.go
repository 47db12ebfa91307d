package consensus

import (
	"errors"
	"fmt"
	"sort"

	"label_pizza/workspace/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Vote struct {
	User   string  `json:"user"`
	Weight float64 `json:"weight"`
	Value  string  `json:"value"`
}

type Suggestion struct {
	// Value is set only when the votes produce an auto-submission candidate.
	Value     string             `json:"value,omitempty"`
	Candidate bool               `json:"candidate"`
	Score     float64            `json:"score"`
	Scores    map[string]float64 `json:"scores"`
	Unanimous bool               `json:"unanimous"`
	Missing   []string           `json:"missing,omitempty"`
	Reason    string             `json:"reason,omitempty"`
}

// WeightedVote scores each option as the sum of annotator weight times the
// option's configured weight over the votes for it. The top option is a
// candidate only if every vote agrees and exactly one option's score exceeds
// threshold.
func WeightedVote(question schema.Question, votes []Vote, threshold float64) Suggestion {
	suggestion := Suggestion{Scores: make(map[string]float64)}

	if question.Type != schema.SingleChoice {
		suggestion.Reason = "only single choice questions are scored"
		return suggestion
	}
	if len(votes) == 0 {
		suggestion.Reason = "no votes"
		return suggestion
	}

	suggestion.Unanimous = true
	for _, vote := range votes {
		if vote.Value != votes[0].Value {
			suggestion.Unanimous = false
		}
		if question.HasOption(vote.Value) {
			suggestion.Scores[vote.Value] += vote.Weight * question.OptionWeight(vote.Value)
		}
	}

	options := make([]string, 0, len(suggestion.Scores))
	for option := range suggestion.Scores {
		options = append(options, option)
	}
	sort.Strings(options)

	above := make([]string, 0)
	for _, option := range options {
		if suggestion.Scores[option] > threshold {
			above = append(above, option)
		}
	}

	switch {
	case !suggestion.Unanimous:
		suggestion.Reason = "selected annotators disagree"
	case len(above) != 1:
		suggestion.Reason = "no option scores above the threshold"
	default:
		suggestion.Candidate = true
		suggestion.Value = above[0]
		suggestion.Score = suggestion.Scores[above[0]]
	}

	return suggestion
}

// assigneeWeight is the weight of the user's annotating assignment in the
// project, 1.0 when the user annotates without an explicit assignment.
func assigneeWeight(txn *gorm.DB, target Target, user schema.User) (float64, error) {
	var assignment schema.ProjectUserRole
	result := txn.Where("project_id = ? AND user_id = ? AND role IN ? AND is_active = ?",
		target.Project.Id, user.Id, []string{schema.AnnotatorRole, schema.ModelRole}, true).
		Order("role").
		Limit(1).
		Find(&assignment)
	if result.Error != nil {
		return 0, schema.StoreError("loading assignment weight", result.Error)
	}
	if result.RowsAffected == 0 {
		return 1.0, nil
	}
	return assignment.UserWeight, nil
}

// Suggest computes the auto-submission suggestion for the target from the
// current answers of the selected annotators. Annotators outside the
// selection never affect the result; a selected annotator without an answer
// prevents a candidate. Only questions of auto-submit groups, with a value
// that passes the group's verification function, yield a candidate; the
// scores are reported either way.
func Suggest(txn *gorm.DB, target Target, selected []string, threshold float64) (Suggestion, error) {
	votes := make([]Vote, 0, len(selected))
	missing := make([]string, 0)

	for _, userUid := range selected {
		answer, user, err := userAnswer(txn, target, userUid)
		if err != nil {
			if errors.Is(err, schema.ErrNotFound) && user.Id != uuid.Nil {
				missing = append(missing, userUid)
				continue
			}
			return Suggestion{}, err
		}

		weight, err := assigneeWeight(txn, target, user)
		if err != nil {
			return Suggestion{}, err
		}
		votes = append(votes, Vote{User: userUid, Weight: weight, Value: answer.AnswerValue})
	}

	suggestion := WeightedVote(target.Question, votes, threshold)
	if len(missing) > 0 {
		suggestion.Candidate = false
		suggestion.Value = ""
		suggestion.Score = 0
		suggestion.Missing = missing
		suggestion.Reason = "selected annotators have not all answered"
	}

	if suggestion.Candidate && !target.Group.IsAutoSubmit {
		suggestion.Candidate = false
		suggestion.Value = ""
		suggestion.Reason = fmt.Sprintf("question group '%v' is not auto-submit", target.Group.Title)
	}
	if suggestion.Candidate {
		if err := schema.Verify(target.Group.VerificationFunction, target.Question, suggestion.Value); err != nil {
			suggestion.Candidate = false
			suggestion.Value = ""
			suggestion.Reason = err.Error()
		}
	}

	return suggestion, nil
}
