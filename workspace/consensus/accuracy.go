package consensus

import (
	"label_pizza/workspace/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Accuracy struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
	// Ratio is nil when there is nothing to judge.
	Ratio *float64 `json:"ratio"`
}

func newAccuracy(correct, total int) Accuracy {
	acc := Accuracy{Correct: correct, Total: total}
	if total > 0 {
		ratio := float64(correct) / float64(total)
		acc.Ratio = &ratio
	}
	return acc
}

// ReviewerAccuracy is the fraction of the reviewer's ground truth rows in the
// project that no admin changed.
func ReviewerAccuracy(txn *gorm.DB, projectId, reviewerId uuid.UUID) (Accuracy, error) {
	var rows []schema.ReviewerGroundTruth
	result := txn.Find(&rows, "project_id = ? AND reviewer_id = ?", projectId, reviewerId)
	if result.Error != nil {
		return Accuracy{}, schema.StoreError("loading reviewer ground truth", result.Error)
	}

	correct := 0
	for _, row := range rows {
		if row.OriginalAnswerValue == nil || *row.OriginalAnswerValue == row.AnswerValue {
			correct++
		}
	}
	return newAccuracy(correct, len(rows)), nil
}

type AnnotatorAccuracy struct {
	SingleChoice Accuracy `json:"single_choice"`
	FreeText     Accuracy `json:"free_text"`
}

// AnnotatorAccuracyOf judges single choice answers against the current ground
// truth, skipping answers without one, and free text answers by their
// reviews, skipping pending and unreviewed answers.
func AnnotatorAccuracyOf(txn *gorm.DB, projectId, userId uuid.UUID) (AnnotatorAccuracy, error) {
	var single []struct {
		AnswerValue string
		TruthValue  string
	}
	result := txn.Model(&schema.AnnotatorAnswer{}).
		Select("annotator_answers.answer_value, reviewer_ground_truths.answer_value AS truth_value").
		Joins("JOIN questions ON questions.id = annotator_answers.question_id").
		Joins(`JOIN reviewer_ground_truths ON reviewer_ground_truths.video_id = annotator_answers.video_id
			AND reviewer_ground_truths.question_id = annotator_answers.question_id
			AND reviewer_ground_truths.project_id = annotator_answers.project_id`).
		Where("annotator_answers.project_id = ? AND annotator_answers.user_id = ? AND questions.type = ?", projectId, userId, schema.SingleChoice).
		Scan(&single)
	if result.Error != nil {
		return AnnotatorAccuracy{}, schema.StoreError("loading single choice answers", result.Error)
	}

	correct := 0
	for _, row := range single {
		if row.AnswerValue == row.TruthValue {
			correct++
		}
	}

	var statuses []string
	result = txn.Model(&schema.AnswerReview{}).
		Joins("JOIN annotator_answers ON annotator_answers.id = answer_reviews.answer_id").
		Joins("JOIN questions ON questions.id = annotator_answers.question_id").
		Where("annotator_answers.project_id = ? AND annotator_answers.user_id = ? AND questions.type = ? AND answer_reviews.status <> ?",
			projectId, userId, schema.FreeText, schema.ReviewPending).
		Pluck("answer_reviews.status", &statuses)
	if result.Error != nil {
		return AnnotatorAccuracy{}, schema.StoreError("loading answer reviews", result.Error)
	}

	approved := 0
	for _, status := range statuses {
		if status == schema.ReviewApproved {
			approved++
		}
	}

	return AnnotatorAccuracy{
		SingleChoice: newAccuracy(correct, len(single)),
		FreeText:     newAccuracy(approved, len(statuses)),
	}, nil
}

type UserAccuracy struct {
	User      string             `json:"user"`
	Role      string             `json:"role"`
	Reviewer  *Accuracy          `json:"reviewer,omitempty"`
	Annotator *AnnotatorAccuracy `json:"annotator,omitempty"`
}

// ProjectAccuracy reports accuracy for every active assignee of the project.
func ProjectAccuracy(txn *gorm.DB, projectId uuid.UUID) ([]UserAccuracy, error) {
	var assignments []schema.ProjectUserRole
	result := txn.Preload("User").Where("project_id = ? AND is_active = ? AND role IN ?", projectId, true,
		[]string{schema.AnnotatorRole, schema.ModelRole, schema.ReviewerRole}).
		Order("role").Find(&assignments)
	if result.Error != nil {
		return nil, schema.StoreError("listing project assignments", result.Error)
	}

	out := make([]UserAccuracy, 0, len(assignments))
	for _, assignment := range assignments {
		if assignment.User == nil {
			continue
		}
		entry := UserAccuracy{User: assignment.User.UserUid, Role: assignment.Role}
		if assignment.Role == schema.ReviewerRole {
			acc, err := ReviewerAccuracy(txn, projectId, assignment.UserId)
			if err != nil {
				return nil, err
			}
			entry.Reviewer = &acc
		} else {
			acc, err := AnnotatorAccuracyOf(txn, projectId, assignment.UserId)
			if err != nil {
				return nil, err
			}
			entry.Annotator = &acc
		}
		out = append(out, entry)
	}
	return out, nil
}
