package syncer

import (
	"sort"
	"time"

	"label_pizza/workspace/auth"
	"label_pizza/workspace/consensus"
	"label_pizza/workspace/keys"
	"label_pizza/workspace/records"
	"label_pizza/workspace/schema"

	"gorm.io/gorm"
)

// annotationHandler writes annotation records through the consensus rules,
// either as annotator answers or as ground truth.
type annotationHandler struct {
	groundTruth bool
}

func (h annotationHandler) collection() records.Collection {
	if h.groundTruth {
		return records.GroundTruths
	}
	return records.Annotations
}

func (annotationHandler) entity() schema.EntityType { return "" }

func (annotationHandler) active(records.AnnotationRecord) bool { return true }

func (annotationHandler) refs(rec records.AnnotationRecord) []ref {
	return []ref{
		{records.Videos, keys.New(rec.VideoUid)},
		{records.Projects, keys.New(rec.ProjectName)},
		{records.QuestionGroups, keys.New(rec.QuestionGroupTitle)},
		{records.Users, keys.New(rec.UserName)},
	}
}

func (h annotationHandler) validate(rec records.AnnotationRecord) error {
	if rec.VideoUid == "" || rec.ProjectName == "" || rec.QuestionGroupTitle == "" || rec.UserName == "" {
		return schema.Invalid("annotation must name a video, project, question group and user")
	}
	if rec.IsGroundTruth != h.groundTruth {
		return schema.Invalid("record %v has is_ground_truth=%v in %v", rec.Key(), rec.IsGroundTruth, h.collection())
	}
	if len(rec.Answers) == 0 {
		return schema.Invalid("record %v has no answers", rec.Key())
	}
	for question := range rec.ConfidenceScores {
		if _, ok := rec.Answers[question]; !ok {
			return schema.Invalid("record %v has a confidence score for unanswered question '%v'", rec.Key(), question)
		}
	}
	for question := range rec.Notes {
		if _, ok := rec.Answers[question]; !ok {
			return schema.Invalid("record %v has notes for unanswered question '%v'", rec.Key(), question)
		}
	}
	return nil
}

func (annotationHandler) state(*gorm.DB, records.AnnotationRecord) (bool, bool, error) {
	return false, false, nil
}

func sameFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func inputOf(rec records.AnnotationRecord, question string) consensus.Input {
	input := consensus.Input{Value: rec.Answers[question], Notes: rec.Notes[question]}
	if score, ok := rec.ConfidenceScores[question]; ok {
		input.Confidence = &score
	}
	return input
}

// targets resolves every answered question of the record and checks that it
// belongs to the record's question group.
func targets(txn *gorm.DB, rec records.AnnotationRecord) (map[string]consensus.Target, []string, error) {
	group, err := schema.GetQuestionGroup(txn, rec.QuestionGroupTitle, false)
	if err != nil {
		return nil, nil, err
	}

	questions := make([]string, 0, len(rec.Answers))
	for question := range rec.Answers {
		questions = append(questions, question)
	}
	sort.Strings(questions)

	out := make(map[string]consensus.Target, len(questions))
	for _, question := range questions {
		target, err := consensus.LoadTarget(txn, rec.ProjectName, rec.VideoUid, question)
		if err != nil {
			return nil, nil, err
		}
		if target.GroupId != group.Id {
			return nil, nil, schema.Invalid("question '%v' is not part of question group '%v' in project '%v'",
				question, rec.QuestionGroupTitle, rec.ProjectName)
		}
		out[question] = target
	}
	return out, questions, nil
}

func (h annotationHandler) write(txn *gorm.DB, rec records.AnnotationRecord, now time.Time) (Outcome, error) {
	user, err := schema.GetUser(txn, rec.UserName)
	if err != nil {
		return "", err
	}

	resolved, questions, err := targets(txn, rec)
	if err != nil {
		return "", err
	}

	created, updated := 0, 0
	for _, question := range questions {
		target := resolved[question]
		input := inputOf(rec, question)

		var outcome Outcome
		if h.groundTruth {
			outcome, err = writeGroundTruth(txn, user, target, input, now)
		} else {
			outcome, err = writeAnswer(txn, user, target, input, now)
		}
		if err != nil {
			return "", err
		}

		switch outcome {
		case Created:
			created++
		case Updated:
			updated++
		}
	}

	switch {
	case created == len(questions):
		return Created, nil
	case created+updated > 0:
		return Updated, nil
	}
	return Unchanged, nil
}

func writeAnswer(txn *gorm.DB, user schema.User, target consensus.Target, input consensus.Input, now time.Time) (Outcome, error) {
	existing, err := schema.GetAnswer(txn, target.Video.Id, target.Question.Id, user.Id, target.Project.Id)
	exists, err := found(err)
	if err != nil {
		return "", err
	}
	if exists && existing.AnswerValue == input.Value && existing.Notes == input.Notes && sameFloat(existing.Confidence, input.Confidence) {
		return Unchanged, nil
	}

	if _, err := consensus.SubmitAnswer(txn, user, target, input, now); err != nil {
		return "", err
	}
	if exists {
		return Updated, nil
	}
	return Created, nil
}

// writeGroundTruth submits new ground truth, or changes existing ground truth.
// A change by an admin-capable user other than the asserting reviewer is
// recorded as an override.
func writeGroundTruth(txn *gorm.DB, user schema.User, target consensus.Target, input consensus.Input, now time.Time) (Outcome, error) {
	existing, err := schema.GetGroundTruth(txn, target.Video.Id, target.Question.Id, target.Project.Id)
	exists, err := found(err)
	if err != nil {
		return "", err
	}

	if !exists {
		if _, err := consensus.SubmitGroundTruth(txn, user, target, input, now); err != nil {
			return "", err
		}
		return Created, nil
	}

	if existing.AnswerValue == input.Value && existing.Notes == input.Notes && sameFloat(existing.Confidence, input.Confidence) {
		return Unchanged, nil
	}
	// Overrides only carry a value.
	if existing.IsOverridden() && existing.AnswerValue == input.Value {
		return Unchanged, nil
	}

	if existing.ReviewerId != user.Id {
		isAdmin, err := auth.HasCapability(txn, user, target.Project.Id, schema.AdminRole)
		if err != nil {
			return "", err
		}
		if isAdmin {
			if _, err := consensus.OverrideGroundTruth(txn, user, target, input.Value, now); err != nil {
				return "", err
			}
			return Updated, nil
		}
	}

	if _, err := consensus.UpdateGroundTruth(txn, user, target, input, now); err != nil {
		return "", err
	}
	return Updated, nil
}
