package consensus

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"label_pizza/utils/logging"
	"label_pizza/workspace/auth"
	"label_pizza/workspace/metrics"
	"label_pizza/workspace/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SubmitAnswer upserts the actor's answer for the target. Resubmitting
// replaces the previous value in place.
func SubmitAnswer(txn *gorm.DB, actor schema.User, target Target, input Input, now time.Time) (schema.AnnotatorAnswer, error) {
	if actor.RoleKind == schema.ModelKind {
		if err := auth.RequireCapability(txn, actor, target.Project.Id, schema.ModelRole); err != nil {
			return schema.AnnotatorAnswer{}, err
		}
	} else if err := auth.RequireCapability(txn, actor, target.Project.Id, schema.AnnotatorRole); err != nil {
		return schema.AnnotatorAnswer{}, err
	}

	if err := checkValue(target, input.Value); err != nil {
		return schema.AnnotatorAnswer{}, err
	}
	if err := checkConfidence(actor, input.Confidence); err != nil {
		return schema.AnnotatorAnswer{}, err
	}

	answer, err := schema.GetAnswer(txn, target.Video.Id, target.Question.Id, actor.Id, target.Project.Id)
	switch {
	case err == nil:
		if answer.AnswerValue == input.Value && sameConfidence(answer.Confidence, input.Confidence) && answer.Notes == input.Notes {
			return answer, nil
		}
		answer.AnswerValue = input.Value
		answer.Confidence = input.Confidence
		answer.Notes = input.Notes
		answer.ModifiedAt = now
		if result := txn.Save(&answer); result.Error != nil {
			return schema.AnnotatorAnswer{}, schema.StoreError("updating answer", result.Error)
		}
	case errors.Is(err, schema.ErrNotFound):
		answer = schema.AnnotatorAnswer{
			Id:          uuid.New(),
			VideoId:     target.Video.Id,
			QuestionId:  target.Question.Id,
			UserId:      actor.Id,
			ProjectId:   target.Project.Id,
			AnswerValue: input.Value,
			Confidence:  input.Confidence,
			Notes:       input.Notes,
			CreatedAt:   now,
			ModifiedAt:  now,
		}
		if result := txn.Create(&answer); result.Error != nil {
			return schema.AnnotatorAnswer{}, schema.StoreError("creating answer", result.Error)
		}
	default:
		return schema.AnnotatorAnswer{}, err
	}

	metrics.AnswerWrites.Inc()
	slog.Debug("stored answer", "project", target.Project.Name, "video", target.Video.VideoUid, "question", target.Question.Text, "user", actor.UserUid, "code", logging.CONSENSUS)

	return answer, nil
}

func sameConfidence(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type State string

const (
	Unanswered      State = "unanswered"
	Annotated       State = "annotated"
	GroundTruthed   State = "ground_truthed"
	AdminOverridden State = "admin_overridden"
)

// StateOf derives the position of the target in the answer lifecycle.
func StateOf(txn *gorm.DB, target Target) (State, error) {
	gt, err := schema.GetGroundTruth(txn, target.Video.Id, target.Question.Id, target.Project.Id)
	if err == nil {
		if gt.IsOverridden() {
			return AdminOverridden, nil
		}
		return GroundTruthed, nil
	}
	if !errors.Is(err, schema.ErrNotFound) {
		return "", err
	}

	var count int64
	result := txn.Model(&schema.AnnotatorAnswer{}).
		Where("video_id = ? AND question_id = ? AND project_id = ?", target.Video.Id, target.Question.Id, target.Project.Id).
		Count(&count)
	if result.Error != nil {
		return "", schema.StoreError("counting answers", result.Error)
	}
	if count > 0 {
		return Annotated, nil
	}
	return Unanswered, nil
}

// ListAnswers returns every answer for the target with the uid of its author.
func ListAnswers(txn *gorm.DB, target Target) ([]AnswerView, error) {
	var rows []struct {
		schema.AnnotatorAnswer
		UserUid string
	}
	result := txn.Model(&schema.AnnotatorAnswer{}).
		Select("annotator_answers.*, users.user_uid").
		Joins("JOIN users ON users.id = annotator_answers.user_id").
		Where("annotator_answers.video_id = ? AND annotator_answers.question_id = ? AND annotator_answers.project_id = ?",
			target.Video.Id, target.Question.Id, target.Project.Id).
		Order("users.user_uid").
		Scan(&rows)
	if result.Error != nil {
		return nil, schema.StoreError("listing answers", result.Error)
	}

	views := make([]AnswerView, 0, len(rows))
	for _, row := range rows {
		views = append(views, AnswerView{
			User:       row.UserUid,
			Value:      row.AnswerValue,
			Confidence: row.Confidence,
			Notes:      row.Notes,
			ModifiedAt: row.ModifiedAt,
		})
	}
	return views, nil
}

type AnswerView struct {
	User       string    `json:"user"`
	Value      string    `json:"value"`
	Confidence *float64  `json:"confidence,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	ModifiedAt time.Time `json:"modified_at"`
}

func userAnswer(txn *gorm.DB, target Target, userUid string) (schema.AnnotatorAnswer, schema.User, error) {
	user, err := schema.GetUser(txn, userUid)
	if err != nil {
		return schema.AnnotatorAnswer{}, user, err
	}
	answer, err := schema.GetAnswer(txn, target.Video.Id, target.Question.Id, user.Id, target.Project.Id)
	if err != nil {
		return schema.AnnotatorAnswer{}, user, fmt.Errorf("answer of '%v' for %v: %w", userUid, target.Key(), err)
	}
	return answer, user, nil
}
