package consensus

import (
	"errors"
	"log/slog"
	"time"

	"label_pizza/utils/logging"
	"label_pizza/workspace/auth"
	"label_pizza/workspace/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReviewAnswer records a reviewer's verdict on one annotator's free text
// answer, replacing any previous verdict.
func ReviewAnswer(txn *gorm.DB, actor schema.User, target Target, annotatorUid, status, comment string, now time.Time) (schema.AnswerReview, error) {
	if err := schema.CheckValidReviewStatus(status); err != nil {
		return schema.AnswerReview{}, schema.Invalid("%v", err)
	}
	if target.Question.Type != schema.FreeText {
		return schema.AnswerReview{}, schema.Invalid("only free text answers are reviewed, '%v' is %v", target.Question.Text, target.Question.Type)
	}
	if err := auth.RequireCapability(txn, actor, target.Project.Id, schema.ReviewerRole); err != nil {
		return schema.AnswerReview{}, err
	}

	answer, _, err := userAnswer(txn, target, annotatorUid)
	if err != nil {
		return schema.AnswerReview{}, err
	}

	var review schema.AnswerReview
	result := txn.Limit(1).Find(&review, "answer_id = ?", answer.Id)
	if result.Error != nil {
		return schema.AnswerReview{}, schema.StoreError("loading answer review", result.Error)
	}

	if result.RowsAffected == 0 {
		review = schema.AnswerReview{Id: uuid.New(), AnswerId: answer.Id}
	}
	review.ReviewerId = actor.Id
	review.Status = status
	review.Comment = comment
	review.ReviewedAt = now

	if result.RowsAffected == 0 {
		err = txn.Create(&review).Error
	} else {
		err = txn.Save(&review).Error
	}
	if err != nil {
		if schema.IsDuplicateKey(err) {
			return schema.AnswerReview{}, errors.Join(schema.ErrConflict, err)
		}
		return schema.AnswerReview{}, schema.StoreError("storing answer review", err)
	}

	slog.Info("answer reviewed", "project", target.Project.Name, "video", target.Video.VideoUid, "question", target.Question.Text,
		"annotator", annotatorUid, "status", status, "code", logging.REVIEW)

	return review, nil
}
