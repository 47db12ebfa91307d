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

func duplicateGroundTruth(target Target) error {
	return fmt.Errorf("%w: %v already has ground truth", schema.ErrDuplicateGroundTruth, target.Key())
}

// SubmitGroundTruth creates the ground truth for the target. A second
// submission for the same target fails with ErrDuplicateGroundTruth; callers
// that lose a race retry with UpdateGroundTruth.
func SubmitGroundTruth(txn *gorm.DB, actor schema.User, target Target, input Input, now time.Time) (schema.ReviewerGroundTruth, error) {
	if err := auth.RequireCapability(txn, actor, target.Project.Id, schema.ReviewerRole); err != nil {
		return schema.ReviewerGroundTruth{}, err
	}
	if err := checkValue(target, input.Value); err != nil {
		return schema.ReviewerGroundTruth{}, err
	}
	if err := checkConfidence(actor, input.Confidence); err != nil {
		return schema.ReviewerGroundTruth{}, err
	}

	_, err := schema.GetGroundTruth(txn, target.Video.Id, target.Question.Id, target.Project.Id)
	if err == nil {
		metrics.GroundTruthWrites.WithLabelValues("duplicate").Inc()
		return schema.ReviewerGroundTruth{}, duplicateGroundTruth(target)
	}
	if !errors.Is(err, schema.ErrNotFound) {
		return schema.ReviewerGroundTruth{}, err
	}

	gt := schema.ReviewerGroundTruth{
		Id:          uuid.New(),
		VideoId:     target.Video.Id,
		QuestionId:  target.Question.Id,
		ProjectId:   target.Project.Id,
		ReviewerId:  actor.Id,
		AnswerValue: input.Value,
		Confidence:  input.Confidence,
		Notes:       input.Notes,
		CreatedAt:   now,
		ModifiedAt:  now,
	}

	// The insert runs in a savepoint so that losing the race leaves txn usable
	// for the retry as an update.
	err = txn.Transaction(func(sp *gorm.DB) error {
		return sp.Create(&gt).Error
	})
	if err != nil {
		if schema.IsDuplicateKey(err) {
			metrics.GroundTruthWrites.WithLabelValues("duplicate").Inc()
			return schema.ReviewerGroundTruth{}, duplicateGroundTruth(target)
		}
		return schema.ReviewerGroundTruth{}, schema.StoreError("creating ground truth", err)
	}

	metrics.GroundTruthWrites.WithLabelValues("create").Inc()
	slog.Info("ground truth submitted", "project", target.Project.Name, "video", target.Video.VideoUid, "question", target.Question.Text, "reviewer", actor.UserUid, "code", logging.CONSENSUS)

	return gt, nil
}

// UpdateGroundTruth replaces the reviewer asserted value. Once an admin has
// overridden the ground truth only admins may change it.
func UpdateGroundTruth(txn *gorm.DB, actor schema.User, target Target, input Input, now time.Time) (schema.ReviewerGroundTruth, error) {
	if err := auth.RequireCapability(txn, actor, target.Project.Id, schema.ReviewerRole); err != nil {
		return schema.ReviewerGroundTruth{}, err
	}
	if err := checkValue(target, input.Value); err != nil {
		return schema.ReviewerGroundTruth{}, err
	}
	if err := checkConfidence(actor, input.Confidence); err != nil {
		return schema.ReviewerGroundTruth{}, err
	}

	gt, err := schema.GetGroundTruth(txn, target.Video.Id, target.Question.Id, target.Project.Id)
	if err != nil {
		return schema.ReviewerGroundTruth{}, err
	}

	if gt.IsOverridden() {
		if err := auth.RequireCapability(txn, actor, target.Project.Id, schema.AdminRole); err != nil {
			return schema.ReviewerGroundTruth{}, fmt.Errorf("ground truth for %v was overridden by an admin: %w", target.Key(), err)
		}
		return OverrideGroundTruth(txn, actor, target, input.Value, now)
	}

	if gt.AnswerValue == input.Value && gt.ReviewerId == actor.Id && sameConfidence(gt.Confidence, input.Confidence) && gt.Notes == input.Notes {
		return gt, nil
	}

	gt.ReviewerId = actor.Id
	gt.AnswerValue = input.Value
	gt.Confidence = input.Confidence
	gt.Notes = input.Notes
	gt.ModifiedAt = now

	if result := txn.Save(&gt); result.Error != nil {
		return schema.ReviewerGroundTruth{}, schema.StoreError("updating ground truth", result.Error)
	}

	metrics.GroundTruthWrites.WithLabelValues("update").Inc()

	return gt, nil
}

// SetGroundTruth submits the ground truth, or updates it when it already exists.
func SetGroundTruth(txn *gorm.DB, actor schema.User, target Target, input Input, now time.Time) (schema.ReviewerGroundTruth, error) {
	gt, err := SubmitGroundTruth(txn, actor, target, input, now)
	if errors.Is(err, schema.ErrDuplicateGroundTruth) {
		return UpdateGroundTruth(txn, actor, target, input, now)
	}
	return gt, err
}

// OverrideGroundTruth replaces the current value as an admin. The value that
// was in place before the first override is kept for audit and accuracy.
func OverrideGroundTruth(txn *gorm.DB, actor schema.User, target Target, value string, now time.Time) (schema.ReviewerGroundTruth, error) {
	if err := auth.RequireCapability(txn, actor, target.Project.Id, schema.AdminRole); err != nil {
		return schema.ReviewerGroundTruth{}, err
	}
	if err := checkValue(target, value); err != nil {
		return schema.ReviewerGroundTruth{}, err
	}

	gt, err := schema.GetGroundTruth(txn, target.Video.Id, target.Question.Id, target.Project.Id)
	if err != nil {
		return schema.ReviewerGroundTruth{}, err
	}

	gt.ApplyOverride(value, actor.Id, now)

	if result := txn.Save(&gt); result.Error != nil {
		return schema.ReviewerGroundTruth{}, schema.StoreError("overriding ground truth", result.Error)
	}

	metrics.GroundTruthWrites.WithLabelValues("override").Inc()
	slog.Info("ground truth overridden", "project", target.Project.Name, "video", target.Video.VideoUid, "question", target.Question.Text, "admin", actor.UserUid, "code", logging.CONSENSUS)

	return gt, nil
}

type GroundTruthView struct {
	Value         string     `json:"value"`
	Reviewer      string     `json:"reviewer"`
	Confidence    *float64   `json:"confidence,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	OriginalValue *string    `json:"original_value,omitempty"`
	OverriddenBy  string     `json:"overridden_by,omitempty"`
	OverriddenAt  *time.Time `json:"overridden_at,omitempty"`
	State         State      `json:"state"`
	ModifiedAt    time.Time  `json:"modified_at"`
}

func GetGroundTruth(txn *gorm.DB, target Target) (GroundTruthView, error) {
	gt, err := schema.GetGroundTruth(txn, target.Video.Id, target.Question.Id, target.Project.Id)
	if err != nil {
		return GroundTruthView{}, err
	}

	reviewer, err := schema.GetUserById(txn, gt.ReviewerId)
	if err != nil {
		return GroundTruthView{}, err
	}

	view := GroundTruthView{
		Value:         gt.AnswerValue,
		Reviewer:      reviewer.UserUid,
		Confidence:    gt.Confidence,
		Notes:         gt.Notes,
		OriginalValue: gt.OriginalAnswerValue,
		OverriddenAt:  gt.ModifiedByAdminAt,
		State:         GroundTruthed,
		ModifiedAt:    gt.ModifiedAt,
	}

	if gt.IsOverridden() {
		admin, err := schema.GetUserById(txn, *gt.ModifiedByAdminId)
		if err != nil {
			return GroundTruthView{}, err
		}
		view.OverriddenBy = admin.UserUid
		view.State = AdminOverridden
	}

	return view, nil
}
