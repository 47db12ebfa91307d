package consensus

import (
	"label_pizza/workspace/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Progress struct {
	Videos        int      `json:"videos"`
	Questions     int      `json:"questions"`
	Total         int      `json:"total"`
	GroundTruthed int      `json:"ground_truthed"`
	Overridden    int      `json:"overridden"`
	Ratio         *float64 `json:"ratio"`
}

// ProjectProgress counts the (video, question) pairs of the project that have
// ground truth.
func ProjectProgress(txn *gorm.DB, projectId uuid.UUID) (Progress, error) {
	videos, err := schema.ProjectVideoIds(txn, projectId)
	if err != nil {
		return Progress{}, err
	}
	questions, err := schema.ProjectQuestions(txn, projectId)
	if err != nil {
		return Progress{}, err
	}

	questionIds := make([]uuid.UUID, 0, len(questions))
	for _, q := range questions {
		questionIds = append(questionIds, q.Question.Id)
	}

	progress := Progress{Videos: len(videos), Questions: len(questions), Total: len(videos) * len(questions)}
	if progress.Total == 0 {
		return progress, nil
	}

	var rows []schema.ReviewerGroundTruth
	result := txn.Select("id", "modified_by_admin_id").
		Where("project_id = ? AND video_id IN ? AND question_id IN ?", projectId, videos, questionIds).
		Find(&rows)
	if result.Error != nil {
		return Progress{}, schema.StoreError("counting ground truth", result.Error)
	}

	progress.GroundTruthed = len(rows)
	for _, row := range rows {
		if row.IsOverridden() {
			progress.Overridden++
		}
	}
	ratio := float64(progress.GroundTruthed) / float64(progress.Total)
	progress.Ratio = &ratio

	return progress, nil
}
