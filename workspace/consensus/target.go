// Package consensus manages annotator answers and the single ground truth per
// (video, project, question), including admin overrides, weighted
// auto-submission suggestions and accuracy views.
package consensus

import (
	"fmt"

	"label_pizza/workspace/keys"
	"label_pizza/workspace/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Target is one (project, video, question) triplet, loaded and validated.
type Target struct {
	Project  schema.Project
	Video    schema.Video
	Question schema.Question
	GroupId  uuid.UUID
	Group    schema.QuestionGroup
}

func (t Target) Key() keys.Key {
	return keys.New(t.Video.VideoUid, t.Question.Text, t.Project.Name)
}

// LoadTarget resolves the triplet and checks that the video belongs to the
// project and the question to the project's schema.
func LoadTarget(txn *gorm.DB, projectName, videoUid, questionText string) (Target, error) {
	project, err := schema.GetProject(txn, projectName, false)
	if err != nil {
		return Target{}, err
	}
	if !project.IsActive {
		return Target{}, schema.Invalid("project '%v' is archived", projectName)
	}

	video, err := schema.GetVideo(txn, videoUid)
	if err != nil {
		return Target{}, err
	}

	inProject, err := schema.ProjectHasVideo(txn, project.Id, video.Id)
	if err != nil {
		return Target{}, err
	}
	if !inProject {
		return Target{}, schema.Invalid("video '%v' is not part of project '%v'", videoUid, projectName)
	}

	questions, err := schema.ProjectQuestions(txn, project.Id)
	if err != nil {
		return Target{}, err
	}
	for _, q := range questions {
		if q.Question.Text == questionText {
			var group schema.QuestionGroup
			if err := txn.First(&group, "id = ?", q.GroupId).Error; err != nil {
				return Target{}, schema.StoreError("loading question group", err)
			}
			return Target{Project: project, Video: video, Question: q.Question, GroupId: q.GroupId, Group: group}, nil
		}
	}

	return Target{}, schema.Invalid("question '%v' is not part of the schema of project '%v'", questionText, projectName)
}

// checkValue accepts value if it fits the question type and passes the
// verification function of the question's group.
func checkValue(target Target, value string) error {
	question := target.Question
	switch question.Type {
	case schema.SingleChoice:
		if !question.HasOption(value) {
			return schema.Invalid("'%v' is not an option of question '%v' (options %v)", value, question.Text, []string(question.Options))
		}
	case schema.FreeText:
	default:
		return fmt.Errorf("question '%v' has unknown type '%v'", question.Text, question.Type)
	}
	return schema.Verify(target.Group.VerificationFunction, question, value)
}

type Input struct {
	Value      string   `json:"value"`
	Confidence *float64 `json:"confidence,omitempty"`
	Notes      string   `json:"notes,omitempty"`
}

func checkConfidence(user schema.User, confidence *float64) error {
	if confidence == nil {
		return nil
	}
	if user.RoleKind != schema.ModelKind {
		return schema.Invalid("confidence scores are only accepted from model users, '%v' is %v", user.UserUid, user.RoleKind)
	}
	if *confidence < 0 || *confidence > 1 {
		return schema.Invalid("confidence %v must be within [0, 1]", *confidence)
	}
	return nil
}
