package schema

import "fmt"

const (
	HumanKind = "human"
	AdminKind = "admin"
	ModelKind = "model"
)

func CheckValidRoleKind(kind string) error {
	if kind == HumanKind || kind == AdminKind || kind == ModelKind {
		return nil
	}
	return fmt.Errorf("invalid user type '%v', must be 'human', 'admin', or 'model'", kind)
}

const (
	AnnotatorRole = "annotator"
	ReviewerRole  = "reviewer"
	AdminRole     = "admin"
	ModelRole     = "model"
)

func CheckValidRole(role string) error {
	if role == AnnotatorRole || role == ReviewerRole || role == AdminRole || role == ModelRole {
		return nil
	}
	return fmt.Errorf("invalid role '%v', must be 'annotator', 'reviewer', 'admin', or 'model'", role)
}

const (
	SingleChoice = "single"
	FreeText     = "description"
)

func CheckValidQuestionType(qtype string) error {
	if qtype == SingleChoice || qtype == FreeText {
		return nil
	}
	return fmt.Errorf("invalid question type '%v', must be 'single' or 'description'", qtype)
}

const (
	ReviewPending  = "pending"
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
)

func CheckValidReviewStatus(status string) error {
	if status == ReviewPending || status == ReviewApproved || status == ReviewRejected {
		return nil
	}
	return fmt.Errorf("invalid review status '%v', must be 'pending', 'approved', or 'rejected'", status)
}

type EntityType string

const (
	VideoEntity         EntityType = "video"
	UserEntity          EntityType = "user"
	QuestionEntity      EntityType = "question"
	QuestionGroupEntity EntityType = "question_group"
	SchemaEntity        EntityType = "schema"
	ProjectEntity       EntityType = "project"
	ProjectGroupEntity  EntityType = "project_group"
	AssignmentEntity    EntityType = "assignment"
	AnswerEntity        EntityType = "annotator_answer"
	GroundTruthEntity   EntityType = "ground_truth"
	AnswerReviewEntity  EntityType = "answer_review"
	CustomDisplayEntity EntityType = "custom_display"
)

func ParseEntityType(s string) (EntityType, error) {
	switch e := EntityType(s); e {
	case VideoEntity, UserEntity, QuestionEntity, QuestionGroupEntity, SchemaEntity,
		ProjectEntity, ProjectGroupEntity, AssignmentEntity, AnswerEntity,
		GroundTruthEntity, AnswerReviewEntity, CustomDisplayEntity:
		return e, nil
	}
	return "", fmt.Errorf("unknown entity type '%v'", s)
}
