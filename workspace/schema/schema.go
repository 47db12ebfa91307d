package schema

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Video struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	VideoUid string `gorm:"unique;size:255;not null"`
	Url      string `gorm:"not null"`
	Metadata datatypes.JSONMap

	IsActive  bool `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type User struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	UserUid  string  `gorm:"unique;size:255;not null"`
	Email    *string `gorm:"unique;size:254"`
	Password []byte

	RoleKind string `gorm:"size:20;not null"`
	IsActive bool   `gorm:"not null"`

	CreatedAt time.Time
}

func (u *User) IsAdmin() bool {
	return u.RoleKind == AdminKind
}

type Question struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Text        string `gorm:"unique;not null"`
	DisplayText string `gorm:"not null"`
	Type        string `gorm:"size:20;not null"`

	Options       datatypes.JSONSlice[string]
	DisplayValues datatypes.JSONSlice[string]
	OptionWeights datatypes.JSONSlice[float64]
	DefaultOption *string

	IsActive bool `gorm:"not null"`
}

func (q *Question) HasOption(value string) bool {
	for _, opt := range q.Options {
		if opt == value {
			return true
		}
	}
	return false
}

// OptionWeight returns the configured weight of value, 1.0 when no weights are set.
func (q *Question) OptionWeight(value string) float64 {
	for i, opt := range q.Options {
		if opt == value {
			if i < len(q.OptionWeights) {
				return q.OptionWeights[i]
			}
			return 1.0
		}
	}
	return 0
}

type QuestionGroup struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Title                string `gorm:"unique;size:255;not null"`
	DisplayTitle         string `gorm:"not null"`
	Description          string
	IsReusable           bool `gorm:"not null"`
	IsAutoSubmit         bool `gorm:"not null"`
	VerificationFunction string

	IsActive bool `gorm:"not null"`

	Questions []QuestionGroupQuestion `gorm:"constraint:OnDelete:CASCADE"`
}

type QuestionGroupQuestion struct {
	QuestionGroupId uuid.UUID `gorm:"type:uuid;primaryKey"`
	QuestionId      uuid.UUID `gorm:"type:uuid;primaryKey"`
	DisplayOrder    int       `gorm:"not null"`

	Question *Question
}

type Schema struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name             string `gorm:"unique;size:255;not null"`
	HasCustomDisplay bool   `gorm:"not null"`
	IsActive         bool   `gorm:"not null"`

	QuestionGroups []SchemaQuestionGroup `gorm:"constraint:OnDelete:CASCADE"`
}

type SchemaQuestionGroup struct {
	SchemaId        uuid.UUID `gorm:"type:uuid;primaryKey"`
	QuestionGroupId uuid.UUID `gorm:"type:uuid;primaryKey"`
	DisplayOrder    int       `gorm:"not null"`

	QuestionGroup *QuestionGroup
}

type Project struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name        string `gorm:"unique;size:255;not null"`
	Description string

	SchemaId uuid.UUID `gorm:"type:uuid;not null;index"`
	Schema   *Schema

	IsActive  bool `gorm:"not null"`
	CreatedAt time.Time

	Videos []ProjectVideo `gorm:"constraint:OnDelete:CASCADE"`
}

type ProjectVideo struct {
	ProjectId uuid.UUID `gorm:"type:uuid;primaryKey"`
	VideoId   uuid.UUID `gorm:"type:uuid;primaryKey"`

	Video *Video
}

type ProjectGroup struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name        string `gorm:"unique;size:255;not null"`
	Description string
	IsActive    bool `gorm:"not null"`

	Projects []ProjectGroupProject `gorm:"constraint:OnDelete:CASCADE"`
}

type ProjectGroupProject struct {
	ProjectGroupId uuid.UUID `gorm:"type:uuid;primaryKey"`
	ProjectId      uuid.UUID `gorm:"type:uuid;primaryKey"`

	Project *Project
}

type ProjectUserRole struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	ProjectId uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_project_user_role"`
	UserId    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_project_user_role"`
	Role      string    `gorm:"size:20;not null;uniqueIndex:idx_project_user_role"`

	UserWeight float64 `gorm:"not null"`
	IsActive   bool    `gorm:"not null"`
	AssignedAt time.Time

	Project *Project
	User    *User
}

type AnnotatorAnswer struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	VideoId    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_answer_key"`
	QuestionId uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_answer_key"`
	UserId     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_answer_key"`
	ProjectId  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_answer_key"`

	AnswerValue string `gorm:"not null"`
	Confidence  *float64
	Notes       string

	CreatedAt  time.Time
	ModifiedAt time.Time
}

type ReviewerGroundTruth struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	VideoId    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_ground_truth_key"`
	QuestionId uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_ground_truth_key"`
	ProjectId  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_ground_truth_key"`

	ReviewerId  uuid.UUID `gorm:"type:uuid;not null;index"`
	AnswerValue string    `gorm:"not null"`
	Confidence  *float64
	Notes       string

	OriginalAnswerValue *string
	ModifiedByAdminId   *uuid.UUID `gorm:"type:uuid;index"`
	ModifiedByAdminAt   *time.Time

	CreatedAt  time.Time
	ModifiedAt time.Time
}

func (gt *ReviewerGroundTruth) IsOverridden() bool {
	return gt.ModifiedByAdminId != nil
}

// ApplyOverride replaces the current value. The value in place before the first
// override is kept in OriginalAnswerValue and never re-stamped.
func (gt *ReviewerGroundTruth) ApplyOverride(value string, adminId uuid.UUID, at time.Time) {
	if gt.OriginalAnswerValue == nil {
		original := gt.AnswerValue
		gt.OriginalAnswerValue = &original
	}
	gt.AnswerValue = value
	gt.ModifiedByAdminId = &adminId
	gt.ModifiedByAdminAt = &at
	gt.ModifiedAt = at
}

// RevertOverride restores the reviewer asserted value and clears the override
// metadata. Returns false if there was nothing to revert.
func (gt *ReviewerGroundTruth) RevertOverride() bool {
	if gt.OriginalAnswerValue == nil && gt.ModifiedByAdminId == nil {
		return false
	}
	if gt.OriginalAnswerValue != nil {
		gt.AnswerValue = *gt.OriginalAnswerValue
	}
	gt.OriginalAnswerValue = nil
	gt.ModifiedByAdminId = nil
	gt.ModifiedByAdminAt = nil
	return true
}

type AnswerReview struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	AnswerId   uuid.UUID `gorm:"type:uuid;unique;not null"`
	ReviewerId uuid.UUID `gorm:"type:uuid;not null;index"`
	Status     string    `gorm:"size:20;not null"`
	Comment    string
	ReviewedAt time.Time

	Answer *AnnotatorAnswer `gorm:"constraint:OnDelete:CASCADE"`
}

type CustomDisplay struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	ProjectId  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_custom_display_key"`
	VideoId    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_custom_display_key"`
	QuestionId uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_custom_display_key"`

	DisplayText   string
	OptionDisplay datatypes.JSONMap

	IsActive bool `gorm:"not null"`
}

// AllModels lists every table in migration order.
func AllModels() []interface{} {
	return []interface{}{
		&Video{}, &User{}, &Question{}, &QuestionGroup{}, &QuestionGroupQuestion{},
		&Schema{}, &SchemaQuestionGroup{}, &Project{}, &ProjectVideo{},
		&ProjectGroup{}, &ProjectGroupProject{}, &ProjectUserRole{},
		&AnnotatorAnswer{}, &ReviewerGroundTruth{}, &AnswerReview{}, &CustomDisplay{},
	}
}
