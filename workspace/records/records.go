// Package records holds the declarative form of every workspace collection:
// the documents that are synced into, exported from, merged and compared
// against the live store.
package records

import (
	"fmt"
	"slices"
	"sort"

	"label_pizza/workspace/keys"
	"label_pizza/workspace/schema"
)

type Collection string

const (
	Videos         Collection = "videos"
	Users          Collection = "users"
	QuestionGroups Collection = "question_groups"
	Schemas        Collection = "schemas"
	Projects       Collection = "projects"
	ProjectGroups  Collection = "project_groups"
	Assignments    Collection = "assignments"
	Annotations    Collection = "annotations"
	GroundTruths   Collection = "ground_truths"
)

// SyncOrder lists collections so that every collection comes after the ones it references.
var SyncOrder = []Collection{
	Videos, Users, QuestionGroups, Schemas, Projects, ProjectGroups, Assignments, Annotations, GroundTruths,
}

func ParseCollection(s string) (Collection, error) {
	c := Collection(s)
	if slices.Contains(SyncOrder, c) {
		return c, nil
	}
	return "", fmt.Errorf("unknown collection '%v'", s)
}

// Record is implemented by every declarative record type. Normalized returns a
// copy with defaults filled in so that equal content compares equal.
type Record[R any] interface {
	Key() keys.Key
	Normalized() R
}

func active(flag *bool) bool {
	return flag == nil || *flag
}

func boolPtr(b bool) *bool {
	return &b
}

func sortedCopy(values []string) []string {
	if values == nil {
		return nil
	}
	out := slices.Clone(values)
	sort.Strings(out)
	return out
}

type VideoRecord struct {
	VideoUid string                 `json:"video_uid" yaml:"video_uid"`
	Url      string                 `json:"url" yaml:"url"`
	Metadata map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	IsActive *bool                  `json:"is_active,omitempty" yaml:"is_active,omitempty"`
}

func (r VideoRecord) Key() keys.Key { return keys.New(r.VideoUid) }

func (r VideoRecord) Active() bool { return active(r.IsActive) }

func (r VideoRecord) Normalized() VideoRecord {
	r.IsActive = boolPtr(r.Active())
	return r
}

type UserRecord struct {
	UserId   string `json:"user_id" yaml:"user_id"`
	Email    string `json:"email,omitempty" yaml:"email,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	UserType string `json:"user_type" yaml:"user_type"`
	IsActive *bool  `json:"is_active,omitempty" yaml:"is_active,omitempty"`
}

func (r UserRecord) Key() keys.Key { return keys.New(r.UserId) }

func (r UserRecord) Active() bool { return active(r.IsActive) }

func (r UserRecord) Normalized() UserRecord {
	r.IsActive = boolPtr(r.Active())
	if r.UserType == "" {
		r.UserType = schema.HumanKind
	}
	return r
}

type QuestionRecord struct {
	Text          string    `json:"text" yaml:"text"`
	DisplayText   string    `json:"display_text,omitempty" yaml:"display_text,omitempty"`
	QType         string    `json:"qtype" yaml:"qtype"`
	Options       []string  `json:"options,omitempty" yaml:"options,omitempty"`
	DisplayValues []string  `json:"display_values,omitempty" yaml:"display_values,omitempty"`
	OptionWeights []float64 `json:"option_weights,omitempty" yaml:"option_weights,omitempty"`
	DefaultOption string    `json:"default_option,omitempty" yaml:"default_option,omitempty"`
}

func (r QuestionRecord) Normalized() QuestionRecord {
	if r.DisplayText == "" {
		r.DisplayText = r.Text
	}
	r.Options = slices.Clone(r.Options)
	if len(r.Options) > 0 && len(r.DisplayValues) == 0 {
		r.DisplayValues = slices.Clone(r.Options)
	} else {
		r.DisplayValues = slices.Clone(r.DisplayValues)
	}
	if len(r.Options) > 0 && len(r.OptionWeights) == 0 {
		r.OptionWeights = make([]float64, len(r.Options))
		for i := range r.OptionWeights {
			r.OptionWeights[i] = 1.0
		}
	} else {
		r.OptionWeights = slices.Clone(r.OptionWeights)
	}
	return r
}

type QuestionGroupRecord struct {
	Title                string           `json:"title" yaml:"title"`
	DisplayTitle         string           `json:"display_title,omitempty" yaml:"display_title,omitempty"`
	Description          string           `json:"description,omitempty" yaml:"description,omitempty"`
	IsReusable           bool             `json:"is_reusable" yaml:"is_reusable"`
	IsAutoSubmit         bool             `json:"is_auto_submit" yaml:"is_auto_submit"`
	VerificationFunction string           `json:"verification_function,omitempty" yaml:"verification_function,omitempty"`
	Questions            []QuestionRecord `json:"questions" yaml:"questions"`
	IsActive             *bool            `json:"is_active,omitempty" yaml:"is_active,omitempty"`
}

func (r QuestionGroupRecord) Key() keys.Key { return keys.New(r.Title) }

func (r QuestionGroupRecord) Active() bool { return active(r.IsActive) }

func (r QuestionGroupRecord) Normalized() QuestionGroupRecord {
	r.IsActive = boolPtr(r.Active())
	if r.DisplayTitle == "" {
		r.DisplayTitle = r.Title
	}
	questions := make([]QuestionRecord, 0, len(r.Questions))
	for _, q := range r.Questions {
		questions = append(questions, q.Normalized())
	}
	r.Questions = questions
	return r
}

type SchemaRecord struct {
	SchemaName         string   `json:"schema_name" yaml:"schema_name"`
	QuestionGroupNames []string `json:"question_group_names" yaml:"question_group_names"`
	HasCustomDisplay   bool     `json:"has_custom_display" yaml:"has_custom_display"`
	IsActive           *bool    `json:"is_active,omitempty" yaml:"is_active,omitempty"`
}

func (r SchemaRecord) Key() keys.Key { return keys.New(r.SchemaName) }

func (r SchemaRecord) Active() bool { return active(r.IsActive) }

func (r SchemaRecord) Normalized() SchemaRecord {
	r.IsActive = boolPtr(r.Active())
	r.QuestionGroupNames = slices.Clone(r.QuestionGroupNames)
	return r
}

type ProjectRecord struct {
	ProjectName string   `json:"project_name" yaml:"project_name"`
	SchemaName  string   `json:"schema_name" yaml:"schema_name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Videos      []string `json:"videos" yaml:"videos"`
	IsActive    *bool    `json:"is_active,omitempty" yaml:"is_active,omitempty"`
}

func (r ProjectRecord) Key() keys.Key { return keys.New(r.ProjectName) }

func (r ProjectRecord) Active() bool { return active(r.IsActive) }

func (r ProjectRecord) Normalized() ProjectRecord {
	r.IsActive = boolPtr(r.Active())
	r.Videos = sortedCopy(r.Videos)
	return r
}

type ProjectGroupRecord struct {
	ProjectGroupName string   `json:"project_group_name" yaml:"project_group_name"`
	Description      string   `json:"description,omitempty" yaml:"description,omitempty"`
	Projects         []string `json:"projects" yaml:"projects"`
	IsActive         *bool    `json:"is_active,omitempty" yaml:"is_active,omitempty"`
}

func (r ProjectGroupRecord) Key() keys.Key { return keys.New(r.ProjectGroupName) }

func (r ProjectGroupRecord) Active() bool { return active(r.IsActive) }

func (r ProjectGroupRecord) Normalized() ProjectGroupRecord {
	r.IsActive = boolPtr(r.Active())
	r.Projects = sortedCopy(r.Projects)
	return r
}

type AssignmentRecord struct {
	UserName    string   `json:"user_name" yaml:"user_name"`
	ProjectName string   `json:"project_name" yaml:"project_name"`
	Role        string   `json:"role" yaml:"role"`
	UserWeight  *float64 `json:"user_weight,omitempty" yaml:"user_weight,omitempty"`
	IsActive    *bool    `json:"is_active,omitempty" yaml:"is_active,omitempty"`
}

func (r AssignmentRecord) Key() keys.Key { return keys.New(r.UserName, r.ProjectName, r.Role) }

func (r AssignmentRecord) Active() bool { return active(r.IsActive) }

func (r AssignmentRecord) Weight() float64 {
	if r.UserWeight == nil {
		return 1.0
	}
	return *r.UserWeight
}

func (r AssignmentRecord) Normalized() AssignmentRecord {
	r.IsActive = boolPtr(r.Active())
	weight := r.Weight()
	r.UserWeight = &weight
	return r
}

// AnnotationRecord carries one user's answers to one question group for one
// video. Ground truth records use the same shape with IsGroundTruth set.
type AnnotationRecord struct {
	VideoUid           string             `json:"video_uid" yaml:"video_uid"`
	ProjectName        string             `json:"project_name" yaml:"project_name"`
	QuestionGroupTitle string             `json:"question_group_title" yaml:"question_group_title"`
	UserName           string             `json:"user_name" yaml:"user_name"`
	Answers            map[string]string  `json:"answers" yaml:"answers"`
	ConfidenceScores   map[string]float64 `json:"confidence_scores,omitempty" yaml:"confidence_scores,omitempty"`
	Notes              map[string]string  `json:"notes,omitempty" yaml:"notes,omitempty"`
	IsGroundTruth      bool               `json:"is_ground_truth" yaml:"is_ground_truth"`
}

func (r AnnotationRecord) Key() keys.Key {
	return keys.New(r.VideoUid, r.ProjectName, r.QuestionGroupTitle, r.UserName)
}

func (r AnnotationRecord) Normalized() AnnotationRecord {
	return r
}
