// Package testutil builds throwaway workspace stores for package tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"label_pizza/cmd/migration/versions"
	"label_pizza/workspace/schema"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDb opens a private, empty in-memory sqlite store. The pool is limited to
// one connection so that transactions from concurrent goroutines serialize
// instead of seeing separate in-memory databases.
func OpenDb(t testing.TB) *gorm.DB {
	dsn := fmt.Sprintf("file:%v?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}

	sqlDb, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDb.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDb.Close() })

	return db
}

// NewDb opens a private in-memory store migrated to the latest version.
func NewDb(t testing.TB) *gorm.DB {
	db := OpenDb(t)
	if err := versions.Migrate(db); err != nil {
		t.Fatal(err)
	}
	return db
}

// Fixture inserts rows directly, bypassing validation, to arrange test state.
type Fixture struct {
	t  testing.TB
	db *gorm.DB
}

func NewFixture(t testing.TB, db *gorm.DB) *Fixture {
	return &Fixture{t: t, db: db}
}

func (f *Fixture) create(row interface{}) {
	f.t.Helper()
	if err := f.db.Create(row).Error; err != nil {
		f.t.Fatal(err)
	}
}

func (f *Fixture) Video(uid string) schema.Video {
	video := schema.Video{
		Id:       uuid.New(),
		VideoUid: uid,
		Url:      "https://videos.example.com/" + uid + ".mp4",
		Metadata: datatypes.JSONMap{},
		IsActive: true,
	}
	f.create(&video)
	return video
}

func (f *Fixture) User(uid, kind string) schema.User {
	user := schema.User{
		Id:       uuid.New(),
		UserUid:  uid,
		RoleKind: kind,
		IsActive: true,
	}
	if kind != schema.ModelKind {
		email := uid + "@example.com"
		user.Email = &email
	}
	f.create(&user)
	return user
}

func (f *Fixture) SingleChoice(text string, options []string, weights []float64) schema.Question {
	question := schema.Question{
		Id:            uuid.New(),
		Text:          text,
		DisplayText:   text,
		Type:          schema.SingleChoice,
		Options:       options,
		DisplayValues: options,
		OptionWeights: weights,
		IsActive:      true,
	}
	f.create(&question)
	return question
}

func (f *Fixture) FreeText(text string) schema.Question {
	question := schema.Question{
		Id:          uuid.New(),
		Text:        text,
		DisplayText: text,
		Type:        schema.FreeText,
		IsActive:    true,
	}
	f.create(&question)
	return question
}

func (f *Fixture) Group(title string, reusable bool, questions ...schema.Question) schema.QuestionGroup {
	group := schema.QuestionGroup{
		Id:           uuid.New(),
		Title:        title,
		DisplayTitle: title,
		IsReusable:   reusable,
		IsActive:     true,
	}
	f.create(&group)
	for i, q := range questions {
		f.create(&schema.QuestionGroupQuestion{QuestionGroupId: group.Id, QuestionId: q.Id, DisplayOrder: i})
	}
	return group
}

// AutoSubmit marks the group auto-submit and sets its verification function.
func (f *Fixture) AutoSubmit(group schema.QuestionGroup, verification string) schema.QuestionGroup {
	f.t.Helper()
	group.IsAutoSubmit = true
	group.VerificationFunction = verification
	updates := map[string]interface{}{"is_auto_submit": true, "verification_function": verification}
	if err := f.db.Model(&schema.QuestionGroup{}).Where("id = ?", group.Id).Updates(updates).Error; err != nil {
		f.t.Fatal(err)
	}
	return group
}

func (f *Fixture) Schema(name string, customDisplay bool, groups ...schema.QuestionGroup) schema.Schema {
	s := schema.Schema{Id: uuid.New(), Name: name, HasCustomDisplay: customDisplay, IsActive: true}
	f.create(&s)
	for i, g := range groups {
		f.create(&schema.SchemaQuestionGroup{SchemaId: s.Id, QuestionGroupId: g.Id, DisplayOrder: i})
	}
	return s
}

func (f *Fixture) Project(name string, s schema.Schema, videos ...schema.Video) schema.Project {
	project := schema.Project{Id: uuid.New(), Name: name, SchemaId: s.Id, IsActive: true}
	f.create(&project)
	for _, v := range videos {
		f.create(&schema.ProjectVideo{ProjectId: project.Id, VideoId: v.Id})
	}
	return project
}

func (f *Fixture) ProjectGroup(name string, projects ...schema.Project) schema.ProjectGroup {
	group := schema.ProjectGroup{Id: uuid.New(), Name: name, IsActive: true}
	f.create(&group)
	for _, p := range projects {
		f.create(&schema.ProjectGroupProject{ProjectGroupId: group.Id, ProjectId: p.Id})
	}
	return group
}

func (f *Fixture) Assign(project schema.Project, user schema.User, role string, weight float64) schema.ProjectUserRole {
	assignment := schema.ProjectUserRole{
		Id:         uuid.New(),
		ProjectId:  project.Id,
		UserId:     user.Id,
		Role:       role,
		UserWeight: weight,
		IsActive:   true,
		AssignedAt: time.Now(),
	}
	f.create(&assignment)
	return assignment
}

func (f *Fixture) Answer(project schema.Project, video schema.Video, question schema.Question, user schema.User, value string) schema.AnnotatorAnswer {
	now := time.Now()
	answer := schema.AnnotatorAnswer{
		Id:          uuid.New(),
		VideoId:     video.Id,
		QuestionId:  question.Id,
		UserId:      user.Id,
		ProjectId:   project.Id,
		AnswerValue: value,
		CreatedAt:   now,
		ModifiedAt:  now,
	}
	f.create(&answer)
	return answer
}

func (f *Fixture) GroundTruth(project schema.Project, video schema.Video, question schema.Question, reviewer schema.User, value string) schema.ReviewerGroundTruth {
	now := time.Now()
	gt := schema.ReviewerGroundTruth{
		Id:          uuid.New(),
		VideoId:     video.Id,
		QuestionId:  question.Id,
		ProjectId:   project.Id,
		ReviewerId:  reviewer.Id,
		AnswerValue: value,
		CreatedAt:   now,
		ModifiedAt:  now,
	}
	f.create(&gt)
	return gt
}

func (f *Fixture) Review(answer schema.AnnotatorAnswer, reviewer schema.User, status string) schema.AnswerReview {
	review := schema.AnswerReview{
		Id:         uuid.New(),
		AnswerId:   answer.Id,
		ReviewerId: reviewer.Id,
		Status:     status,
		ReviewedAt: time.Now(),
	}
	f.create(&review)
	return review
}

func (f *Fixture) CustomDisplay(project schema.Project, video schema.Video, question schema.Question, text string) schema.CustomDisplay {
	display := schema.CustomDisplay{
		Id:          uuid.New(),
		ProjectId:   project.Id,
		VideoId:     video.Id,
		QuestionId:  question.Id,
		DisplayText: text,
		IsActive:    true,
	}
	f.create(&display)
	return display
}
