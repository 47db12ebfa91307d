package schema

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrImmutableField        = errors.New("immutable field violation")
	ErrDuplicateGroundTruth  = errors.New("duplicate ground truth")
	ErrDependencyCycle       = errors.New("dependency cycle detected")
	ErrCascadeNotConfirmed   = errors.New("cascade not confirmed")
	ErrRoleCapabilityMissing = errors.New("role capability missing")
	ErrStoreUnavailable      = errors.New("store unavailable")
	ErrInvalidRecord         = errors.New("invalid record")
)

func NotFound(entity EntityType, key interface{}) error {
	return fmt.Errorf("%v '%v' %w", entity, key, ErrNotFound)
}

func ImmutableField(entity EntityType, key interface{}, field, detail string) error {
	return fmt.Errorf("%w: %v '%v' cannot change %v: %v", ErrImmutableField, entity, key, field, detail)
}

func Conflict(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %v", ErrConflict, fmt.Sprintf(format, args...))
}

func Invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %v", ErrInvalidRecord, fmt.Sprintf(format, args...))
}

// StoreError logs the underlying sql error and returns the transient store error.
func StoreError(action string, err error) error {
	slog.Error("sql error "+action, "error", err)
	return fmt.Errorf("%v: %w", action, ErrStoreUnavailable)
}

func IsDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// Drivers that do not translate errors still report the constraint in the message.
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}

func first[T any](txn *gorm.DB, entity EntityType, key interface{}, conds ...interface{}) (T, error) {
	var row T
	result := txn.First(&row, conds...)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return row, NotFound(entity, key)
		}
		return row, StoreError(fmt.Sprintf("in get %v", entity), result.Error)
	}
	return row, nil
}

func GetVideo(txn *gorm.DB, uid string) (Video, error) {
	return first[Video](txn, VideoEntity, uid, "video_uid = ?", uid)
}

func GetVideoById(txn *gorm.DB, id uuid.UUID) (Video, error) {
	return first[Video](txn, VideoEntity, id, "id = ?", id)
}

func GetUser(txn *gorm.DB, uid string) (User, error) {
	return first[User](txn, UserEntity, uid, "user_uid = ?", uid)
}

func GetUserById(txn *gorm.DB, id uuid.UUID) (User, error) {
	return first[User](txn, UserEntity, id, "id = ?", id)
}

func GetQuestion(txn *gorm.DB, text string) (Question, error) {
	return first[Question](txn, QuestionEntity, text, "text = ?", text)
}

func GetQuestionById(txn *gorm.DB, id uuid.UUID) (Question, error) {
	return first[Question](txn, QuestionEntity, id, "id = ?", id)
}

func GetQuestionGroup(txn *gorm.DB, title string, loadQuestions bool) (QuestionGroup, error) {
	if loadQuestions {
		txn = txn.Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("display_order")
		}).Preload("Questions.Question")
	}
	return first[QuestionGroup](txn, QuestionGroupEntity, title, "title = ?", title)
}

func GetSchema(txn *gorm.DB, name string, loadGroups bool) (Schema, error) {
	if loadGroups {
		txn = txn.Preload("QuestionGroups", func(db *gorm.DB) *gorm.DB {
			return db.Order("display_order")
		}).Preload("QuestionGroups.QuestionGroup")
	}
	return first[Schema](txn, SchemaEntity, name, "name = ?", name)
}

func GetProject(txn *gorm.DB, name string, loadVideos bool) (Project, error) {
	if loadVideos {
		txn = txn.Preload("Videos").Preload("Videos.Video")
	}
	return first[Project](txn, ProjectEntity, name, "name = ?", name)
}

func GetProjectById(txn *gorm.DB, id uuid.UUID) (Project, error) {
	return first[Project](txn, ProjectEntity, id, "id = ?", id)
}

func GetProjectGroup(txn *gorm.DB, name string, loadProjects bool) (ProjectGroup, error) {
	if loadProjects {
		txn = txn.Preload("Projects").Preload("Projects.Project")
	}
	return first[ProjectGroup](txn, ProjectGroupEntity, name, "name = ?", name)
}

func GetAssignment(txn *gorm.DB, projectId, userId uuid.UUID, role string) (ProjectUserRole, error) {
	key := fmt.Sprintf("%v/%v/%v", projectId, userId, role)
	return first[ProjectUserRole](txn, AssignmentEntity, key, "project_id = ? AND user_id = ? AND role = ?", projectId, userId, role)
}

func GetAnswer(txn *gorm.DB, videoId, questionId, userId, projectId uuid.UUID) (AnnotatorAnswer, error) {
	key := fmt.Sprintf("%v/%v/%v/%v", videoId, questionId, userId, projectId)
	return first[AnnotatorAnswer](txn, AnswerEntity, key,
		"video_id = ? AND question_id = ? AND user_id = ? AND project_id = ?", videoId, questionId, userId, projectId)
}

func GetGroundTruth(txn *gorm.DB, videoId, questionId, projectId uuid.UUID) (ReviewerGroundTruth, error) {
	key := fmt.Sprintf("%v/%v/%v", videoId, questionId, projectId)
	return first[ReviewerGroundTruth](txn, GroundTruthEntity, key,
		"video_id = ? AND question_id = ? AND project_id = ?", videoId, questionId, projectId)
}

type ProjectQuestion struct {
	Question Question
	GroupId  uuid.UUID
}

// ProjectQuestions lists the questions of a project's schema in display order.
func ProjectQuestions(txn *gorm.DB, projectId uuid.UUID) ([]ProjectQuestion, error) {
	project, err := GetProjectById(txn, projectId)
	if err != nil {
		return nil, err
	}

	var groups []SchemaQuestionGroup
	result := txn.Order("display_order").Find(&groups, "schema_id = ?", project.SchemaId)
	if result.Error != nil {
		return nil, StoreError("listing schema question groups", result.Error)
	}

	questions := make([]ProjectQuestion, 0)
	for _, group := range groups {
		var members []QuestionGroupQuestion
		result := txn.Preload("Question").Order("display_order").Find(&members, "question_group_id = ?", group.QuestionGroupId)
		if result.Error != nil {
			return nil, StoreError("listing question group members", result.Error)
		}
		for _, member := range members {
			if member.Question != nil {
				questions = append(questions, ProjectQuestion{Question: *member.Question, GroupId: group.QuestionGroupId})
			}
		}
	}

	return questions, nil
}

func ProjectVideoIds(txn *gorm.DB, projectId uuid.UUID) ([]uuid.UUID, error) {
	var rows []ProjectVideo
	result := txn.Find(&rows, "project_id = ?", projectId)
	if result.Error != nil {
		return nil, StoreError("listing project videos", result.Error)
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.VideoId)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func ProjectHasVideo(txn *gorm.DB, projectId, videoId uuid.UUID) (bool, error) {
	var count int64
	result := txn.Model(&ProjectVideo{}).Where("project_id = ? AND video_id = ?", projectId, videoId).Count(&count)
	if result.Error != nil {
		return false, StoreError("checking project video", result.Error)
	}
	return count > 0, nil
}

// ProjectsUsingGroup counts the projects whose schema contains the question group.
func ProjectsUsingGroup(txn *gorm.DB, groupId uuid.UUID) (int64, error) {
	var count int64
	result := txn.Model(&Project{}).
		Joins("JOIN schema_question_groups ON schema_question_groups.schema_id = projects.schema_id").
		Where("schema_question_groups.question_group_id = ?", groupId).
		Count(&count)
	if result.Error != nil {
		return 0, StoreError("counting projects using question group", result.Error)
	}
	return count, nil
}
