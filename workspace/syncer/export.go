package syncer

import (
	"fmt"
	"path/filepath"
	"sort"

	"label_pizza/workspace/records"
	"label_pizza/workspace/schema"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func boolPtr(b bool) *bool {
	return &b
}

func ExportVideos(txn *gorm.DB) ([]records.VideoRecord, error) {
	var videos []schema.Video
	if err := txn.Order("video_uid").Find(&videos).Error; err != nil {
		return nil, schema.StoreError("exporting videos", err)
	}

	out := make([]records.VideoRecord, 0, len(videos))
	for _, v := range videos {
		rec := records.VideoRecord{VideoUid: v.VideoUid, Url: v.Url, IsActive: boolPtr(v.IsActive)}
		if len(v.Metadata) > 0 {
			rec.Metadata = map[string]interface{}(v.Metadata)
		}
		out = append(out, rec)
	}
	return out, nil
}

// ExportUsers omits credentials; syncing a record without a password keeps
// the stored one.
func ExportUsers(txn *gorm.DB) ([]records.UserRecord, error) {
	var users []schema.User
	if err := txn.Order("user_uid").Find(&users).Error; err != nil {
		return nil, schema.StoreError("exporting users", err)
	}

	out := make([]records.UserRecord, 0, len(users))
	for _, u := range users {
		out = append(out, records.UserRecord{
			UserId:   u.UserUid,
			Email:    derefString(u.Email),
			UserType: u.RoleKind,
			IsActive: boolPtr(u.IsActive),
		})
	}
	return out, nil
}

func questionRecord(q schema.Question) records.QuestionRecord {
	return records.QuestionRecord{
		Text:          q.Text,
		DisplayText:   q.DisplayText,
		QType:         q.Type,
		Options:       q.Options,
		DisplayValues: q.DisplayValues,
		OptionWeights: q.OptionWeights,
		DefaultOption: derefString(q.DefaultOption),
	}
}

func ExportQuestionGroups(txn *gorm.DB) ([]records.QuestionGroupRecord, error) {
	var groups []schema.QuestionGroup
	result := txn.Preload("Questions", func(db *gorm.DB) *gorm.DB {
		return db.Order("display_order")
	}).Preload("Questions.Question").Order("title").Find(&groups)
	if result.Error != nil {
		return nil, schema.StoreError("exporting question groups", result.Error)
	}

	out := make([]records.QuestionGroupRecord, 0, len(groups))
	for _, g := range groups {
		rec := records.QuestionGroupRecord{
			Title:                g.Title,
			DisplayTitle:         g.DisplayTitle,
			Description:          g.Description,
			IsReusable:           g.IsReusable,
			IsAutoSubmit:         g.IsAutoSubmit,
			VerificationFunction: g.VerificationFunction,
			Questions:            make([]records.QuestionRecord, 0, len(g.Questions)),
			IsActive:             boolPtr(g.IsActive),
		}
		for _, member := range g.Questions {
			if member.Question != nil {
				rec.Questions = append(rec.Questions, questionRecord(*member.Question))
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func ExportSchemas(txn *gorm.DB) ([]records.SchemaRecord, error) {
	var schemas []schema.Schema
	result := txn.Preload("QuestionGroups", func(db *gorm.DB) *gorm.DB {
		return db.Order("display_order")
	}).Preload("QuestionGroups.QuestionGroup").Order("name").Find(&schemas)
	if result.Error != nil {
		return nil, schema.StoreError("exporting schemas", result.Error)
	}

	out := make([]records.SchemaRecord, 0, len(schemas))
	for _, s := range schemas {
		rec := records.SchemaRecord{
			SchemaName:         s.Name,
			QuestionGroupNames: make([]string, 0, len(s.QuestionGroups)),
			HasCustomDisplay:   s.HasCustomDisplay,
			IsActive:           boolPtr(s.IsActive),
		}
		for _, member := range s.QuestionGroups {
			if member.QuestionGroup != nil {
				rec.QuestionGroupNames = append(rec.QuestionGroupNames, member.QuestionGroup.Title)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func ExportProjects(txn *gorm.DB) ([]records.ProjectRecord, error) {
	var projects []schema.Project
	result := txn.Preload("Schema").Preload("Videos").Preload("Videos.Video").Order("name").Find(&projects)
	if result.Error != nil {
		return nil, schema.StoreError("exporting projects", result.Error)
	}

	out := make([]records.ProjectRecord, 0, len(projects))
	for _, p := range projects {
		rec := records.ProjectRecord{
			ProjectName: p.Name,
			Description: p.Description,
			Videos:      make([]string, 0, len(p.Videos)),
			IsActive:    boolPtr(p.IsActive),
		}
		if p.Schema != nil {
			rec.SchemaName = p.Schema.Name
		}
		for _, pv := range p.Videos {
			if pv.Video != nil {
				rec.Videos = append(rec.Videos, pv.Video.VideoUid)
			}
		}
		sort.Strings(rec.Videos)
		out = append(out, rec)
	}
	return out, nil
}

func ExportProjectGroups(txn *gorm.DB) ([]records.ProjectGroupRecord, error) {
	var groups []schema.ProjectGroup
	result := txn.Preload("Projects").Preload("Projects.Project").Order("name").Find(&groups)
	if result.Error != nil {
		return nil, schema.StoreError("exporting project groups", result.Error)
	}

	out := make([]records.ProjectGroupRecord, 0, len(groups))
	for _, g := range groups {
		rec := records.ProjectGroupRecord{
			ProjectGroupName: g.Name,
			Description:      g.Description,
			Projects:         make([]string, 0, len(g.Projects)),
			IsActive:         boolPtr(g.IsActive),
		}
		for _, member := range g.Projects {
			if member.Project != nil {
				rec.Projects = append(rec.Projects, member.Project.Name)
			}
		}
		sort.Strings(rec.Projects)
		out = append(out, rec)
	}
	return out, nil
}

func ExportAssignments(txn *gorm.DB) ([]records.AssignmentRecord, error) {
	var assignments []schema.ProjectUserRole
	if err := txn.Preload("User").Preload("Project").Find(&assignments).Error; err != nil {
		return nil, schema.StoreError("exporting assignments", err)
	}

	out := make([]records.AssignmentRecord, 0, len(assignments))
	for _, a := range assignments {
		if a.User == nil || a.Project == nil {
			continue
		}
		weight := a.UserWeight
		out = append(out, records.AssignmentRecord{
			UserName:    a.User.UserUid,
			ProjectName: a.Project.Name,
			Role:        a.Role,
			UserWeight:  &weight,
			IsActive:    boolPtr(a.IsActive),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Compare(out[j].Key()) < 0 })
	return out, nil
}

// annotationExport holds the name lookups shared by the answer and ground
// truth exports.
type annotationExport struct {
	videos    map[uuid.UUID]string
	users     map[uuid.UUID]string
	projects  map[uuid.UUID]string
	groups    map[uuid.UUID]string
	questions map[uuid.UUID]string
	// questionGroup maps (project, question) to the question group the
	// question belongs to in the project's schema.
	questionGroup map[[2]uuid.UUID]uuid.UUID
}

func names[T any](txn *gorm.DB, what string, id func(T) uuid.UUID, name func(T) string) (map[uuid.UUID]string, error) {
	var rows []T
	if err := txn.Find(&rows).Error; err != nil {
		return nil, schema.StoreError("loading "+what, err)
	}
	out := make(map[uuid.UUID]string, len(rows))
	for _, row := range rows {
		out[id(row)] = name(row)
	}
	return out, nil
}

func newAnnotationExport(txn *gorm.DB) (*annotationExport, error) {
	e := &annotationExport{questionGroup: make(map[[2]uuid.UUID]uuid.UUID)}

	var err error
	if e.videos, err = names(txn, "videos", func(v schema.Video) uuid.UUID { return v.Id }, func(v schema.Video) string { return v.VideoUid }); err != nil {
		return nil, err
	}
	if e.users, err = names(txn, "users", func(u schema.User) uuid.UUID { return u.Id }, func(u schema.User) string { return u.UserUid }); err != nil {
		return nil, err
	}
	if e.groups, err = names(txn, "question groups", func(g schema.QuestionGroup) uuid.UUID { return g.Id }, func(g schema.QuestionGroup) string { return g.Title }); err != nil {
		return nil, err
	}
	if e.questions, err = names(txn, "questions", func(q schema.Question) uuid.UUID { return q.Id }, func(q schema.Question) string { return q.Text }); err != nil {
		return nil, err
	}
	if e.projects, err = names(txn, "projects", func(p schema.Project) uuid.UUID { return p.Id }, func(p schema.Project) string { return p.Name }); err != nil {
		return nil, err
	}

	for projectId := range e.projects {
		questions, err := schema.ProjectQuestions(txn, projectId)
		if err != nil {
			return nil, err
		}
		for _, q := range questions {
			e.questionGroup[[2]uuid.UUID{projectId, q.Question.Id}] = q.GroupId
		}
	}
	return e, nil
}

type annotationValue struct {
	video, project, question, user uuid.UUID
	value                          string
	confidence                     *float64
	notes                          string
}

func (e *annotationExport) build(values []annotationValue, groundTruth bool) []records.AnnotationRecord {
	byKey := make(map[string]*records.AnnotationRecord)
	for _, v := range values {
		groupId, ok := e.questionGroup[[2]uuid.UUID{v.project, v.question}]
		if !ok {
			continue
		}
		rec := records.AnnotationRecord{
			VideoUid:           e.videos[v.video],
			ProjectName:        e.projects[v.project],
			QuestionGroupTitle: e.groups[groupId],
			UserName:           e.users[v.user],
			IsGroundTruth:      groundTruth,
		}
		id := rec.Key().Id()
		existing, ok := byKey[id]
		if !ok {
			rec.Answers = make(map[string]string)
			existing = &rec
			byKey[id] = existing
		}

		question := e.questions[v.question]
		existing.Answers[question] = v.value
		if v.confidence != nil {
			if existing.ConfidenceScores == nil {
				existing.ConfidenceScores = make(map[string]float64)
			}
			existing.ConfidenceScores[question] = *v.confidence
		}
		if v.notes != "" {
			if existing.Notes == nil {
				existing.Notes = make(map[string]string)
			}
			existing.Notes[question] = v.notes
		}
	}

	out := make([]records.AnnotationRecord, 0, len(byKey))
	for _, rec := range byKey {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Compare(out[j].Key()) < 0 })
	return out
}

func ExportAnnotations(txn *gorm.DB) ([]records.AnnotationRecord, error) {
	e, err := newAnnotationExport(txn)
	if err != nil {
		return nil, err
	}

	var answers []schema.AnnotatorAnswer
	if err := txn.Find(&answers).Error; err != nil {
		return nil, schema.StoreError("exporting answers", err)
	}

	values := make([]annotationValue, 0, len(answers))
	for _, a := range answers {
		values = append(values, annotationValue{
			video: a.VideoId, project: a.ProjectId, question: a.QuestionId, user: a.UserId,
			value: a.AnswerValue, confidence: a.Confidence, notes: a.Notes,
		})
	}
	return e.build(values, false), nil
}

// ExportGroundTruths groups ground truth by the reviewer who asserted it.
// Overridden rows export their current value.
func ExportGroundTruths(txn *gorm.DB) ([]records.AnnotationRecord, error) {
	e, err := newAnnotationExport(txn)
	if err != nil {
		return nil, err
	}

	var rows []schema.ReviewerGroundTruth
	if err := txn.Find(&rows).Error; err != nil {
		return nil, schema.StoreError("exporting ground truth", err)
	}

	values := make([]annotationValue, 0, len(rows))
	for _, gt := range rows {
		values = append(values, annotationValue{
			video: gt.VideoId, project: gt.ProjectId, question: gt.QuestionId, user: gt.ReviewerId,
			value: gt.AnswerValue, confidence: gt.Confidence, notes: gt.Notes,
		})
	}
	return e.build(values, true), nil
}

// Export returns the stored form of a collection as a typed record list.
func Export(txn *gorm.DB, c records.Collection) (interface{}, error) {
	switch c {
	case records.Videos:
		return ExportVideos(txn)
	case records.Users:
		return ExportUsers(txn)
	case records.QuestionGroups:
		return ExportQuestionGroups(txn)
	case records.Schemas:
		return ExportSchemas(txn)
	case records.Projects:
		return ExportProjects(txn)
	case records.ProjectGroups:
		return ExportProjectGroups(txn)
	case records.Assignments:
		return ExportAssignments(txn)
	case records.Annotations:
		return ExportAnnotations(txn)
	case records.GroundTruths:
		return ExportGroundTruths(txn)
	}
	return nil, fmt.Errorf("unknown collection '%v'", c)
}

func writeExport[R any](db *gorm.DB, path string, export func(*gorm.DB) ([]R, error)) error {
	recs, err := export(db)
	if err != nil {
		return err
	}
	return records.WriteFile(path, recs)
}

// ExportDir writes one file per collection into dir, using ext ("json" or
// "yaml") as the file extension. Collections are exported concurrently.
func ExportDir(db *gorm.DB, dir, ext string, collections ...records.Collection) error {
	if len(collections) == 0 {
		collections = records.SyncOrder
	}

	var g errgroup.Group
	for _, c := range collections {
		path := filepath.Join(dir, string(c)+"."+ext)
		g.Go(func() error {
			var err error
			switch c {
			case records.Videos:
				err = writeExport(db, path, ExportVideos)
			case records.Users:
				err = writeExport(db, path, ExportUsers)
			case records.QuestionGroups:
				err = writeExport(db, path, ExportQuestionGroups)
			case records.Schemas:
				err = writeExport(db, path, ExportSchemas)
			case records.Projects:
				err = writeExport(db, path, ExportProjects)
			case records.ProjectGroups:
				err = writeExport(db, path, ExportProjectGroups)
			case records.Assignments:
				err = writeExport(db, path, ExportAssignments)
			case records.Annotations:
				err = writeExport(db, path, ExportAnnotations)
			case records.GroundTruths:
				err = writeExport(db, path, ExportGroundTruths)
			default:
				err = fmt.Errorf("unknown collection '%v'", c)
			}
			if err != nil {
				return fmt.Errorf("error exporting %v: %w", c, err)
			}
			return nil
		})
	}
	return g.Wait()
}
