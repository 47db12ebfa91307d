package syncer

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"label_pizza/workspace/keys"
	"label_pizza/workspace/records"
	"label_pizza/workspace/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func repeated(values []string) (string, bool) {
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if seen[v] {
			return v, true
		}
		seen[v] = true
	}
	return "", false
}

type projectHandler struct{}

func (projectHandler) collection() records.Collection { return records.Projects }

func (projectHandler) entity() schema.EntityType { return schema.ProjectEntity }

func (projectHandler) active(rec records.ProjectRecord) bool { return rec.Active() }

func (projectHandler) refs(rec records.ProjectRecord) []ref {
	out := make([]ref, 0, len(rec.Videos)+1)
	out = append(out, ref{records.Schemas, keys.New(rec.SchemaName)})
	for _, uid := range rec.Videos {
		out = append(out, ref{records.Videos, keys.New(uid)})
	}
	return out
}

func (projectHandler) validate(rec records.ProjectRecord) error {
	if rec.ProjectName == "" {
		return schema.Invalid("project name must not be empty")
	}
	if rec.SchemaName == "" {
		return schema.Invalid("project '%v' has no schema", rec.ProjectName)
	}
	if uid, ok := repeated(rec.Videos); ok {
		return schema.Invalid("project '%v' lists video '%v' twice", rec.ProjectName, uid)
	}
	return nil
}

func (projectHandler) state(txn *gorm.DB, rec records.ProjectRecord) (bool, bool, error) {
	project, err := schema.GetProject(txn, rec.ProjectName, false)
	exists, err := found(err)
	return exists, exists && project.IsActive, err
}

func schemaName(txn *gorm.DB, id uuid.UUID) (string, error) {
	var s schema.Schema
	if err := txn.Select("name").First(&s, "id = ?", id).Error; err != nil {
		return "", schema.StoreError("loading project schema", err)
	}
	return s.Name, nil
}

func (projectHandler) write(txn *gorm.DB, rec records.ProjectRecord, now time.Time) (Outcome, error) {
	rec = rec.Normalized()

	projectSchema, err := schema.GetSchema(txn, rec.SchemaName, false)
	if err != nil {
		return "", err
	}

	project, err := schema.GetProject(txn, rec.ProjectName, true)
	exists, err := found(err)
	if err != nil {
		return "", err
	}

	if !exists {
		if !projectSchema.IsActive {
			return "", schema.Invalid("schema '%v' is archived", rec.SchemaName)
		}

		videos := make([]schema.Video, 0, len(rec.Videos))
		for _, uid := range rec.Videos {
			video, err := schema.GetVideo(txn, uid)
			if err != nil {
				return "", err
			}
			if !video.IsActive {
				return "", schema.Invalid("video '%v' is archived", uid)
			}
			videos = append(videos, video)
		}

		project = schema.Project{
			Id:          uuid.New(),
			Name:        rec.ProjectName,
			Description: rec.Description,
			SchemaId:    projectSchema.Id,
			IsActive:    rec.Active(),
			CreatedAt:   now,
		}
		if err := txn.Create(&project).Error; err != nil {
			return "", writeError("creating project", err)
		}
		for _, video := range videos {
			if err := txn.Create(&schema.ProjectVideo{ProjectId: project.Id, VideoId: video.Id}).Error; err != nil {
				return "", writeError("adding video to project", err)
			}
		}
		return Created, nil
	}

	if project.SchemaId != projectSchema.Id {
		current, err := schemaName(txn, project.SchemaId)
		if err != nil {
			return "", err
		}
		return "", schema.ImmutableField(schema.ProjectEntity, rec.ProjectName, "schema_name",
			fmt.Sprintf("uses '%v', replacing it with '%v' requires the schema override", current, rec.SchemaName))
	}

	stored := make([]string, 0, len(project.Videos))
	for _, pv := range project.Videos {
		if pv.Video != nil {
			stored = append(stored, pv.Video.VideoUid)
		}
	}
	sort.Strings(stored)
	if !slices.Equal(stored, rec.Videos) {
		return "", schema.ImmutableField(schema.ProjectEntity, rec.ProjectName, "videos",
			fmt.Sprintf("video set is fixed to %v, desired %v", stored, rec.Videos))
	}

	updates := map[string]interface{}{}
	if project.Description != rec.Description {
		updates["description"] = rec.Description
	}
	if rec.Active() && !project.IsActive {
		updates["is_active"] = true
	}
	if len(updates) == 0 {
		return Unchanged, nil
	}
	if err := txn.Model(&schema.Project{}).Where("id = ?", project.Id).Updates(updates).Error; err != nil {
		return "", writeError("updating project", err)
	}
	return Updated, nil
}

type projectGroupHandler struct{}

func (projectGroupHandler) collection() records.Collection { return records.ProjectGroups }

func (projectGroupHandler) entity() schema.EntityType { return schema.ProjectGroupEntity }

func (projectGroupHandler) active(rec records.ProjectGroupRecord) bool { return rec.Active() }

func (projectGroupHandler) refs(rec records.ProjectGroupRecord) []ref {
	out := make([]ref, 0, len(rec.Projects))
	for _, name := range rec.Projects {
		out = append(out, ref{records.Projects, keys.New(name)})
	}
	return out
}

func (projectGroupHandler) validate(rec records.ProjectGroupRecord) error {
	if rec.ProjectGroupName == "" {
		return schema.Invalid("project group name must not be empty")
	}
	if name, ok := repeated(rec.Projects); ok {
		return schema.Invalid("project group '%v' lists project '%v' twice", rec.ProjectGroupName, name)
	}
	return nil
}

func (projectGroupHandler) state(txn *gorm.DB, rec records.ProjectGroupRecord) (bool, bool, error) {
	group, err := schema.GetProjectGroup(txn, rec.ProjectGroupName, false)
	exists, err := found(err)
	return exists, exists && group.IsActive, err
}

func (projectGroupHandler) write(txn *gorm.DB, rec records.ProjectGroupRecord, now time.Time) (Outcome, error) {
	rec = rec.Normalized()

	projects := make([]schema.Project, 0, len(rec.Projects))
	for _, name := range rec.Projects {
		project, err := schema.GetProject(txn, name, false)
		if err != nil {
			return "", err
		}
		projects = append(projects, project)
	}
	if err := schema.CheckProjectOverlap(txn, projects); err != nil {
		return "", err
	}

	group, err := schema.GetProjectGroup(txn, rec.ProjectGroupName, true)
	exists, err := found(err)
	if err != nil {
		return "", err
	}

	if !exists {
		group = schema.ProjectGroup{
			Id:          uuid.New(),
			Name:        rec.ProjectGroupName,
			Description: rec.Description,
			IsActive:    rec.Active(),
		}
		if err := txn.Create(&group).Error; err != nil {
			return "", writeError("creating project group", err)
		}
		if err := replaceGroupProjects(txn, group.Id, projects); err != nil {
			return "", err
		}
		return Created, nil
	}

	stored := make([]string, 0, len(group.Projects))
	for _, member := range group.Projects {
		if member.Project != nil {
			stored = append(stored, member.Project.Name)
		}
	}
	sort.Strings(stored)

	changed := false
	if !slices.Equal(stored, rec.Projects) {
		if err := replaceGroupProjects(txn, group.Id, projects); err != nil {
			return "", err
		}
		changed = true
	}

	updates := map[string]interface{}{}
	if group.Description != rec.Description {
		updates["description"] = rec.Description
	}
	if rec.Active() && !group.IsActive {
		updates["is_active"] = true
	}
	if len(updates) > 0 {
		if err := txn.Model(&schema.ProjectGroup{}).Where("id = ?", group.Id).Updates(updates).Error; err != nil {
			return "", writeError("updating project group", err)
		}
		changed = true
	}

	if !changed {
		return Unchanged, nil
	}
	return Updated, nil
}

func replaceGroupProjects(txn *gorm.DB, groupId uuid.UUID, projects []schema.Project) error {
	if err := txn.Where("project_group_id = ?", groupId).Delete(&schema.ProjectGroupProject{}).Error; err != nil {
		return schema.StoreError("clearing project group projects", err)
	}
	for _, p := range projects {
		if err := txn.Create(&schema.ProjectGroupProject{ProjectGroupId: groupId, ProjectId: p.Id}).Error; err != nil {
			return writeError("adding project to group", err)
		}
	}
	return nil
}
