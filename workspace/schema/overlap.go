package schema

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type projectFootprint struct {
	name           string
	exclusiveGroup map[uuid.UUID]string
	activeVideos   map[uuid.UUID]string
}

func footprintOf(txn *gorm.DB, project Project) (projectFootprint, error) {
	fp := projectFootprint{name: project.Name, exclusiveGroup: make(map[uuid.UUID]string), activeVideos: make(map[uuid.UUID]string)}

	var groups []QuestionGroup
	result := txn.Model(&QuestionGroup{}).
		Joins("JOIN schema_question_groups ON schema_question_groups.question_group_id = question_groups.id").
		Where("schema_question_groups.schema_id = ? AND question_groups.is_reusable = ?", project.SchemaId, false).
		Find(&groups)
	if result.Error != nil {
		return fp, StoreError("listing non-reusable question groups", result.Error)
	}
	for _, g := range groups {
		fp.exclusiveGroup[g.Id] = g.Title
	}

	var videos []Video
	result = txn.Model(&Video{}).
		Joins("JOIN project_videos ON project_videos.video_id = videos.id").
		Where("project_videos.project_id = ? AND videos.is_active = ?", project.Id, true).
		Find(&videos)
	if result.Error != nil {
		return fp, StoreError("listing project videos", result.Error)
	}
	for _, v := range videos {
		fp.activeVideos[v.Id] = v.VideoUid
	}

	return fp, nil
}

func sharedNames(a, b map[uuid.UUID]string) []string {
	var out []string
	for id, name := range a {
		if _, ok := b[id]; ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// CheckProjectOverlap rejects a set of projects in which two projects share
// both a non-reusable question group and an active video.
func CheckProjectOverlap(txn *gorm.DB, projects []Project) error {
	footprints := make([]projectFootprint, 0, len(projects))
	for _, p := range projects {
		fp, err := footprintOf(txn, p)
		if err != nil {
			return err
		}
		footprints = append(footprints, fp)
	}

	for i := range footprints {
		for j := i + 1; j < len(footprints); j++ {
			groups := sharedNames(footprints[i].exclusiveGroup, footprints[j].exclusiveGroup)
			if len(groups) == 0 {
				continue
			}
			videos := sharedNames(footprints[i].activeVideos, footprints[j].activeVideos)
			if len(videos) == 0 {
				continue
			}
			return Conflict("projects '%v' and '%v' share non-reusable question groups %v and videos %v",
				footprints[i].name, footprints[j].name, groups, videos)
		}
	}
	return nil
}

// RecheckProjectGroups reruns CheckProjectOverlap for every project group
// that has a member among projectIds, a subquery selecting project ids.
// It is called after a write that can turn an accepted group invalid.
func RecheckProjectGroups(txn *gorm.DB, projectIds *gorm.DB) error {
	var groupIds []uuid.UUID
	result := txn.Model(&ProjectGroupProject{}).Distinct().
		Where("project_id IN (?)", projectIds).
		Pluck("project_group_id", &groupIds)
	if result.Error != nil {
		return StoreError("listing affected project groups", result.Error)
	}
	if len(groupIds) == 0 {
		return nil
	}

	var groups []ProjectGroup
	result = txn.Preload("Projects.Project").Order("name").Find(&groups, "id IN ?", groupIds)
	if result.Error != nil {
		return StoreError("loading affected project groups", result.Error)
	}

	for _, group := range groups {
		projects := make([]Project, 0, len(group.Projects))
		for _, member := range group.Projects {
			if member.Project != nil {
				projects = append(projects, *member.Project)
			}
		}
		sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
		if err := CheckProjectOverlap(txn, projects); err != nil {
			return fmt.Errorf("project group '%v': %w", group.Name, err)
		}
	}
	return nil
}

// ProjectsUsingGroupQuery selects the ids of projects whose schema contains
// the question group.
func ProjectsUsingGroupQuery(txn *gorm.DB, groupId uuid.UUID) *gorm.DB {
	return txn.Model(&Project{}).Select("projects.id").
		Joins("JOIN schema_question_groups ON schema_question_groups.schema_id = projects.schema_id").
		Where("schema_question_groups.question_group_id = ?", groupId)
}

// ProjectsWithVideoQuery selects the ids of projects that contain the video.
func ProjectsWithVideoQuery(txn *gorm.DB, videoId uuid.UUID) *gorm.DB {
	return txn.Model(&ProjectVideo{}).Select("project_id").Where("video_id = ?", videoId)
}
