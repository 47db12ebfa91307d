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

type schemaHandler struct{}

func (schemaHandler) collection() records.Collection { return records.Schemas }

func (schemaHandler) entity() schema.EntityType { return schema.SchemaEntity }

func (schemaHandler) active(rec records.SchemaRecord) bool { return rec.Active() }

func (schemaHandler) refs(rec records.SchemaRecord) []ref {
	out := make([]ref, 0, len(rec.QuestionGroupNames))
	for _, title := range rec.QuestionGroupNames {
		out = append(out, ref{records.QuestionGroups, keys.New(title)})
	}
	return out
}

func (schemaHandler) validate(rec records.SchemaRecord) error {
	if rec.SchemaName == "" {
		return schema.Invalid("schema name must not be empty")
	}
	if len(rec.QuestionGroupNames) == 0 {
		return schema.Invalid("schema '%v' has no question groups", rec.SchemaName)
	}
	seen := make(map[string]bool, len(rec.QuestionGroupNames))
	for _, title := range rec.QuestionGroupNames {
		if seen[title] {
			return schema.Invalid("schema '%v' repeats question group '%v'", rec.SchemaName, title)
		}
		seen[title] = true
	}
	return nil
}

func (schemaHandler) state(txn *gorm.DB, rec records.SchemaRecord) (bool, bool, error) {
	s, err := schema.GetSchema(txn, rec.SchemaName, false)
	exists, err := found(err)
	return exists, exists && s.IsActive, err
}

// schemaGroups resolves the question groups of a schema in order and checks
// that no question appears in two of them.
func schemaGroups(txn *gorm.DB, rec records.SchemaRecord) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(rec.QuestionGroupNames))
	owner := make(map[string]string)

	for _, title := range rec.QuestionGroupNames {
		group, err := schema.GetQuestionGroup(txn, title, true)
		if err != nil {
			return nil, err
		}
		if !group.IsActive && rec.Active() {
			return nil, schema.Invalid("question group '%v' is archived", title)
		}
		for _, member := range group.Questions {
			if member.Question == nil {
				continue
			}
			text := member.Question.Text
			if other, ok := owner[text]; ok {
				return nil, schema.Invalid("question '%v' appears in question groups '%v' and '%v'", text, other, title)
			}
			owner[text] = title
		}
		ids = append(ids, group.Id)
	}
	return ids, nil
}

func replaceSchemaGroups(txn *gorm.DB, schemaId uuid.UUID, groupIds []uuid.UUID) error {
	if err := txn.Where("schema_id = ?", schemaId).Delete(&schema.SchemaQuestionGroup{}).Error; err != nil {
		return schema.StoreError("clearing schema question groups", err)
	}
	for i, id := range groupIds {
		row := schema.SchemaQuestionGroup{SchemaId: schemaId, QuestionGroupId: id, DisplayOrder: i}
		if err := txn.Create(&row).Error; err != nil {
			return writeError("adding question group to schema", err)
		}
	}
	return nil
}

func sortedIds(ids []uuid.UUID) []uuid.UUID {
	out := slices.Clone(ids)
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (schemaHandler) write(txn *gorm.DB, rec records.SchemaRecord, now time.Time) (Outcome, error) {
	groupIds, err := schemaGroups(txn, rec)
	if err != nil {
		return "", err
	}

	s, err := schema.GetSchema(txn, rec.SchemaName, true)
	exists, err := found(err)
	if err != nil {
		return "", err
	}

	if !exists {
		s = schema.Schema{
			Id:               uuid.New(),
			Name:             rec.SchemaName,
			HasCustomDisplay: rec.HasCustomDisplay,
			IsActive:         rec.Active(),
		}
		if err := txn.Create(&s).Error; err != nil {
			return "", writeError("creating schema", err)
		}
		if err := replaceSchemaGroups(txn, s.Id, groupIds); err != nil {
			return "", err
		}
		return Created, nil
	}

	stored := make([]uuid.UUID, 0, len(s.QuestionGroups))
	storedTitles := make([]string, 0, len(s.QuestionGroups))
	for _, member := range s.QuestionGroups {
		stored = append(stored, member.QuestionGroupId)
		if member.QuestionGroup != nil {
			storedTitles = append(storedTitles, member.QuestionGroup.Title)
		}
	}

	if !slices.Equal(sortedIds(stored), sortedIds(groupIds)) {
		return "", schema.ImmutableField(schema.SchemaEntity, rec.SchemaName, "question_group_names",
			fmt.Sprintf("membership is fixed to %v, desired %v", storedTitles, rec.QuestionGroupNames))
	}

	changed := false
	if !slices.Equal(stored, groupIds) {
		if err := replaceSchemaGroups(txn, s.Id, groupIds); err != nil {
			return "", err
		}
		changed = true
	}

	updates := map[string]interface{}{}
	if s.HasCustomDisplay != rec.HasCustomDisplay {
		updates["has_custom_display"] = rec.HasCustomDisplay
	}
	if rec.Active() && !s.IsActive {
		updates["is_active"] = true
	}
	if len(updates) > 0 {
		if err := txn.Model(&schema.Schema{}).Where("id = ?", s.Id).Updates(updates).Error; err != nil {
			return "", writeError("updating schema", err)
		}
		changed = true
	}

	if !changed {
		return Unchanged, nil
	}
	return Updated, nil
}
