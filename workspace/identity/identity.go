// Package identity maps natural keys to surrogate ids and back. Every lookup
// reads the store; nothing is cached between calls.
package identity

import (
	"errors"
	"fmt"
	"log/slog"

	"label_pizza/workspace/keys"
	"label_pizza/workspace/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type naturalColumn struct {
	table  string
	column string
}

var simpleEntities = map[schema.EntityType]naturalColumn{
	schema.VideoEntity:         {table: "videos", column: "video_uid"},
	schema.UserEntity:          {table: "users", column: "user_uid"},
	schema.QuestionEntity:      {table: "questions", column: "text"},
	schema.QuestionGroupEntity: {table: "question_groups", column: "title"},
	schema.SchemaEntity:        {table: "schemas", column: "name"},
	schema.ProjectEntity:       {table: "projects", column: "name"},
	schema.ProjectGroupEntity:  {table: "project_groups", column: "name"},
}

// part is one component of a composite key. Parts with an entity hold the
// natural key of that entity and are stored as its id; parts without one are
// stored verbatim.
type part struct {
	entity schema.EntityType
	column string
}

type compositeEntity struct {
	table string
	parts []part
}

var compositeEntities = map[schema.EntityType]compositeEntity{
	schema.AssignmentEntity: {
		table: "project_user_roles",
		parts: []part{{schema.UserEntity, "user_id"}, {schema.ProjectEntity, "project_id"}, {"", "role"}},
	},
	schema.AnswerEntity: {
		table: "annotator_answers",
		parts: []part{{schema.VideoEntity, "video_id"}, {schema.QuestionEntity, "question_id"}, {schema.UserEntity, "user_id"}, {schema.ProjectEntity, "project_id"}},
	},
	schema.GroundTruthEntity: {
		table: "reviewer_ground_truths",
		parts: []part{{schema.VideoEntity, "video_id"}, {schema.QuestionEntity, "question_id"}, {schema.ProjectEntity, "project_id"}},
	},
	schema.CustomDisplayEntity: {
		table: "custom_displays",
		parts: []part{{schema.ProjectEntity, "project_id"}, {schema.VideoEntity, "video_id"}, {schema.QuestionEntity, "question_id"}},
	},
}

// Arity returns the number of components in the natural key of entity.
func Arity(entity schema.EntityType) (int, error) {
	if _, ok := simpleEntities[entity]; ok {
		return 1, nil
	}
	if composite, ok := compositeEntities[entity]; ok {
		return len(composite.parts), nil
	}
	if entity == schema.AnswerReviewEntity {
		return len(compositeEntities[schema.AnswerEntity].parts), nil
	}
	return 0, fmt.Errorf("entity type %v has no natural key", entity)
}

func checkArity(entity schema.EntityType, key keys.Key) error {
	n, err := Arity(entity)
	if err != nil {
		return err
	}
	if len(key) != n {
		return schema.Invalid("%v key %v must have %d components", entity, key, n)
	}
	return nil
}

func pluckIds(query *gorm.DB, entity schema.EntityType, key keys.Key) (uuid.UUID, error) {
	var ids []uuid.UUID
	result := query.Limit(1).Pluck("id", &ids)
	if result.Error != nil {
		return uuid.Nil, schema.StoreError(fmt.Sprintf("resolving %v", entity), result.Error)
	}
	if len(ids) == 0 {
		return uuid.Nil, schema.NotFound(entity, key)
	}
	return ids[0], nil
}

// Resolve returns the surrogate id of the entity with the given natural key.
func Resolve(txn *gorm.DB, entity schema.EntityType, key keys.Key) (uuid.UUID, error) {
	if err := checkArity(entity, key); err != nil {
		return uuid.Nil, err
	}

	if simple, ok := simpleEntities[entity]; ok {
		return pluckIds(txn.Table(simple.table).Where(simple.column+" = ?", key[0]), entity, key)
	}

	if entity == schema.AnswerReviewEntity {
		answerId, err := Resolve(txn, schema.AnswerEntity, key)
		if err != nil {
			return uuid.Nil, err
		}
		return pluckIds(txn.Table("answer_reviews").Where("answer_id = ?", answerId), entity, key)
	}

	composite := compositeEntities[entity]
	conds := make(map[string]interface{}, len(composite.parts))
	for i, p := range composite.parts {
		if p.entity == "" {
			conds[p.column] = key[i]
			continue
		}
		id, err := Resolve(txn, p.entity, keys.New(key[i]))
		if err != nil {
			return uuid.Nil, err
		}
		conds[p.column] = id
	}

	return pluckIds(txn.Table(composite.table).Where(conds), entity, key)
}

func pluckColumn(txn *gorm.DB, table, column string, entity schema.EntityType, id uuid.UUID) (string, error) {
	var values []string
	result := txn.Table(table).Where("id = ?", id).Limit(1).Pluck(column, &values)
	if result.Error != nil {
		return "", schema.StoreError(fmt.Sprintf("reading natural key of %v", entity), result.Error)
	}
	if len(values) == 0 {
		return "", schema.NotFound(entity, id)
	}
	return values[0], nil
}

// NaturalKeyOf returns the natural key of the entity with the given surrogate id.
func NaturalKeyOf(txn *gorm.DB, entity schema.EntityType, id uuid.UUID) (keys.Key, error) {
	if simple, ok := simpleEntities[entity]; ok {
		value, err := pluckColumn(txn, simple.table, simple.column, entity, id)
		if err != nil {
			return nil, err
		}
		return keys.New(value), nil
	}

	if entity == schema.AnswerReviewEntity {
		answerId, err := pluckColumn(txn, "answer_reviews", "answer_id", entity, id)
		if err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(answerId)
		if err != nil {
			return nil, fmt.Errorf("invalid answer id '%v' on review %v: %w", answerId, id, err)
		}
		return NaturalKeyOf(txn, schema.AnswerEntity, parsed)
	}

	composite, ok := compositeEntities[entity]
	if !ok {
		return nil, fmt.Errorf("entity type %v has no natural key", entity)
	}

	key := make(keys.Key, 0, len(composite.parts))
	for _, p := range composite.parts {
		value, err := pluckColumn(txn, composite.table, p.column, entity, id)
		if err != nil {
			return nil, err
		}
		if p.entity == "" {
			key = append(key, value)
			continue
		}
		parentId, err := uuid.Parse(value)
		if err != nil {
			return nil, fmt.Errorf("invalid %v '%v' on %v %v: %w", p.column, value, entity, id, err)
		}
		parentKey, err := NaturalKeyOf(txn, p.entity, parentId)
		if err != nil {
			return nil, err
		}
		key = append(key, parentKey...)
	}
	return key, nil
}

// Rename changes the natural key of a single-key entity. It is the only path
// through which a natural key changes.
func Rename(txn *gorm.DB, entity schema.EntityType, oldKey, newKey string) (uuid.UUID, error) {
	simple, ok := simpleEntities[entity]
	if !ok {
		return uuid.Nil, fmt.Errorf("entity type %v cannot be renamed", entity)
	}
	if newKey == "" {
		return uuid.Nil, schema.Invalid("new %v key must not be empty", entity)
	}

	id, err := Resolve(txn, entity, keys.New(oldKey))
	if err != nil {
		return uuid.Nil, err
	}

	existing, err := Resolve(txn, entity, keys.New(newKey))
	switch {
	case err == nil && existing != id:
		return uuid.Nil, fmt.Errorf("%w: %v '%v' already exists", schema.ErrConflict, entity, newKey)
	case err == nil:
		return id, nil
	case !isNotFound(err):
		return uuid.Nil, err
	}

	result := txn.Table(simple.table).Where("id = ?", id).Update(simple.column, newKey)
	if result.Error != nil {
		if schema.IsDuplicateKey(result.Error) {
			return uuid.Nil, fmt.Errorf("%w: %v '%v' already exists", schema.ErrConflict, entity, newKey)
		}
		return uuid.Nil, schema.StoreError(fmt.Sprintf("renaming %v", entity), result.Error)
	}

	slog.Info("renamed entity", "entity", entity, "id", id, "old_key", oldKey, "new_key", newKey)

	return id, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, schema.ErrNotFound)
}
