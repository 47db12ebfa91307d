package syncer

import (
	"fmt"
	"slices"
	"time"

	"label_pizza/workspace/records"
	"label_pizza/workspace/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func validateQuestion(q records.QuestionRecord) error {
	q = q.Normalized()
	if q.Text == "" {
		return schema.Invalid("question text must not be empty")
	}
	if err := schema.CheckValidQuestionType(q.QType); err != nil {
		return schema.Invalid("question '%v': %v", q.Text, err)
	}

	if q.QType == schema.FreeText {
		if len(q.Options) > 0 || len(q.DisplayValues) > 0 || len(q.OptionWeights) > 0 {
			return schema.Invalid("free text question '%v' cannot have options", q.Text)
		}
		return nil
	}

	if len(q.Options) == 0 {
		return schema.Invalid("single choice question '%v' must have options", q.Text)
	}
	seen := make(map[string]bool, len(q.Options))
	for _, opt := range q.Options {
		if opt == "" {
			return schema.Invalid("question '%v' has an empty option", q.Text)
		}
		if seen[opt] {
			return schema.Invalid("question '%v' repeats option '%v'", q.Text, opt)
		}
		seen[opt] = true
	}
	if len(q.DisplayValues) != len(q.Options) {
		return schema.Invalid("question '%v' has %d display values for %d options", q.Text, len(q.DisplayValues), len(q.Options))
	}
	if len(q.OptionWeights) != len(q.Options) {
		return schema.Invalid("question '%v' has %d option weights for %d options", q.Text, len(q.OptionWeights), len(q.Options))
	}
	for i, w := range q.OptionWeights {
		if w < 0 {
			return schema.Invalid("question '%v' option '%v' has negative weight %v", q.Text, q.Options[i], w)
		}
	}
	if q.DefaultOption != "" && !seen[q.DefaultOption] {
		return schema.Invalid("default option '%v' of question '%v' is not an option", q.DefaultOption, q.Text)
	}
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// writeQuestion creates the question or updates its mutable fields. Type is
// frozen and options only grow at the end.
func writeQuestion(txn *gorm.DB, q records.QuestionRecord) (uuid.UUID, bool, error) {
	q = q.Normalized()

	question, err := schema.GetQuestion(txn, q.Text)
	exists, err := found(err)
	if err != nil {
		return uuid.Nil, false, err
	}

	if !exists {
		question = schema.Question{
			Id:            uuid.New(),
			Text:          q.Text,
			DisplayText:   q.DisplayText,
			Type:          q.QType,
			Options:       q.Options,
			DisplayValues: q.DisplayValues,
			OptionWeights: q.OptionWeights,
			DefaultOption: optionalString(q.DefaultOption),
			IsActive:      true,
		}
		if err := txn.Create(&question).Error; err != nil {
			return uuid.Nil, false, writeError("creating question", err)
		}
		return question.Id, true, nil
	}

	if question.Type != q.QType {
		return uuid.Nil, false, schema.ImmutableField(schema.QuestionEntity, q.Text, "qtype",
			fmt.Sprintf("stored as '%v', desired '%v'", question.Type, q.QType))
	}
	if len(q.Options) < len(question.Options) || !slices.Equal(q.Options[:len(question.Options)], []string(question.Options)) {
		return uuid.Nil, false, schema.ImmutableField(schema.QuestionEntity, q.Text, "options",
			fmt.Sprintf("options can only be appended to %v, desired %v", []string(question.Options), q.Options))
	}

	changed := false
	if question.DisplayText != q.DisplayText {
		question.DisplayText = q.DisplayText
		changed = true
	}
	if !slices.Equal([]string(question.Options), q.Options) {
		question.Options = q.Options
		changed = true
	}
	if !slices.Equal([]string(question.DisplayValues), q.DisplayValues) {
		question.DisplayValues = q.DisplayValues
		changed = true
	}
	if !slices.Equal([]float64(question.OptionWeights), q.OptionWeights) {
		question.OptionWeights = q.OptionWeights
		changed = true
	}
	if derefString(question.DefaultOption) != q.DefaultOption {
		question.DefaultOption = optionalString(q.DefaultOption)
		changed = true
	}
	if !question.IsActive {
		question.IsActive = true
		changed = true
	}

	if changed {
		if err := txn.Save(&question).Error; err != nil {
			return uuid.Nil, false, writeError("updating question", err)
		}
	}
	return question.Id, changed, nil
}

type questionGroupHandler struct{}

func (questionGroupHandler) collection() records.Collection { return records.QuestionGroups }

func (questionGroupHandler) entity() schema.EntityType { return schema.QuestionGroupEntity }

func (questionGroupHandler) active(rec records.QuestionGroupRecord) bool { return rec.Active() }

func (questionGroupHandler) refs(records.QuestionGroupRecord) []ref { return nil }

func (questionGroupHandler) validate(rec records.QuestionGroupRecord) error {
	if rec.Title == "" {
		return schema.Invalid("question group title must not be empty")
	}
	if len(rec.Questions) == 0 {
		return schema.Invalid("question group '%v' has no questions", rec.Title)
	}
	if err := schema.CheckVerificationFunction(rec.VerificationFunction); err != nil {
		return schema.Invalid("question group '%v': %v", rec.Title, err)
	}
	seen := make(map[string]bool, len(rec.Questions))
	for _, q := range rec.Questions {
		if err := validateQuestion(q); err != nil {
			return fmt.Errorf("question group '%v': %w", rec.Title, err)
		}
		if seen[q.Text] {
			return schema.Invalid("question group '%v' repeats question '%v'", rec.Title, q.Text)
		}
		seen[q.Text] = true
	}
	return nil
}

func (questionGroupHandler) state(txn *gorm.DB, rec records.QuestionGroupRecord) (bool, bool, error) {
	group, err := schema.GetQuestionGroup(txn, rec.Title, false)
	exists, err := found(err)
	return exists, exists && group.IsActive, err
}

func replaceGroupQuestions(txn *gorm.DB, groupId uuid.UUID, questionIds []uuid.UUID) error {
	if err := txn.Where("question_group_id = ?", groupId).Delete(&schema.QuestionGroupQuestion{}).Error; err != nil {
		return schema.StoreError("clearing question group questions", err)
	}
	for i, id := range questionIds {
		row := schema.QuestionGroupQuestion{QuestionGroupId: groupId, QuestionId: id, DisplayOrder: i}
		if err := txn.Create(&row).Error; err != nil {
			return writeError("adding question to group", err)
		}
	}
	return nil
}

func (questionGroupHandler) write(txn *gorm.DB, rec records.QuestionGroupRecord, now time.Time) (Outcome, error) {
	rec = rec.Normalized()

	group, err := schema.GetQuestionGroup(txn, rec.Title, true)
	exists, err := found(err)
	if err != nil {
		return "", err
	}

	changed := false
	questionIds := make([]uuid.UUID, 0, len(rec.Questions))
	for _, q := range rec.Questions {
		id, questionChanged, err := writeQuestion(txn, q)
		if err != nil {
			return "", err
		}
		changed = changed || questionChanged
		questionIds = append(questionIds, id)
	}

	if !exists {
		group = schema.QuestionGroup{
			Id:                   uuid.New(),
			Title:                rec.Title,
			DisplayTitle:         rec.DisplayTitle,
			Description:          rec.Description,
			IsReusable:           rec.IsReusable,
			IsAutoSubmit:         rec.IsAutoSubmit,
			VerificationFunction: rec.VerificationFunction,
			IsActive:             rec.Active(),
		}
		if err := txn.Create(&group).Error; err != nil {
			return "", writeError("creating question group", err)
		}
		if err := replaceGroupQuestions(txn, group.Id, questionIds); err != nil {
			return "", err
		}
		return Created, nil
	}

	stored := make([]uuid.UUID, 0, len(group.Questions))
	for _, member := range group.Questions {
		stored = append(stored, member.QuestionId)
	}

	if !slices.Equal(stored, questionIds) {
		var removed []string
		for _, member := range group.Questions {
			if !slices.Contains(questionIds, member.QuestionId) && member.Question != nil {
				removed = append(removed, member.Question.Text)
			}
		}
		if len(removed) > 0 {
			projects, err := schema.ProjectsUsingGroup(txn, group.Id)
			if err != nil {
				return "", err
			}
			if projects > 0 {
				return "", schema.ImmutableField(schema.QuestionGroupEntity, rec.Title, "questions",
					fmt.Sprintf("cannot remove %v while %d projects use the group", removed, projects))
			}
		}
		if err := replaceGroupQuestions(txn, group.Id, questionIds); err != nil {
			return "", err
		}
		changed = true
	}

	updates := map[string]interface{}{}
	if group.DisplayTitle != rec.DisplayTitle {
		updates["display_title"] = rec.DisplayTitle
	}
	if group.Description != rec.Description {
		updates["description"] = rec.Description
	}
	if group.IsReusable != rec.IsReusable {
		updates["is_reusable"] = rec.IsReusable
	}
	if group.IsAutoSubmit != rec.IsAutoSubmit {
		updates["is_auto_submit"] = rec.IsAutoSubmit
	}
	if group.VerificationFunction != rec.VerificationFunction {
		updates["verification_function"] = rec.VerificationFunction
	}
	if rec.Active() && !group.IsActive {
		updates["is_active"] = true
	}
	if len(updates) > 0 {
		if err := txn.Model(&schema.QuestionGroup{}).Where("id = ?", group.Id).Updates(updates).Error; err != nil {
			return "", writeError("updating question group", err)
		}
		changed = true
	}

	if group.IsReusable && !rec.IsReusable {
		if err := schema.RecheckProjectGroups(txn, schema.ProjectsUsingGroupQuery(txn, group.Id)); err != nil {
			return "", err
		}
	}

	if !changed {
		return Unchanged, nil
	}
	return Updated, nil
}
