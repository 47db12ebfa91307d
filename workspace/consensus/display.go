package consensus

import (
	"label_pizza/workspace/schema"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Display struct {
	Text          string            `json:"display_text,omitempty"`
	OptionDisplay map[string]string `json:"option_display,omitempty"`
}

// SetCustomDisplay overrides how a question is shown for one video of a
// project. The project's schema must allow custom displays.
func SetCustomDisplay(txn *gorm.DB, target Target, display Display) (schema.CustomDisplay, error) {
	var projectSchema schema.Schema
	if err := txn.First(&projectSchema, "id = ?", target.Project.SchemaId).Error; err != nil {
		return schema.CustomDisplay{}, schema.StoreError("loading project schema", err)
	}
	if !projectSchema.HasCustomDisplay {
		return schema.CustomDisplay{}, schema.Invalid("schema '%v' of project '%v' does not allow custom displays", projectSchema.Name, target.Project.Name)
	}

	optionDisplay := datatypes.JSONMap{}
	for option, label := range display.OptionDisplay {
		if !target.Question.HasOption(option) {
			return schema.CustomDisplay{}, schema.Invalid("'%v' is not an option of question '%v'", option, target.Question.Text)
		}
		optionDisplay[option] = label
	}

	var row schema.CustomDisplay
	result := txn.Limit(1).Find(&row, "project_id = ? AND video_id = ? AND question_id = ?", target.Project.Id, target.Video.Id, target.Question.Id)
	if result.Error != nil {
		return schema.CustomDisplay{}, schema.StoreError("loading custom display", result.Error)
	}

	if result.RowsAffected == 0 {
		row = schema.CustomDisplay{Id: uuid.New(), ProjectId: target.Project.Id, VideoId: target.Video.Id, QuestionId: target.Question.Id}
	}
	row.DisplayText = display.Text
	row.OptionDisplay = optionDisplay
	row.IsActive = true

	var err error
	if result.RowsAffected == 0 {
		err = txn.Create(&row).Error
	} else {
		err = txn.Save(&row).Error
	}
	if err != nil {
		return schema.CustomDisplay{}, schema.StoreError("storing custom display", err)
	}

	return row, nil
}

// ClearCustomDisplay archives the override so the question shows its defaults.
func ClearCustomDisplay(txn *gorm.DB, target Target) error {
	result := txn.Model(&schema.CustomDisplay{}).
		Where("project_id = ? AND video_id = ? AND question_id = ? AND is_active = ?", target.Project.Id, target.Video.Id, target.Question.Id, true).
		Update("is_active", false)
	if result.Error != nil {
		return schema.StoreError("clearing custom display", result.Error)
	}
	if result.RowsAffected == 0 {
		return schema.NotFound(schema.CustomDisplayEntity, target.Key())
	}
	return nil
}

// EffectiveDisplay returns the text and option labels shown for the target.
func EffectiveDisplay(txn *gorm.DB, target Target) (Display, error) {
	display := Display{Text: target.Question.DisplayText, OptionDisplay: make(map[string]string)}
	for i, option := range target.Question.Options {
		label := option
		if i < len(target.Question.DisplayValues) {
			label = target.Question.DisplayValues[i]
		}
		display.OptionDisplay[option] = label
	}

	var row schema.CustomDisplay
	result := txn.Limit(1).Find(&row, "project_id = ? AND video_id = ? AND question_id = ? AND is_active = ?",
		target.Project.Id, target.Video.Id, target.Question.Id, true)
	if result.Error != nil {
		return Display{}, schema.StoreError("loading custom display", result.Error)
	}
	if result.RowsAffected == 0 {
		return display, nil
	}

	if row.DisplayText != "" {
		display.Text = row.DisplayText
	}
	for option, label := range row.OptionDisplay {
		if s, ok := label.(string); ok {
			display.OptionDisplay[option] = s
		}
	}
	return display, nil
}
