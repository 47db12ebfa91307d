package cascade

import (
	"fmt"
	"log/slog"

	"label_pizza/utils/logging"
	"label_pizza/workspace/keys"
	"label_pizza/workspace/metrics"
	"label_pizza/workspace/schema"

	"gorm.io/gorm"
)

// PlanSchemaChange computes what replacing a project's schema destroys: every
// answer, answer review, ground truth row and custom display of the project.
func PlanSchemaChange(txn *gorm.DB, projectName, schemaName string) (Plan, error) {
	project, err := schema.GetProject(txn, projectName, false)
	if err != nil {
		return Plan{}, err
	}

	replacement, err := schema.GetSchema(txn, schemaName, false)
	if err != nil {
		return Plan{}, err
	}
	if !replacement.IsActive {
		return Plan{}, schema.Invalid("schema '%v' is archived", schemaName)
	}
	if replacement.Id == project.SchemaId {
		return Plan{}, schema.Invalid("project '%v' already uses schema '%v'", projectName, schemaName)
	}

	plan, err := schemaChangeGraph.plan(txn, projectSchemaNode, project.Id, schema.ProjectEntity, keys.New(projectName))
	if err != nil {
		return Plan{}, err
	}
	plan.ReplacementSchema = schemaName
	plan.Token = fingerprint(plan)
	return plan, nil
}

func ExecuteSchemaChange(txn *gorm.DB, confirmed Plan) error {
	if confirmed.ReplacementSchema == "" || len(confirmed.Key) != 1 {
		return fmt.Errorf("plan for %v %v is not a schema change plan", confirmed.Entity, confirmed.Key)
	}

	current, err := PlanSchemaChange(txn, confirmed.Key[0], confirmed.ReplacementSchema)
	if err != nil {
		return err
	}
	if !covers(confirmed, current) {
		return ErrPlanChanged
	}

	if err := apply(txn, schemaChangeGraph, current); err != nil {
		return err
	}

	replacement, err := schema.GetSchema(txn, current.ReplacementSchema, false)
	if err != nil {
		return err
	}

	result := txn.Model(&schema.Project{}).Where("name = ?", current.Key[0]).Update("schema_id", replacement.Id)
	if result.Error != nil {
		return schema.StoreError("replacing project schema", result.Error)
	}

	changed := txn.Model(&schema.Project{}).Select("id").Where("name = ?", current.Key[0])
	if err := schema.RecheckProjectGroups(txn, changed); err != nil {
		return err
	}

	slog.Info("replaced project schema", "project", current.Key[0], "schema", current.ReplacementSchema, "code", logging.CASCADE)

	return nil
}

// ChangeSchema is the forced override path for replacing a project's schema.
func ChangeSchema(db *gorm.DB, projectName, schemaName string, confirm Confirmer) (Plan, error) {
	plan, err := PlanSchemaChange(db, projectName, schemaName)
	if err != nil {
		return Plan{}, err
	}

	if !confirm(plan) {
		metrics.CascadeDeclined.Inc()
		return plan, schema.ErrCascadeNotConfirmed
	}

	err = db.Transaction(func(txn *gorm.DB) error {
		return ExecuteSchemaChange(txn, plan)
	})
	if err != nil {
		return plan, err
	}

	return plan, nil
}
