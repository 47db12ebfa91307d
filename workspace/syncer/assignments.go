package syncer

import (
	"time"

	"label_pizza/workspace/keys"
	"label_pizza/workspace/records"
	"label_pizza/workspace/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type assignmentHandler struct{}

func (assignmentHandler) collection() records.Collection { return records.Assignments }

func (assignmentHandler) entity() schema.EntityType { return schema.AssignmentEntity }

func (assignmentHandler) active(rec records.AssignmentRecord) bool { return rec.Active() }

func (assignmentHandler) refs(rec records.AssignmentRecord) []ref {
	return []ref{
		{records.Users, keys.New(rec.UserName)},
		{records.Projects, keys.New(rec.ProjectName)},
	}
}

func (assignmentHandler) validate(rec records.AssignmentRecord) error {
	if rec.UserName == "" || rec.ProjectName == "" {
		return schema.Invalid("assignment must name a user and a project")
	}
	if err := schema.CheckValidRole(rec.Role); err != nil {
		return schema.Invalid("assignment %v: %v", rec.Key(), err)
	}
	if rec.Weight() <= 0 {
		return schema.Invalid("assignment %v has non-positive weight %v", rec.Key(), rec.Weight())
	}
	return nil
}

func (assignmentHandler) state(txn *gorm.DB, rec records.AssignmentRecord) (bool, bool, error) {
	user, err := schema.GetUser(txn, rec.UserName)
	if ok, err := found(err); !ok {
		return false, false, err
	}
	project, err := schema.GetProject(txn, rec.ProjectName, false)
	if ok, err := found(err); !ok {
		return false, false, err
	}
	assignment, err := schema.GetAssignment(txn, project.Id, user.Id, rec.Role)
	exists, err := found(err)
	return exists, exists && assignment.IsActive, err
}

func (assignmentHandler) write(txn *gorm.DB, rec records.AssignmentRecord, now time.Time) (Outcome, error) {
	user, err := schema.GetUser(txn, rec.UserName)
	if err != nil {
		return "", err
	}
	project, err := schema.GetProject(txn, rec.ProjectName, false)
	if err != nil {
		return "", err
	}

	if rec.Active() {
		if !user.IsActive {
			return "", schema.Invalid("user '%v' is archived", rec.UserName)
		}
		if !project.IsActive {
			return "", schema.Invalid("project '%v' is archived", rec.ProjectName)
		}
	}
	if user.RoleKind == schema.ModelKind && rec.Role != schema.ModelRole {
		return "", schema.Invalid("model user '%v' can only hold the model role", rec.UserName)
	}
	if user.RoleKind != schema.ModelKind && rec.Role == schema.ModelRole {
		return "", schema.Invalid("only model users can hold the model role, '%v' is %v", rec.UserName, user.RoleKind)
	}

	assignment, err := schema.GetAssignment(txn, project.Id, user.Id, rec.Role)
	exists, err := found(err)
	if err != nil {
		return "", err
	}

	if !exists {
		assignment = schema.ProjectUserRole{
			Id:         uuid.New(),
			ProjectId:  project.Id,
			UserId:     user.Id,
			Role:       rec.Role,
			UserWeight: rec.Weight(),
			IsActive:   rec.Active(),
			AssignedAt: now,
		}
		if err := txn.Create(&assignment).Error; err != nil {
			return "", writeError("creating assignment", err)
		}
		return Created, nil
	}

	updates := map[string]interface{}{}
	if assignment.UserWeight != rec.Weight() {
		updates["user_weight"] = rec.Weight()
	}
	if rec.Active() && !assignment.IsActive {
		updates["is_active"] = true
		updates["assigned_at"] = now
	}
	if len(updates) == 0 {
		return Unchanged, nil
	}
	if err := txn.Model(&schema.ProjectUserRole{}).Where("id = ?", assignment.Id).Updates(updates).Error; err != nil {
		return "", writeError("updating assignment", err)
	}
	return Updated, nil
}
