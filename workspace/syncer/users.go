package syncer

import (
	"time"

	"label_pizza/workspace/auth"
	"label_pizza/workspace/cascade"
	"label_pizza/workspace/records"
	"label_pizza/workspace/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type userHandler struct{}

func (userHandler) collection() records.Collection { return records.Users }

func (userHandler) entity() schema.EntityType { return schema.UserEntity }

func (userHandler) active(rec records.UserRecord) bool { return rec.Active() }

func (userHandler) refs(records.UserRecord) []ref { return nil }

func (userHandler) validate(rec records.UserRecord) error {
	rec = rec.Normalized()
	if rec.UserId == "" {
		return schema.Invalid("user_id must not be empty")
	}
	if err := schema.CheckValidRoleKind(rec.UserType); err != nil {
		return schema.Invalid("user '%v': %v", rec.UserId, err)
	}
	if rec.UserType == schema.ModelKind {
		if rec.Email != "" || rec.Password != "" {
			return schema.Invalid("model user '%v' cannot have an email or password", rec.UserId)
		}
		return nil
	}
	if rec.Email == "" {
		return schema.Invalid("%v user '%v' must have an email", rec.UserType, rec.UserId)
	}
	return nil
}

func (userHandler) state(txn *gorm.DB, rec records.UserRecord) (bool, bool, error) {
	user, err := schema.GetUser(txn, rec.UserId)
	exists, err := found(err)
	return exists, exists && user.IsActive, err
}

// planUpdate plans the override reverts of an admin demoted to human. A
// demotion with nothing to revert needs no confirmation.
func (userHandler) planUpdate(txn *gorm.DB, rec records.UserRecord) (*cascade.Plan, error) {
	rec = rec.Normalized()
	if rec.UserType != schema.HumanKind {
		return nil, nil
	}

	user, err := schema.GetUser(txn, rec.UserId)
	exists, err := found(err)
	if err != nil || !exists || !user.IsAdmin() {
		return nil, err
	}

	plan, err := cascade.PlanDemotion(txn, rec.UserId)
	if err != nil {
		return nil, err
	}
	if plan.Empty() {
		return nil, nil
	}
	return &plan, nil
}

func (userHandler) executeUpdate(txn *gorm.DB, plan cascade.Plan) error {
	return cascade.ExecuteDemotion(txn, plan)
}

func emailTaken(txn *gorm.DB, email string, self uuid.UUID) (bool, error) {
	var count int64
	result := txn.Model(&schema.User{}).Where("email = ? AND id <> ?", email, self).Count(&count)
	if result.Error != nil {
		return false, schema.StoreError("checking email", result.Error)
	}
	return count > 0, nil
}

func emailPtr(email string) *string {
	if email == "" {
		return nil
	}
	return &email
}

func (userHandler) write(txn *gorm.DB, rec records.UserRecord, now time.Time) (Outcome, error) {
	rec = rec.Normalized()

	user, err := schema.GetUser(txn, rec.UserId)
	exists, err := found(err)
	if err != nil {
		return "", err
	}

	if rec.Email != "" {
		taken, err := emailTaken(txn, rec.Email, user.Id)
		if err != nil {
			return "", err
		}
		if taken {
			return "", schema.Conflict("email '%v' is already used by another user", rec.Email)
		}
	}

	if !exists {
		user = schema.User{
			Id:        uuid.New(),
			UserUid:   rec.UserId,
			Email:     emailPtr(rec.Email),
			RoleKind:  rec.UserType,
			IsActive:  rec.Active(),
			CreatedAt: now,
		}
		if rec.UserType != schema.ModelKind {
			if rec.Password == "" {
				return "", schema.Invalid("new %v user '%v' must have a password", rec.UserType, rec.UserId)
			}
			hashed, err := auth.HashPassword(rec.Password)
			if err != nil {
				return "", err
			}
			user.Password = hashed
		}
		if err := txn.Create(&user).Error; err != nil {
			return "", writeError("creating user", err)
		}
		return Created, nil
	}

	if user.RoleKind != rec.UserType {
		if user.RoleKind == schema.ModelKind || rec.UserType == schema.ModelKind {
			return "", schema.ImmutableField(schema.UserEntity, rec.UserId, "user_type",
				"model users cannot be converted to or from "+user.RoleKind+"/"+rec.UserType)
		}
	}

	changed := false
	if user.RoleKind != rec.UserType {
		user.RoleKind = rec.UserType
		changed = true
	}

	currentEmail := ""
	if user.Email != nil {
		currentEmail = *user.Email
	}
	if currentEmail != rec.Email {
		user.Email = emailPtr(rec.Email)
		changed = true
	}

	// Stored credentials cannot be exported, so an empty password keeps the current one.
	if rec.Password != "" && !auth.PasswordMatches(user.Password, rec.Password) {
		hashed, err := auth.HashPassword(rec.Password)
		if err != nil {
			return "", err
		}
		user.Password = hashed
		changed = true
	}

	if rec.Active() && !user.IsActive {
		user.IsActive = true
		changed = true
	}

	if !changed {
		return Unchanged, nil
	}

	if err := txn.Save(&user).Error; err != nil {
		return "", writeError("updating user", err)
	}
	return Updated, nil
}
