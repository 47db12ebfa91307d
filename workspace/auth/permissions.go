package auth

import (
	"errors"
	"fmt"
	"net/http"

	"label_pizza/utils"
	"label_pizza/workspace/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// grantingRoles lists, for each role, the explicit assignment roles that grant it.
var grantingRoles = map[string][]string{
	schema.AnnotatorRole: {schema.AnnotatorRole, schema.AdminRole},
	schema.ReviewerRole:  {schema.ReviewerRole, schema.AdminRole},
	schema.AdminRole:     {schema.AdminRole},
	schema.ModelRole:     {schema.ModelRole},
}

// HasCapability reports whether user may act as role in the project: either an
// active assignment grants it, or the user is a global admin. Global admins
// never act as models.
func HasCapability(txn *gorm.DB, user schema.User, projectId uuid.UUID, role string) (bool, error) {
	roles, ok := grantingRoles[role]
	if !ok {
		return false, schema.Invalid("%v", schema.CheckValidRole(role))
	}

	if !user.IsActive {
		return false, nil
	}

	if user.IsAdmin() && role != schema.ModelRole {
		return true, nil
	}

	var count int64
	result := txn.Model(&schema.ProjectUserRole{}).
		Where("project_id = ? AND user_id = ? AND role IN ? AND is_active = ?", projectId, user.Id, roles, true).
		Count(&count)
	if result.Error != nil {
		return false, schema.StoreError("checking role capability", result.Error)
	}

	return count > 0, nil
}

// RequireCapability succeeds if user holds any of the roles in the project.
func RequireCapability(txn *gorm.DB, user schema.User, projectId uuid.UUID, roles ...string) error {
	for _, role := range roles {
		ok, err := HasCapability(txn, user, projectId, role)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: user '%v' needs one of %v in project %v", schema.ErrRoleCapabilityMissing, user.UserUid, roles, projectId)
}

func AdminOnly(db *gorm.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			user, err := UserFromContext(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			if !user.IsAdmin() {
				http.Error(w, fmt.Sprintf("user %v is not an admin", user.UserUid), http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}

// ProjectRoleOnly guards routes under a {project} url parameter holding the
// project name.
func ProjectRoleOnly(db *gorm.DB, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			projectName, err := utils.URLParam(r, "project")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			user, err := UserFromContext(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			project, err := schema.GetProject(db, projectName, false)
			if err != nil {
				if errors.Is(err, schema.ErrNotFound) {
					http.Error(w, err.Error(), http.StatusNotFound)
					return
				}
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			err = RequireCapability(db, user, project.Id, roles...)
			if err != nil {
				if errors.Is(err, schema.ErrRoleCapabilityMissing) {
					http.Error(w, err.Error(), http.StatusForbidden)
					return
				}
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}
