package services

import (
	"errors"
	"log/slog"
	"net/http"

	"label_pizza/utils"
	"label_pizza/utils/logging"
	"label_pizza/workspace/auth"
	"label_pizza/workspace/cascade"
	"label_pizza/workspace/identity"
	"label_pizza/workspace/keys"
	"label_pizza/workspace/schema"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CascadeService is the two step removal flow: a plan is computed and shown,
// then executed by echoing its token back. Also hosts the forced overrides
// (rename and schema change). Admin only.
type CascadeService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
	limiter  func(http.Handler) http.Handler
}

func (s *CascadeService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)
	r.Use(auth.AdminOnly(s.db))

	r.Post("/plan", s.PlanRemoval)
	r.Post("/schema-change/plan", s.PlanSchemaChange)

	r.Group(func(r chi.Router) {
		r.Use(s.limiter)

		r.Post("/execute", s.ExecuteRemoval)
		r.Post("/schema-change/execute", s.ExecuteSchemaChange)
		r.Post("/rename", s.Rename)
	})

	return r
}

type removalRequest struct {
	Entity string   `json:"entity"`
	Key    []string `json:"key"`
	Token  string   `json:"token,omitempty"`
}

func (req removalRequest) parse() (schema.EntityType, keys.Key, error) {
	entity, err := schema.ParseEntityType(req.Entity)
	if err != nil {
		return "", nil, CodedError(err, http.StatusUnprocessableEntity)
	}
	arity, err := identity.Arity(entity)
	if err != nil {
		return "", nil, CodedError(err, http.StatusUnprocessableEntity)
	}
	if len(req.Key) != arity {
		return "", nil, CodedError(errors.New("key does not match the entity's natural key"), http.StatusUnprocessableEntity)
	}
	return entity, keys.New(req.Key...), nil
}

func (s *CascadeService) PlanRemoval(w http.ResponseWriter, r *http.Request) {
	var params removalRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	entity, key, err := params.parse()
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	plan, err := cascade.PlanRemoval(s.db, entity, key)
	if err != nil {
		writeError(w, "planning removal failed", err)
		return
	}

	utils.WriteJsonResponse(w, plan)
}

// ExecuteRemoval re-plans inside the transaction and applies the plan only if
// it still matches the token the caller confirmed.
func (s *CascadeService) ExecuteRemoval(w http.ResponseWriter, r *http.Request) {
	var params removalRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	entity, key, err := params.parse()
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}
	if params.Token == "" {
		err := CodedError(schema.ErrCascadeNotConfirmed, http.StatusPreconditionFailed)
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		return cascade.Execute(txn, cascade.Plan{Entity: entity, Key: key, Token: params.Token})
	})
	if err != nil {
		writeError(w, "executing removal failed", err)
		return
	}

	utils.WriteSuccess(w)
}

type schemaChangeRequest struct {
	Project string `json:"project"`
	Schema  string `json:"schema"`
	Token   string `json:"token,omitempty"`
}

func (s *CascadeService) PlanSchemaChange(w http.ResponseWriter, r *http.Request) {
	var params schemaChangeRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	plan, err := cascade.PlanSchemaChange(s.db, params.Project, params.Schema)
	if err != nil {
		writeError(w, "planning schema change failed", err)
		return
	}

	utils.WriteJsonResponse(w, plan)
}

func (s *CascadeService) ExecuteSchemaChange(w http.ResponseWriter, r *http.Request) {
	var params schemaChangeRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if params.Token == "" {
		err := CodedError(schema.ErrCascadeNotConfirmed, http.StatusPreconditionFailed)
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	confirmed := cascade.Plan{
		Entity:            schema.ProjectEntity,
		Key:               keys.New(params.Project),
		ReplacementSchema: params.Schema,
		Token:             params.Token,
	}
	err := s.db.Transaction(func(txn *gorm.DB) error {
		return cascade.ExecuteSchemaChange(txn, confirmed)
	})
	if err != nil {
		writeError(w, "executing schema change failed", err)
		return
	}

	utils.WriteSuccess(w)
}

type renameRequest struct {
	Entity string `json:"entity"`
	OldKey string `json:"old_key"`
	NewKey string `json:"new_key"`
}

type renameResponse struct {
	Id uuid.UUID `json:"id"`
}

func (s *CascadeService) Rename(w http.ResponseWriter, r *http.Request) {
	var params renameRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	entity, err := schema.ParseEntityType(params.Entity)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	var id uuid.UUID
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		id, err = identity.Rename(txn, entity, params.OldKey, params.NewKey)
		return err
	})
	if err != nil {
		writeError(w, "rename failed", err)
		return
	}

	user, _ := auth.UserFromContext(r)
	slog.Info("renamed entity", "entity", entity, "old_key", params.OldKey, "new_key", params.NewKey, "user", user.UserUid, "code", logging.RENAME)

	utils.WriteJsonResponse(w, renameResponse{Id: id})
}
