package services

import (
	"encoding/json"
	"net/http"

	"label_pizza/utils"
	"label_pizza/workspace/auth"
	"label_pizza/workspace/merge"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

// StateService merges and compares declarative states without changing the
// store. Admin only.
type StateService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *StateService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)
	r.Use(auth.AdminOnly(s.db))

	r.Post("/merge/{collection}", s.Merge)
	r.Post("/compare/{collection}", s.Compare)
	r.Post("/compare-store/{collection}", s.CompareStore)

	return r
}

type twoStatesRequest struct {
	Left       json.RawMessage `json:"left"`
	Right      json.RawMessage `json:"right"`
	Precedence string          `json:"precedence,omitempty"`
}

type mergeResponse struct {
	Records interface{}  `json:"records"`
	Report  merge.Report `json:"report"`
}

func (s *StateService) Merge(w http.ResponseWriter, r *http.Request) {
	c, err := collectionParam(r)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	var params twoStatesRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	precedence, err := merge.ParseSide(params.Precedence)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	merged, report, err := merge.MergeData(c, params.Left, params.Right, precedence)
	if err != nil {
		writeError(w, "merge failed", err)
		return
	}

	utils.WriteJsonResponse(w, mergeResponse{Records: merged, Report: report})
}

func (s *StateService) Compare(w http.ResponseWriter, r *http.Request) {
	c, err := collectionParam(r)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	var params twoStatesRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	report, err := merge.CompareData(c, params.Left, params.Right)
	if err != nil {
		writeError(w, "compare failed", err)
		return
	}

	utils.WriteJsonResponse(w, report)
}

// CompareStore compares the store (left) with the posted collection (right).
func (s *StateService) CompareStore(w http.ResponseWriter, r *http.Request) {
	c, err := collectionParam(r)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	data, err := readBody(r)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	report, err := merge.CompareStoreData(s.db, c, data)
	if err != nil {
		writeError(w, "compare failed", err)
		return
	}

	utils.WriteJsonResponse(w, report)
}
