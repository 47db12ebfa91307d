package services

import (
	"net/http"

	"label_pizza/utils"
	"label_pizza/workspace/auth"
	"label_pizza/workspace/consensus"
	"label_pizza/workspace/schema"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

// ProjectService is the annotation workflow of a single project, addressed by
// project name.
type ProjectService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
	limiter  func(http.Handler) http.Handler
	opts     Options
}

func (s *ProjectService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/{project}", func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Group(func(r chi.Router) {
			r.Use(auth.ProjectRoleOnly(s.db, schema.AnnotatorRole, schema.ReviewerRole, schema.ModelRole))

			r.Get("/progress", s.Progress)
			r.Get("/ground-truth", s.GetGroundTruth)
			r.Get("/display", s.GetDisplay)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.ProjectRoleOnly(s.db, schema.AnnotatorRole, schema.ModelRole))
			r.Use(s.limiter)

			r.Post("/answers", s.SubmitAnswer)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.ProjectRoleOnly(s.db, schema.ReviewerRole))

			r.Get("/answers", s.ListAnswers)
			r.Get("/suggestion", s.Suggest)
			r.Get("/accuracy", s.Accuracy)
			r.With(s.limiter).Post("/ground-truth", s.SetGroundTruth)
			r.With(s.limiter).Post("/reviews", s.ReviewAnswer)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.ProjectRoleOnly(s.db, schema.AdminRole))
			r.Use(s.limiter)

			r.Post("/ground-truth/override", s.OverrideGroundTruth)
			r.Put("/display", s.SetDisplay)
			r.Delete("/display", s.ClearDisplay)
		})
	})

	return r
}

func (s *ProjectService) project(r *http.Request) (schema.Project, error) {
	name, err := utils.URLParam(r, "project")
	if err != nil {
		return schema.Project{}, CodedError(err, http.StatusBadRequest)
	}
	return schema.GetProject(s.db, name, false)
}

func (s *ProjectService) Progress(w http.ResponseWriter, r *http.Request) {
	project, err := s.project(r)
	if err != nil {
		writeError(w, "loading project failed", err)
		return
	}

	progress, err := consensus.ProjectProgress(s.db, project.Id)
	if err != nil {
		writeError(w, "computing progress failed", err)
		return
	}

	utils.WriteJsonResponse(w, progress)
}

func (s *ProjectService) Accuracy(w http.ResponseWriter, r *http.Request) {
	project, err := s.project(r)
	if err != nil {
		writeError(w, "loading project failed", err)
		return
	}

	accuracy, err := consensus.ProjectAccuracy(s.db, project.Id)
	if err != nil {
		writeError(w, "computing accuracy failed", err)
		return
	}

	utils.WriteJsonResponse(w, accuracy)
}

type answerRequest struct {
	targetRequest
	consensus.Input
}

type stateResponse struct {
	State consensus.State `json:"state"`
}

func (s *ProjectService) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var params answerRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var state consensus.State
	err = s.db.Transaction(func(txn *gorm.DB) error {
		target, err := params.load(txn, r)
		if err != nil {
			return err
		}
		if _, err := consensus.SubmitAnswer(txn, user, target, params.Input, s.opts.now()); err != nil {
			return err
		}
		state, err = consensus.StateOf(txn, target)
		return err
	})
	if err != nil {
		writeError(w, "submitting answer failed", err)
		return
	}

	utils.WriteJsonResponse(w, stateResponse{State: state})
}

func (s *ProjectService) ListAnswers(w http.ResponseWriter, r *http.Request) {
	var answers []consensus.AnswerView
	err := s.db.Transaction(func(txn *gorm.DB) error {
		target, err := targetFromQuery(r).load(txn, r)
		if err != nil {
			return err
		}
		answers, err = consensus.ListAnswers(txn, target)
		return err
	})
	if err != nil {
		writeError(w, "listing answers failed", err)
		return
	}

	utils.WriteJsonResponse(w, answers)
}

func (s *ProjectService) GetGroundTruth(w http.ResponseWriter, r *http.Request) {
	var view consensus.GroundTruthView
	err := s.db.Transaction(func(txn *gorm.DB) error {
		target, err := targetFromQuery(r).load(txn, r)
		if err != nil {
			return err
		}
		view, err = consensus.GetGroundTruth(txn, target)
		return err
	})
	if err != nil {
		writeError(w, "loading ground truth failed", err)
		return
	}

	utils.WriteJsonResponse(w, view)
}

// SetGroundTruth submits the first ground truth or updates the existing one.
func (s *ProjectService) SetGroundTruth(w http.ResponseWriter, r *http.Request) {
	var params answerRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var view consensus.GroundTruthView
	err = s.db.Transaction(func(txn *gorm.DB) error {
		target, err := params.load(txn, r)
		if err != nil {
			return err
		}
		if _, err := consensus.SetGroundTruth(txn, user, target, params.Input, s.opts.now()); err != nil {
			return err
		}
		view, err = consensus.GetGroundTruth(txn, target)
		return err
	})
	if err != nil {
		writeError(w, "setting ground truth failed", err)
		return
	}

	utils.WriteJsonResponse(w, view)
}

type overrideRequest struct {
	targetRequest
	Value string `json:"value"`
}

func (s *ProjectService) OverrideGroundTruth(w http.ResponseWriter, r *http.Request) {
	var params overrideRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var view consensus.GroundTruthView
	err = s.db.Transaction(func(txn *gorm.DB) error {
		target, err := params.load(txn, r)
		if err != nil {
			return err
		}
		if _, err := consensus.OverrideGroundTruth(txn, user, target, params.Value, s.opts.now()); err != nil {
			return err
		}
		view, err = consensus.GetGroundTruth(txn, target)
		return err
	})
	if err != nil {
		writeError(w, "overriding ground truth failed", err)
		return
	}

	utils.WriteJsonResponse(w, view)
}

// Suggest scores the answers of the annotators listed in ?users= against
// ?threshold=.
func (s *ProjectService) Suggest(w http.ResponseWriter, r *http.Request) {
	threshold, err := utils.QueryFloat(r, "threshold", 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	users := utils.QueryList(r, "users")
	if len(users) == 0 {
		http.Error(w, "at least one annotator must be selected with ?users=", http.StatusBadRequest)
		return
	}

	var suggestion consensus.Suggestion
	err = s.db.Transaction(func(txn *gorm.DB) error {
		target, err := targetFromQuery(r).load(txn, r)
		if err != nil {
			return err
		}
		suggestion, err = consensus.Suggest(txn, target, users, threshold)
		return err
	})
	if err != nil {
		writeError(w, "computing suggestion failed", err)
		return
	}

	utils.WriteJsonResponse(w, suggestion)
}

type reviewRequest struct {
	targetRequest
	Annotator string `json:"annotator"`
	Status    string `json:"status"`
	Comment   string `json:"comment,omitempty"`
}

func (s *ProjectService) ReviewAnswer(w http.ResponseWriter, r *http.Request) {
	var params reviewRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		target, err := params.load(txn, r)
		if err != nil {
			return err
		}
		_, err = consensus.ReviewAnswer(txn, user, target, params.Annotator, params.Status, params.Comment, s.opts.now())
		return err
	})
	if err != nil {
		writeError(w, "reviewing answer failed", err)
		return
	}

	utils.WriteSuccess(w)
}

func (s *ProjectService) GetDisplay(w http.ResponseWriter, r *http.Request) {
	var display consensus.Display
	err := s.db.Transaction(func(txn *gorm.DB) error {
		target, err := targetFromQuery(r).load(txn, r)
		if err != nil {
			return err
		}
		display, err = consensus.EffectiveDisplay(txn, target)
		return err
	})
	if err != nil {
		writeError(w, "loading display failed", err)
		return
	}

	utils.WriteJsonResponse(w, display)
}

type displayRequest struct {
	targetRequest
	consensus.Display
}

func (s *ProjectService) SetDisplay(w http.ResponseWriter, r *http.Request) {
	var params displayRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		target, err := params.load(txn, r)
		if err != nil {
			return err
		}
		_, err = consensus.SetCustomDisplay(txn, target, params.Display)
		return err
	})
	if err != nil {
		writeError(w, "setting custom display failed", err)
		return
	}

	utils.WriteSuccess(w)
}

func (s *ProjectService) ClearDisplay(w http.ResponseWriter, r *http.Request) {
	err := s.db.Transaction(func(txn *gorm.DB) error {
		target, err := targetFromQuery(r).load(txn, r)
		if err != nil {
			return err
		}
		return consensus.ClearCustomDisplay(txn, target)
	})
	if err != nil {
		writeError(w, "clearing custom display failed", err)
		return
	}

	utils.WriteSuccess(w)
}
