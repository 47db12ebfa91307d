package services

import (
	"log/slog"
	"net/http"

	"label_pizza/utils"
	"label_pizza/utils/logging"
	"label_pizza/workspace/auth"
	"label_pizza/workspace/cascade"
	"label_pizza/workspace/syncer"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

// SyncService applies and exports declarative collections. Admin only.
type SyncService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
	limiter  func(http.Handler) http.Handler
	opts     Options
}

func (s *SyncService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)
	r.Use(auth.AdminOnly(s.db))

	r.With(s.limiter).Post("/{collection}", s.Sync)
	r.Get("/{collection}", s.Export)

	return r
}

// Sync reconciles the store with the posted collection. Archivals that imply
// a cascade are declined unless confirm_archive=true; the plans are returned
// either way. With dry_run=true nothing is written.
func (s *SyncService) Sync(w http.ResponseWriter, r *http.Request) {
	c, err := collectionParam(r)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	dryRun, err := utils.QueryBool(r, "dry_run")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	confirmArchive, err := utils.QueryBool(r, "confirm_archive")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := readBody(r)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	opts := syncer.Options{DryRun: dryRun, Now: s.opts.Now}
	if confirmArchive {
		opts.Confirm = cascade.AutoConfirm
	}

	user, _ := auth.UserFromContext(r)
	slog.Info("sync requested", "collection", c, "user", user.UserUid, "dry_run", dryRun, "code", logging.SYNC)

	result, err := syncer.New(s.db, opts).SyncData(c, data, isYamlBody(r))
	if err != nil {
		writeError(w, "sync failed", err)
		return
	}

	utils.WriteJsonResponse(w, result)
}

func (s *SyncService) Export(w http.ResponseWriter, r *http.Request) {
	c, err := collectionParam(r)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	recs, err := syncer.Export(s.db, c)
	if err != nil {
		writeError(w, "export failed", err)
		return
	}

	utils.WriteJsonResponse(w, recs)
}
