// Package services exposes the workspace over http.
package services

import (
	"log"
	"net/http"
	"os"
	"time"

	"label_pizza/utils"
	"label_pizza/workspace/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

type Options struct {
	// Requests per minute and client ip on login and write routes. Zero
	// disables rate limiting.
	RateLimitPerMin int
	Now             func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

func (o Options) limiter() func(http.Handler) http.Handler {
	if o.RateLimitPerMin <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.LimitByIP(o.RateLimitPerMin, time.Minute)
}

type Workspace struct {
	user    UserService
	sync    SyncService
	cascade CascadeService
	state   StateService
	project ProjectService
}

func NewWorkspace(db *gorm.DB, userAuth auth.IdentityProvider, opts Options) Workspace {
	limiter := opts.limiter()

	return Workspace{
		user:    UserService{db: db, userAuth: userAuth, limiter: limiter},
		sync:    SyncService{db: db, userAuth: userAuth, limiter: limiter, opts: opts},
		cascade: CascadeService{db: db, userAuth: userAuth, limiter: limiter},
		state:   StateService{db: db, userAuth: userAuth},
		project: ProjectService{db: db, userAuth: userAuth, limiter: limiter, opts: opts},
	}
}

func (ws *Workspace) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger: log.New(os.Stderr, "", log.LstdFlags), NoColor: false,
	}))

	r.Mount("/user", ws.user.Routes())
	r.Mount("/sync", ws.sync.Routes())
	r.Mount("/cascade", ws.cascade.Routes())
	r.Mount("/state", ws.state.Routes())
	r.Mount("/project", ws.project.Routes())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteSuccess(w)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
