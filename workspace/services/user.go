package services

import (
	"errors"
	"fmt"
	"net/http"

	"label_pizza/utils"
	"label_pizza/workspace/auth"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
	limiter  func(http.Handler) http.Handler
}

func (s *UserService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.limiter)

		r.Get("/login", s.Login)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Get("/info", s.Info)
	})

	return r
}

type loginResponse struct {
	UserId      uuid.UUID `json:"user_id"`
	AccessToken string    `json:"access_token"`
}

// Login accepts http basic auth with either the user id or the email as the
// username.
func (s *UserService) Login(w http.ResponseWriter, r *http.Request) {
	identifier, password, ok := r.BasicAuth()
	if !ok {
		http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
		return
	}

	login, err := s.userAuth.Login(identifier, password)
	if err != nil {
		responseCode := http.StatusInternalServerError
		switch {
		case errors.Is(err, auth.ErrUserNotFound):
			responseCode = http.StatusNotFound
		case errors.Is(err, auth.ErrInvalidCredentials):
			responseCode = http.StatusUnauthorized
		}
		http.Error(w, fmt.Sprintf("login failed: %v", err), responseCode)
		return
	}

	utils.WriteJsonResponse(w, loginResponse{UserId: login.UserId, AccessToken: login.AccessToken})
}

type userInfoResponse struct {
	Id       uuid.UUID `json:"id"`
	UserId   string    `json:"user_id"`
	Email    string    `json:"email,omitempty"`
	UserType string    `json:"user_type"`
	IsActive bool      `json:"is_active"`
}

func (s *UserService) Info(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	info := userInfoResponse{Id: user.Id, UserId: user.UserUid, UserType: user.RoleKind, IsActive: user.IsActive}
	if user.Email != nil {
		info.Email = *user.Email
	}

	utils.WriteJsonResponse(w, info)
}
