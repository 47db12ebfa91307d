package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"label_pizza/workspace/schema"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BasicIdentityProvider struct {
	jwtManager *JwtManager
	db         *gorm.DB
	auditLog   AuditLogger
}

type BasicProviderArgs struct {
	Secret   []byte
	TokenTTL time.Duration
	Admin    InitialAdmin
}

func NewBasicIdentityProvider(db *gorm.DB, auditLog AuditLogger, args BasicProviderArgs) (IdentityProvider, error) {
	if err := AddInitialAdmin(db, args.Admin); err != nil {
		return nil, err
	}

	ttl := args.TokenTTL
	if ttl == 0 {
		ttl = 15 * time.Minute
	}

	return &BasicIdentityProvider{
		jwtManager: NewJwtManager(args.Secret, ttl),
		db:         db,
		auditLog:   auditLog,
	}, nil
}

func (auth *BasicIdentityProvider) addUserToContext() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := func(w http.ResponseWriter, r *http.Request) {
			userId, err := ValueFromContext(r, userIdKey)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			userUUID, err := uuid.Parse(userId)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid user uuid '%v': %v'", userId, err), http.StatusUnauthorized)
				return
			}

			user, err := schema.GetUserById(auth.db, userUUID)
			if err != nil {
				if errors.Is(err, schema.ErrNotFound) {
					http.Error(w, err.Error(), http.StatusNotFound)
					return
				}
				http.Error(w, fmt.Sprintf("unable to find user %v: %v", userId, err), http.StatusInternalServerError)
				return
			}

			if !user.IsActive {
				http.Error(w, fmt.Sprintf("user %v is archived", user.UserUid), http.StatusUnauthorized)
				return
			}

			reqCtx := context.WithValue(r.Context(), UserRequestContextKey, user)
			next.ServeHTTP(w, r.WithContext(reqCtx))
		}

		return http.HandlerFunc(handler)
	}
}

func (auth *BasicIdentityProvider) AuthMiddleware() chi.Middlewares {
	return chi.Middlewares{auth.jwtManager.Verifier(), auth.jwtManager.Authenticator(), auth.addUserToContext(), auth.auditLog.Middleware}
}

func (auth *BasicIdentityProvider) Login(identifier, password string) (LoginResult, error) {
	var user schema.User
	result := auth.db.Limit(1).Find(&user, "user_uid = ? OR email = ?", identifier, identifier)
	if result.Error != nil {
		return LoginResult{}, schema.StoreError("looking up user for login", result.Error)
	}
	if result.RowsAffected == 0 || !user.IsActive {
		return LoginResult{}, ErrUserNotFound
	}

	if user.RoleKind == schema.ModelKind || !PasswordMatches(user.Password, password) {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := auth.jwtManager.CreateUserJwt(user.Id)
	if err != nil {
		return LoginResult{}, ErrGeneratingJwt
	}

	return LoginResult{UserId: user.Id, AccessToken: token}, nil
}
