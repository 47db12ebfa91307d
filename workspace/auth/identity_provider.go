package auth

import (
	"errors"
	"fmt"
	"log/slog"

	"label_pizza/workspace/schema"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound       = errors.New("no user found for given id or email")
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrGeneratingJwt      = errors.New("error generating jwt")
)

type LoginResult struct {
	UserId      uuid.UUID
	AccessToken string
}

type IdentityProvider interface {
	AuthMiddleware() chi.Middlewares

	// Login accepts either the user id or the email as identifier.
	Login(identifier, password string) (LoginResult, error)
}

const bcryptCost = 10

func HashPassword(password string) ([]byte, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("error encrypting password: %w", err)
	}
	return hashed, nil
}

func PasswordMatches(hashed []byte, password string) bool {
	return len(hashed) > 0 && bcrypt.CompareHashAndPassword(hashed, []byte(password)) == nil
}

type InitialAdmin struct {
	UserId   string
	Email    string
	Password string
}

// AddInitialAdmin creates the bootstrap admin unless a user with the same id
// or email already exists.
func AddInitialAdmin(db *gorm.DB, admin InitialAdmin) error {
	hashedPwd, err := HashPassword(admin.Password)
	if err != nil {
		return err
	}

	email := admin.Email
	user := schema.User{
		Id:       uuid.New(),
		UserUid:  admin.UserId,
		Email:    &email,
		Password: hashedPwd,
		RoleKind: schema.AdminKind,
		IsActive: true,
	}

	err = db.Transaction(func(txn *gorm.DB) error {
		var existingUser schema.User
		result := txn.Limit(1).Find(&existingUser, "user_uid = ? or email = ?", admin.UserId, admin.Email)
		if result.Error != nil {
			return schema.StoreError("checking if admin has already been added", result.Error)
		}
		if result.RowsAffected == 0 {
			result := txn.Create(&user)
			if result.Error != nil {
				return schema.StoreError("creating initial admin user", result.Error)
			}
			slog.Info("created initial admin", "user_id", admin.UserId)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error adding initial admin to db: %w", err)
	}

	return nil
}

type requestContextKey string

const UserRequestContextKey requestContextKey = "user"
