package schema

import (
	"fmt"
	"net/url"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func postgresDsn(uri string) (string, error) {
	parts, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("error parsing db uri: %w", err)
	}
	pwd, _ := parts.User.Password()
	dbname := strings.TrimPrefix(parts.Path, "/")
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v", parts.Hostname(), parts.User.Username(), pwd, dbname, parts.Port()), nil
}

// OpenDb opens a workspace store from a uri of the form postgres://... or sqlite:<path>.
func OpenDb(uri string, quiet bool) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch {
	case strings.HasPrefix(uri, "postgres://") || strings.HasPrefix(uri, "postgresql://"):
		dsn, err := postgresDsn(uri)
		if err != nil {
			return nil, err
		}
		dialector = postgres.Open(dsn)
	case strings.HasPrefix(uri, "sqlite:"):
		dialector = sqlite.Open(strings.TrimPrefix(uri, "sqlite:"))
	default:
		return nil, fmt.Errorf("unsupported database uri '%v', expected postgres:// or sqlite:", uri)
	}

	config := &gorm.Config{TranslateError: true}
	if quiet {
		config.Logger = logger.Default.LogMode(logger.Silent)
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("error opening database connection: %w", err)
	}
	return db, nil
}
