package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"label_pizza/cmd/migration/versions"
	"label_pizza/workspace/auth"
	"label_pizza/workspace/config"
	"label_pizza/workspace/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
)

func (a *app) serveCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the workspace http api",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Require(config.ServerKeys...); err != nil {
				return err
			}
			if listen != "" {
				a.cfg.ListenAddr = listen
			}

			db, err := a.openStore()
			if err != nil {
				return err
			}
			if err := versions.Migrate(db); err != nil {
				return err
			}

			var auditLog io.Writer = cmd.ErrOrStderr()
			if a.cfg.AuditLogFile != "" {
				auditFile, err := os.OpenFile(a.cfg.AuditLogFile, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
				if err != nil {
					return fmt.Errorf("error opening audit log file: %w", err)
				}
				defer auditFile.Close()
				auditLog = auditFile
			}

			identityProvider, err := auth.NewBasicIdentityProvider(
				db,
				auth.NewAuditLogger(auditLog),
				auth.BasicProviderArgs{
					Secret:   []byte(a.cfg.JwtSecret),
					TokenTTL: a.cfg.TokenTTL,
					Admin: auth.InitialAdmin{
						UserId:   a.cfg.AdminUserId,
						Email:    a.cfg.AdminEmail,
						Password: a.cfg.AdminPassword,
					},
				},
			)
			if err != nil {
				return fmt.Errorf("error creating basic identity provider: %w", err)
			}

			workspace := services.NewWorkspace(db, identityProvider, services.Options{
				RateLimitPerMin: a.cfg.RateLimitPerMin,
			})

			r := chi.NewRouter()

			r.Use(cors.Handler(cors.Options{
				AllowedOrigins:   a.cfg.CorsOrigins,
				AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders:   []string{"*"},
				ExposedHeaders:   []string{"*"},
				AllowCredentials: true,
				MaxAge:           300,
			}))
			r.Mount("/api/v1", workspace.Routes())

			slog.Info("starting server", "addr", a.cfg.ListenAddr)
			err = http.ListenAndServe(a.cfg.ListenAddr, r)
			if err != nil {
				return fmt.Errorf("listen and serve returned error: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Address to listen on, overrides LISTEN_ADDR.")

	return cmd
}
