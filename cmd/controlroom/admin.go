package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/goatkit/controlroom/internal/config"
	"github.com/goatkit/controlroom/internal/database"
	"github.com/goatkit/controlroom/internal/models"
	"github.com/goatkit/controlroom/internal/repository"
	"github.com/goatkit/controlroom/internal/service"
)

func openDB(ctx context.Context) (*config.Config, *sqlx.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			_, db, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := database.Migrate(ctx, db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func newCreateAgentCmd() *cobra.Command {
	var (
		password string
		admin    bool
	)
	cmd := &cobra.Command{
		Use:   "create-agent <username>",
		Short: "Create a staff account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			_, db, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			role := models.RoleStaff
			if admin {
				role = models.RoleAdmin
			}
			// Tokens are never issued here, so no authority is needed.
			svc := service.NewAuthService(repository.NewStaffRepository(db), nil)
			user, err := svc.CreateUser(ctx, args[0], password, role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", user.Role, user.Username, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (min 8 characters)")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant the elevated admin role")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newCaseIDCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "case-id",
		Short: "Print unused case ids",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			_, db, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			gen := service.NewCaseIDGenerator(repository.NewSessionRepository(db))
			for i := 0; i < count; i++ {
				id, err := gen.Generate(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "how many ids to print")
	return cmd
}
