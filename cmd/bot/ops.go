package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/tg-ai-assistant/internal/config"
	"github.com/tbourn/tg-ai-assistant/internal/repo"
	"github.com/tbourn/tg-ai-assistant/internal/services"
	"github.com/tbourn/tg-ai-assistant/internal/sysutil"
)

// openStorage loads the storage settings, opens the database and migrates it.
func openStorage() (config.Config, *gorm.DB, error) {
	cfg, err := config.LoadStorage()
	if err != nil {
		return cfg, nil, err
	}
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, nil)
	db, err := openDB(cfg)
	return cfg, db, err
}

func openDB(cfg config.Config) (*gorm.DB, error) {
	dsn := cfg.DBPath
	if cfg.DBDriver == "postgres" {
		dsn = cfg.DatabaseURL
	}
	db, err := repo.Open(cfg.DBDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DBDriver, err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, db, err := openStorage()
			if err != nil {
				return err
			}
			defer closeDB(db)
			log.Info().Str("driver", cfg.DBDriver).Msg("database migrated")
			return nil
		},
	}
}

func newUsersCmd() *cobra.Command {
	users := &cobra.Command{Use: "users", Short: "User maintenance"}

	var out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write every user as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, db, err := openStorage()
			if err != nil {
				return err
			}
			defer closeDB(db)

			admin := &services.AdminService{DB: db}
			data, err := admin.ExportUsers(cmd.Context())
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return err
			}
			log.Info().Str("file", out).Int("bytes", len(data)).Msg("users exported")
			return nil
		},
	}
	export.Flags().StringVarP(&out, "out", "o", "", `output file ("-" or empty for stdout)`)

	users.AddCommand(export)
	return users
}

func newAdminsCmd() *cobra.Command {
	admins := &cobra.Command{Use: "admins", Short: "Admin maintenance"}

	var super bool
	add := &cobra.Command{
		Use:   "add <telegram-user-id>",
		Short: "Grant admin rights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			_, db, err := openStorage()
			if err != nil {
				return err
			}
			defer closeDB(db)

			if err := repo.AddAdmin(cmd.Context(), db, id, super); err != nil {
				return err
			}
			log.Info().Int64("user_id", id).Bool("super", super).Msg("admin added")
			return nil
		},
	}
	add.Flags().BoolVar(&super, "super", false, "grant superadmin rights")

	admins.AddCommand(add)
	return admins
}
