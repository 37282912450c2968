package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/mmdatafocus/eventchain/compliance"
	"github.com/mmdatafocus/eventchain/config"
	"github.com/mmdatafocus/eventchain/models"
	"github.com/mmdatafocus/eventchain/utils"
	"github.com/mmdatafocus/eventchain/workflow"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var validFormats = []string{"text", "json"}

type rootOptions struct {
	// SQLitePath overrides DB_DRIVER and connects to a local SQLite store.
	SQLitePath string
	Profile    string
	Format     string
	RulesFile  string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "chainctl",
		Short: "Maintenance commands for the event chain store",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.SQLitePath, "sqlite", "", "SQLite file to use instead of the configured database")
	cmd.PersistentFlags().StringVar(&opts.Profile, "business-profile-id", "", "limit the command to one business profile")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.RulesFile, "rules", "", "compliance rule file (defaults to COMPLIANCE_RULES_FILE)")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newRebuildComplianceCommand(opts))
	cmd.AddCommand(newVerifyInvariantsCommand(opts))
	return cmd
}

func openDB(opts *rootOptions) (*gorm.DB, error) {
	if strings.TrimSpace(opts.SQLitePath) != "" {
		db, err := config.OpenSQLite(opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		config.SetDB(db)
		return db, nil
	}
	if err := config.ConnectDatabase(); err != nil {
		return nil, err
	}
	db := config.GetDB()
	if db == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return db, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func newEngine(db *gorm.DB, opts *rootOptions, logger *logrus.Logger) (*workflow.Engine, error) {
	path := opts.RulesFile
	if path == "" {
		path = os.Getenv("COMPLIANCE_RULES_FILE")
	}
	deriver, err := compliance.LoadDeriver(path)
	if err != nil {
		return nil, err
	}
	return workflow.NewEngine(db, logger, deriver), nil
}

// profiles returns the selected profile, or every profile in the store.
func profiles(ctx context.Context, e *workflow.Engine, opts *rootOptions) ([]string, error) {
	if p := strings.TrimSpace(opts.Profile); p != "" {
		return []string{p}, nil
	}
	return e.BusinessProfileIds(ctx)
}

func profileContext(ctx context.Context, profileId string) context.Context {
	ctx = utils.SetBusinessProfileIdInContext(ctx, profileId)
	return utils.SetUserIdInContext(ctx, "chainctl")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the chain tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(opts)
			if err != nil {
				return err
			}
			defer closeDB(db)
			if err := models.MigrateTable(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrated")
			return nil
		},
	}
}
