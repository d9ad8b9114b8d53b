package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	conf "github.com/webitel/cdr-exporter/config"
	"github.com/webitel/cdr-exporter/internal/errors"
	"github.com/webitel/cdr-exporter/internal/store/postgres"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|status]",
		Short:     "Apply or inspect the database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}

			config, err := conf.LoadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			s := postgres.New(config.Database)
			if err := s.Open(); err != nil {
				return errors.New("failed to open store", errors.WithCause(err))
			}
			defer s.Close()

			ctx := cmd.Context()
			switch action {
			case "status":
				return s.MigrationStatus(ctx)
			default:
				if err := s.Migrate(ctx); err != nil {
					return err
				}
				slog.Info("cdr_exporter.migrate.applied")
				return nil
			}
		},
	}
}
