package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	conf "github.com/webitel/cdr-exporter/config"
	"github.com/webitel/cdr-exporter/internal/domain/model"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           model.AppServiceName,
		Short:         "Bulk CSV export of call detail records",
		Version:       model.CurrentVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	conf.RegisterFlags(root.PersistentFlags())
	root.AddCommand(newServeCommand(), newMigrateCommand())
	return root
}

// Execute runs the command selected by os.Args.
func Execute() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		slog.Error("cdr_exporter.main.command_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
