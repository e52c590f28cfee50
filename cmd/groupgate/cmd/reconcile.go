package cmd

import (
	"context"
	"fmt"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/groupgate/groupgate/internal/config"
	"github.com/groupgate/groupgate/internal/domain/provision"
	"github.com/groupgate/groupgate/internal/service"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile all environments once and exit",
	Long: `Reconcile every environment against its policy document once.

For each provisioned group the command reports whether it is compliant,
orphaned (no matching policy), or broken (repair failed). The exit code is
non-zero when any group is broken or an environment could not be reconciled.`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	svc, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}

	reconciler := service.NewReconciler(svc.repository, svc.provisioner, logger, svc.metrics)
	reports, runErr := reconciler.ReconcileAll(ctx)

	var broken int
	for _, report := range reports {
		for _, record := range report.Records {
			line := fmt.Sprintf("%-10s %s (%s)", record.State, record.GroupID, record.CloudEmail)
			if record.State == provision.Broken {
				line += fmt.Sprintf(": %v", record.Err)
				broken++
			}
			cmd.Println(line)
		}
		for _, inc := range report.Incompatibilities {
			cmd.Printf("warning    %s: %s\n", inc.Resource, inc.Detail)
		}
	}

	if runErr != nil {
		return fmt.Errorf("reconciliation incomplete: %w", runErr)
	}
	if broken > 0 {
		return fmt.Errorf("%d groups broken", broken)
	}
	return nil
}
