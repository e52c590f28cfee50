package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/groupgate/groupgate/internal/adapter/outbound/policyfile"
	"github.com/groupgate/groupgate/internal/config"
	"github.com/groupgate/groupgate/internal/domain/policy"
)

var validateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Validate policy documents",
	Long: `Parse and validate every policy document in a directory.

With no argument the configured policy.dir is used. Each document must
declare an environment whose name matches its file name.

Examples:
  groupgate validate
  groupgate validate ./policies`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	var dir string
	if len(args) > 0 {
		dir = args[0]
	} else {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		dir = cfg.Policy.Dir
	}

	store, err := policyfile.NewStore(dir)
	if err != nil {
		return err
	}

	ctx := context.Background()
	summaries, err := store.ListEnvironments(ctx)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		return fmt.Errorf("no policy documents found in %s", dir)
	}

	var invalid int
	for _, summary := range summaries {
		doc, err := store.LoadEnvironment(ctx, summary.Name)
		if err != nil {
			cmd.Printf("FAIL  %s: %v\n", summary.Name, err)
			invalid++
			continue
		}
		env, err := policy.ParseDocument(doc.Data, policy.Metadata{
			Source:       doc.Source,
			LastModified: doc.LastModified,
		})
		if err != nil {
			cmd.Printf("FAIL  %s: %v\n", summary.Name, err)
			invalid++
			continue
		}
		if env.Name() != summary.Name {
			cmd.Printf("FAIL  %s: document declares environment %q\n", summary.Name, env.Name())
			invalid++
			continue
		}

		groups := 0
		for _, s := range env.Systems() {
			groups += len(s.Groups())
		}
		cmd.Printf("OK    %s: %d systems, %d groups\n", summary.Name, len(env.Systems()), groups)
	}

	if invalid > 0 {
		return fmt.Errorf("%d of %d documents invalid", invalid, len(summaries))
	}
	return nil
}
