package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/docdex/docdex/configs"
	"github.com/docdex/docdex/internal/config"
	"github.com/docdex/docdex/internal/errors"
	"github.com/docdex/docdex/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage docdex configuration",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force bool
		user  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented configuration template",
		Long: `Write .docdex.yaml to the current directory, or the machine-level
config to ~/.config/docdex/config.yaml with --user.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())

			path := config.ProjectConfigName
			template := configs.ProjectConfigTemplate
			if user {
				path = config.GetUserConfigPath()
				template = configs.UserConfigTemplate
			}

			if _, err := os.Stat(path); err == nil && !force {
				return errors.ValidationError(
					fmt.Sprintf("%s already exists", path), nil).
					WithSuggestion("Use --force to overwrite it")
			}
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return errors.IOError("failed to create config directory", err)
				}
			}
			if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
				return errors.IOError(fmt.Sprintf("failed to write %s", path), err)
			}

			out.Successf("Wrote %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	cmd.Flags().BoolVar(&user, "user", false, "Write the machine-level config instead of the project config")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long:  `Print the merged configuration after applying defaults, the user config, the project config, and DOCDEX_* environment variables.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer func() { _ = enc.Close() }()
			return enc.Encode(cfg)
		},
	}
}
