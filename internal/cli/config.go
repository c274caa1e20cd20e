package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/legion/legion/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage LEGION configuration",
	Long: `View and initialize LEGION configuration.

Commands:
  show      - Display the effective configuration
  path      - Show configuration file paths
  init      - Write the default configuration
  validate  - Check the effective configuration`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := yaml.Marshal(systemConfig)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "# LEGION Configuration")
		fmt.Fprintln(out, "# Location:", configLocation())
		fmt.Fprintln(out)
		fmt.Fprint(out, string(data))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for _, p := range []struct{ label, path string }{
			{"Global", config.GlobalConfigPath()},
			{"Project", config.ProjectConfigPath()},
		} {
			state := "not found"
			if _, err := os.Stat(p.path); err == nil {
				state = "exists"
			}
			fmt.Fprintf(out, "%-8s %s (%s)\n", p.label+":", p.path, state)
		}
		return nil
	},
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GlobalConfigPath()
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		cfg := config.DefaultSystemConfig()
		if err := config.Save(&cfg, path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := systemConfig.Validate(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
}

func configLocation() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.GlobalConfigPath()
}
