package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/legion/legion/internal/app"
	"github.com/legion/legion/pkg/config"
	"github.com/legion/legion/pkg/logging"
)

var (
	// Version information (set by build)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// Global flags
	cfgFile    string
	verbose    bool
	jsonOutput bool

	// Global config
	systemConfig *config.SystemConfig
)

// openSystem builds the legion system a command runs against. The returned
// release func closes it. Tests replace it to share one system.
var openSystem = func(ctx context.Context, cfg config.SystemConfig) (*app.System, func(), error) {
	logger := logging.NewNopLogger()
	if verbose {
		lc := cfg.LoggerConfig()
		lc.Level = logging.DebugLevel
		logger = logging.NewZapLogger(lc)
	}
	sys, err := app.New(ctx, cfg, app.WithLogger(logger), app.WithSource("legion-cli"))
	if err != nil {
		return nil, nil, err
	}
	return sys, func() { _ = sys.Close(context.WithoutCancel(ctx)) }, nil
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "legion",
	Short: "LEGION - agent registry and ECRR pipeline",
	Long: `LEGION keeps a registry of hierarchical agents, tracks their missions,
spawns agents and swarms from presets, and turns any target into deployed
agents through the Emulate, Condense, Repurpose, Redeploy pipeline.

Run the pipeline:
  legion pipeline run "Acme Shop" --type business --depth deep

Manage agents:
  legion agents list --status online
  legion spawn quick oracle --context "market analysis"
  legion deploy unit

Watch the legion:
  legion top`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		systemConfig = cfg
		return nil
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.legion/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(missionsCmd)
	rootCmd.AddCommand(spawnCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(swarmsCmd)
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(topCmd)
}

// versionCmd shows version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "LEGION %s\n", Version)
		fmt.Fprintf(out, "Build: %s\n", BuildTime)
		fmt.Fprintf(out, "Commit: %s\n", GitCommit)
	},
}

// withSystem opens the system for the duration of fn
func withSystem(cmd *cobra.Command, fn func(ctx context.Context, sys *app.System) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	sys, release, err := openSystem(ctx, *systemConfig)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, sys)
}

// render prints v as JSON with --json, otherwise calls table
func render(cmd *cobra.Command, v interface{}, table func(w io.Writer)) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	table(w)
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
