package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/legion/legion/internal/app"
	"github.com/legion/legion/pkg/ecrr"
	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/registry"
)

var pipelineCmd = &cobra.Command{
	Use:     "pipeline",
	Short:   "Run the Emulate, Condense, Repurpose, Redeploy pipeline",
	Aliases: []string{"ecrr"},
	Long: `Turn a target into deployed agents.

Target types: business, app, system, api, service
Depths: surface, standard, deep, comprehensive

Examples:
  legion pipeline run "Acme Shop" --type business --depth deep
  legion pipeline list
  legion pipeline spawn <run-id>`,
}

var (
	pipelineType        string
	pipelineDepth       string
	pipelineMaxAgents   int
	pipelineConcurrency int
	pipelineParent      string
)

var pipelineRunCmd = &cobra.Command{
	Use:   "run <target>",
	Short: "Execute the full pipeline against a target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		targetType, err := models.ParseTargetType(pipelineType)
		if err != nil {
			return err
		}
		req := ecrr.Request{Target: args[0], TargetType: targetType}
		if pipelineDepth != "" {
			if req.Depth, err = models.ParseDepth(pipelineDepth); err != nil {
				return err
			}
		}
		dc := systemConfig.DeploymentConfig()
		if cmd.Flags().Changed("concurrency") {
			dc.Concurrency = pipelineConcurrency
		}
		dc.ParentAgentID = pipelineParent
		req.Deployment = &dc

		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			if pipelineMaxAgents > 0 {
				agents, err := sys.Registry.List(ctx, registry.Filter{})
				if err != nil {
					return err
				}
				legion := models.DefaultLegionContext()
				legion.CurrentAgents = len(agents)
				legion.MaxAgents = pipelineMaxAgents
				req.Legion = &legion
			}
			run := sys.Execute(ctx, req)
			if err := render(cmd, run, func(w io.Writer) { printRun(w, run) }); err != nil {
				return err
			}
			if run.Status == models.RunFailed {
				return errors.New(run.Error)
			}
			return nil
		})
	},
}

var pipelineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pipeline runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			runs, err := sys.Pipeline.Runs(ctx)
			if err != nil {
				return err
			}
			return render(cmd, runs, func(w io.Writer) {
				fmt.Fprintln(w, "ID\tTARGET\tTYPE\tDEPTH\tSTATUS\tSTATE\tAGENTS\tDURATION")
				for _, r := range runs {
					printRunLine(w, r)
				}
			})
		})
	},
}

var pipelineGetCmd = &cobra.Command{
	Use:   "get <run-id>",
	Short: "Show one pipeline run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			run, err := sys.Pipeline.Run(ctx, args[0])
			if err != nil {
				return err
			}
			return render(cmd, run, func(w io.Writer) { printRun(w, run) })
		})
	},
}

var pipelineSpawnCmd = &cobra.Command{
	Use:   "spawn <run-id>",
	Short: "Spawn the components and specialists of a completed run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd, func(ctx context.Context, sys *app.System) error {
			run, err := sys.Pipeline.Run(ctx, args[0])
			if err != nil {
				return err
			}
			res, err := sys.Spawner.SpawnFromPipeline(ctx, run)
			if err != nil {
				return err
			}
			return render(cmd, res, func(w io.Writer) {
				fmt.Fprintf(w, "Spawn:\t%s\n", res.SpawnID)
				fmt.Fprintf(w, "Source:\t%s (%s)\n", res.SourceTarget, res.SourcePipeline)
				fmt.Fprintf(w, "Spawned:\t%d\n", res.TotalSpawned)
				fmt.Fprintf(w, "Replication accuracy:\t%.2f\n", res.ReplicationAccuracy)
				fmt.Fprintln(w)
				printSpawnResults(w, res.Agents)
			})
		})
	},
}

func init() {
	pipelineRunCmd.Flags().StringVarP(&pipelineType, "type", "t", string(models.TargetBusiness), "target type")
	pipelineRunCmd.Flags().StringVarP(&pipelineDepth, "depth", "d", "", "analysis depth (default from config)")
	pipelineRunCmd.Flags().IntVar(&pipelineMaxAgents, "max-agents", 0, "legion capacity (default 100)")
	pipelineRunCmd.Flags().IntVar(&pipelineConcurrency, "concurrency", 0, "agents spawned per batch, 0 for one batch per phase")
	pipelineRunCmd.Flags().StringVar(&pipelineParent, "parent", "", "parent agent id for deployed agents")

	pipelineCmd.AddCommand(pipelineRunCmd)
	pipelineCmd.AddCommand(pipelineListCmd)
	pipelineCmd.AddCommand(pipelineGetCmd)
	pipelineCmd.AddCommand(pipelineSpawnCmd)
}

func printRunLine(w io.Writer, r models.PipelineRun) {
	agents := 0
	if r.Summary != nil {
		agents = r.Summary.AgentsCreated
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
		shortID(r.ID), truncate(r.Target, 30), r.TargetType, r.Depth, r.Status, r.State,
		agents, r.Duration.Round(time.Millisecond))
}

func printRun(w io.Writer, r models.PipelineRun) {
	fmt.Fprintf(w, "Run:\t%s\n", r.ID)
	fmt.Fprintf(w, "Target:\t%s (%s, %s)\n", r.Target, r.TargetType, r.Depth)
	fmt.Fprintf(w, "Status:\t%s\n", r.Status)
	fmt.Fprintf(w, "State:\t%s\n", r.State)
	if r.Status == models.RunFailed {
		fmt.Fprintf(w, "Failed stage:\t%s\n", r.FailedStage)
		fmt.Fprintf(w, "Error:\t%s\n", r.Error)
		return
	}
	fmt.Fprintf(w, "Duration:\t%s\n", r.Duration.Round(time.Millisecond))
	if s := r.Summary; s != nil {
		fmt.Fprintf(w, "Agents created:\t%d\n", s.AgentsCreated)
		fmt.Fprintf(w, "Success rate:\t%.0f%%\n", s.SuccessRate*100)
		fmt.Fprintf(w, "Complexity reduction:\t%.0f%%\n", s.ComplexityReduction*100)
		fmt.Fprintf(w, "Legion growth:\t%s\n", s.LegionImpact.Growth)
		fmt.Fprintf(w, "Coordination:\t%s\n", s.LegionImpact.CoordinationIncrease)
	}
	if d := r.Deployment; d != nil && len(d.DeployedAgents) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "PHASE\tAGENT\tNAME\tARCHETYPE\tTYPE")
		for _, a := range d.DeployedAgents {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", a.Phase, shortID(a.AgentID), truncate(a.Name, 30), a.Archetype, a.Type)
		}
		if len(d.NextSteps) > 0 {
			fmt.Fprintln(w)
			fmt.Fprintln(w, "Next steps:")
			for _, step := range d.NextSteps {
				fmt.Fprintf(w, "  - %s\n", strings.TrimSpace(step))
			}
		}
	}
}
