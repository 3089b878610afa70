package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/engine"
	"github.com/taskmesh/taskmesh/internal/evaluate"
	"github.com/taskmesh/taskmesh/internal/provider"
	"github.com/taskmesh/taskmesh/internal/roster"
)

var (
	submitGoal      string
	submitCaps      []string
	submitKey       string
	submitContains  []string
	submitArtifacts []string
	submitTools     []string
	submitScript    string
	submitAgents    string
	submitMaxIter   int
	submitJSON      bool
)

var submitCmd = &cobra.Command{
	Use:   "submit [goal]",
	Short: "Submit a task and wait for it to finish",
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&submitGoal, "goal", "g", "", "Task goal (alternative to positional args)")
	submitCmd.Flags().StringSliceVar(&submitCaps, "caps", nil, "Required agent capabilities")
	submitCmd.Flags().StringVarP(&submitKey, "key", "k", "", "Idempotency key")
	submitCmd.Flags().StringSliceVar(&submitContains, "contains", nil, "Completion criterion: final response contains this text")
	submitCmd.Flags().StringSliceVar(&submitArtifacts, "artifact", nil, "Completion criterion: this sandbox file was written")
	submitCmd.Flags().StringSliceVar(&submitTools, "tool", nil, "Completion criterion: this tool ran successfully")
	submitCmd.Flags().StringVar(&submitScript, "script", "", "Replay responses from a JSON file instead of calling the provider")
	submitCmd.Flags().StringVar(&submitAgents, "agents", "", "Load the agent roster from a JSON file")
	submitCmd.Flags().IntVar(&submitMaxIter, "max-iterations", 0, "Per-task iteration budget (0 uses the configured default)")
	submitCmd.Flags().BoolVar(&submitJSON, "json", false, "Output machine-readable JSON")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	goal := strings.TrimSpace(submitGoal)
	if goal == "" {
		goal = strings.TrimSpace(strings.Join(args, " "))
	}
	if goal == "" {
		return fmt.Errorf("a goal is required (positional or --goal)")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var prov provider.LLMProvider
	if submitScript != "" {
		responses, err := loadScript(submitScript)
		if err != nil {
			return err
		}
		prov = provider.NewScriptedProvider(responses...)
	} else {
		prov, err = resolveProvider(cfg)
		if err != nil {
			return err
		}
	}

	rt, err := buildRuntime(cfg, prov, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := registerRoster(rt.engine, submitAgents, submitCaps); err != nil {
		return err
	}

	if !submitJSON {
		printHeader("🚀 Taskmesh Submit")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	view, err := rt.engine.SubmitTask(ctx, engine.SubmitRequest{
		Goal:                 goal,
		RequiredCapabilities: submitCaps,
		Criteria:             buildCriteria(submitContains, submitArtifacts, submitTools),
		IdempotencyKey:       submitKey,
		MaxIterations:        submitMaxIter,
	})
	if err != nil {
		return err
	}
	if !submitJSON {
		fmt.Printf("Task: %s\n", view.ID)
	}

	view, err = waitForTask(ctx, rt.engine, view.ID)
	if err != nil {
		return err
	}
	return printView(cmd, view, submitJSON)
}

// registerRoster fills the engine's roster, either from a file or with a
// single generalist covering the requested capabilities.
func registerRoster(eng *engine.Engine, agentsFile string, caps []string) error {
	if agentsFile != "" {
		agents, err := loadAgents(agentsFile)
		if err != nil {
			return err
		}
		for _, a := range agents {
			if _, err := eng.RegisterAgent(a); err != nil {
				return err
			}
		}
		return nil
	}
	_, err := eng.RegisterAgent(roster.Agent{
		Name:         "generalist",
		Capabilities: caps,
		Instructions: "You are a capable assistant that uses the available tools to finish tasks.",
	})
	return err
}

// buildCriteria turns the flag values into completion criteria. Every
// flag-supplied criterion is required.
func buildCriteria(contains, artifacts, toolNames []string) []evaluate.Criterion {
	var criteria []evaluate.Criterion
	for _, text := range contains {
		criteria = append(criteria, evaluate.Criterion{
			ID:          "contains:" + text,
			Description: fmt.Sprintf("final response mentions %q", text),
			Kind:        evaluate.KindResponseContains,
			Value:       text,
			Required:    true,
		})
	}
	for _, path := range artifacts {
		criteria = append(criteria, evaluate.Criterion{
			ID:          "artifact:" + path,
			Description: fmt.Sprintf("file %s was written", path),
			Kind:        evaluate.KindArtifactExists,
			Value:       path,
			Required:    true,
		})
	}
	for _, name := range toolNames {
		criteria = append(criteria, evaluate.Criterion{
			ID:          "tool:" + name,
			Description: fmt.Sprintf("tool %s ran successfully", name),
			Kind:        evaluate.KindToolSucceeded,
			Value:       name,
			Required:    true,
		})
	}
	return criteria
}

// waitForTask polls until the task reaches a terminal status. An interrupt
// cancels the task and reports its final state.
func waitForTask(ctx context.Context, eng *engine.Engine, id string) (engine.View, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	cancelled := false
	for {
		view, err := eng.GetTaskStatus(id)
		if err != nil {
			return engine.View{}, err
		}
		if view.Status.Terminal() {
			return view, nil
		}
		select {
		case <-ctx.Done():
			if !cancelled {
				cancelled = true
				if err := eng.CancelTask(id); err != nil {
					return view, err
				}
			}
			// ctx stays done; pace the polls on the ticker.
			<-ticker.C
		case <-ticker.C:
		}
	}
}

func printView(cmd *cobra.Command, view engine.View, asJSON bool) error {
	w := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}
	fmt.Fprintf(w, "Status:     %s\n", view.Status)
	if view.AgentName != "" {
		fmt.Fprintf(w, "Agent:      %s\n", view.AgentName)
	}
	fmt.Fprintf(w, "Iterations: %d\n", view.Iterations)
	fmt.Fprintf(w, "Score:      %d\n", view.Score)
	if view.FailureReason != "" {
		fmt.Fprintf(w, "Failure:    %s\n", view.FailureReason)
	}
	if view.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", view.Error)
	}
	if len(view.MissingRequirements) > 0 {
		fmt.Fprintf(w, "Missing:    %s\n", strings.Join(view.MissingRequirements, ", "))
	}
	if len(view.Executions) > 0 {
		fmt.Fprintln(w, "Tool calls:")
		for _, rec := range view.Executions {
			mark := "✗"
			if rec.Success {
				mark = "✓"
			}
			fmt.Fprintf(w, "  %s %s (attempt %d, %s)\n", mark, rec.ToolName, rec.Attempt, rec.Duration.Round(time.Millisecond))
		}
	}
	if view.FinalResponse != "" {
		fmt.Fprintf(w, "\n%s\n", view.FinalResponse)
	}
	return nil
}
