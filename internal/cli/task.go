package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/timeline"
)

var (
	taskCmd = &cobra.Command{
		Use:   "task",
		Short: "Inspect recorded tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	taskStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show one task's record and execution history",
		RunE:  runTaskStatus,
	}

	taskListCmd = &cobra.Command{
		Use:   "list",
		Short: "List recorded tasks",
		RunE:  runTaskList,
	}

	taskPruneCmd = &cobra.Command{
		Use:   "prune",
		Short: "Delete finished tasks older than a cutoff",
		RunE:  runTaskPrune,
	}
)

func init() {
	taskStatusCmd.Flags().String("id", "", "Task ID")
	taskStatusCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	taskListCmd.Flags().String("status", "", "Filter by status")
	taskListCmd.Flags().Int("limit", 20, "Maximum rows")
	taskListCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	taskPruneCmd.Flags().Duration("older-than", 7*24*time.Hour, "Delete finished tasks older than this")
	taskCmd.AddCommand(taskStatusCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskPruneCmd)
}

func openTimeline() (*timeline.Service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.Paths.TimelineDB == "" {
		return nil, fmt.Errorf("no timeline database configured")
	}
	return timeline.New(cfg.Paths.TimelineDB)
}

func runTaskStatus(cmd *cobra.Command, args []string) error {
	taskID, _ := cmd.Flags().GetString("id")
	asJSON, _ := cmd.Flags().GetBool("json")
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return fmt.Errorf("--id is required")
	}
	svc, err := openTimeline()
	if err != nil {
		return err
	}
	defer svc.Close()

	rec, err := svc.GetTask(taskID)
	if err != nil {
		return err
	}
	executions, err := svc.ListExecutions(taskID)
	if err != nil {
		return err
	}
	events, err := svc.ListEvents(taskID)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"task":       rec,
			"executions": executions,
			"events":     events,
		})
	}
	fmt.Fprintf(w, "Task:       %s\n", rec.TaskID)
	fmt.Fprintf(w, "Goal:       %s\n", rec.Goal)
	fmt.Fprintf(w, "Status:     %s\n", rec.Status)
	if rec.AgentName != "" {
		fmt.Fprintf(w, "Agent:      %s\n", rec.AgentName)
	}
	fmt.Fprintf(w, "Iterations: %d\n", rec.IterationCount)
	fmt.Fprintf(w, "Score:      %d\n", rec.Score)
	fmt.Fprintf(w, "Tokens:     %d prompt / %d completion\n", rec.PromptTokens, rec.CompletionTokens)
	if rec.ErrorText != "" {
		fmt.Fprintf(w, "Error:      %s\n", rec.ErrorText)
	}
	if len(executions) > 0 {
		fmt.Fprintln(w, "Executions:")
		for _, row := range executions {
			mark := "✗"
			if row.Success {
				mark = "✓"
			}
			fmt.Fprintf(w, "  %s %s (attempt %d, %dms)\n", mark, row.ToolName, row.Attempt, row.DurationMs)
		}
	}
	if len(events) > 0 {
		fmt.Fprintln(w, "Events:")
		for _, evt := range events {
			fmt.Fprintf(w, "  %s %s %s\n", evt.CreatedAt.Format(time.RFC3339), evt.EventType, evt.Detail)
		}
	}
	if rec.FinalResponse != "" {
		fmt.Fprintf(w, "\n%s\n", rec.FinalResponse)
	}
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	svc, err := openTimeline()
	if err != nil {
		return err
	}
	defer svc.Close()

	records, err := svc.ListTasks(status, limit, 0)
	if err != nil {
		return err
	}
	return printTaskList(cmd.OutOrStdout(), records, asJSON)
}

func printTaskList(w io.Writer, records []timeline.TaskRecord, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "No tasks recorded.")
		return nil
	}
	for _, rec := range records {
		goal := rec.Goal
		if len(goal) > 60 {
			goal = goal[:57] + "..."
		}
		fmt.Fprintf(w, "%-36s %-12s %3d  %s\n", rec.TaskID, rec.Status, rec.Score, goal)
	}
	return nil
}

func runTaskPrune(cmd *cobra.Command, args []string) error {
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	svc, err := openTimeline()
	if err != nil {
		return err
	}
	defer svc.Close()

	count, err := svc.PruneCompleted(time.Now().Add(-olderThan))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d finished tasks.\n", count)
	return nil
}
