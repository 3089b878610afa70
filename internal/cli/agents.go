package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/filestore"
	"github.com/taskmesh/taskmesh/internal/tools"
)

var (
	agentsFile string
	agentsJSON bool
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Show the agent roster from a definition file",
	RunE:  runAgents,
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the built-in tool catalog",
	RunE:  runTools,
}

func init() {
	agentsCmd.Flags().StringVarP(&agentsFile, "file", "f", "", "Agents JSON file")
	agentsCmd.Flags().BoolVar(&agentsJSON, "json", false, "Output machine-readable JSON")
	toolsCmd.Flags().Bool("json", false, "Output OpenAI-style function definitions")
}

func runAgents(cmd *cobra.Command, args []string) error {
	if agentsFile == "" {
		return fmt.Errorf("--file is required")
	}
	agents, err := loadAgents(agentsFile)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if agentsJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(agents)
	}
	for _, a := range agents {
		state := ""
		if a.Disabled {
			state = " (disabled)"
		}
		fmt.Fprintf(w, "%-20s [%s]%s\n", a.Name, strings.Join(a.Capabilities, ", "), state)
	}
	return nil
}

func runTools(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, err := filestore.New(cfg.Paths.SandboxRoot)
	if err != nil {
		return err
	}
	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, store); err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(registry.Definitions())
	}
	fmt.Fprint(w, registry.CatalogText())
	return nil
}
