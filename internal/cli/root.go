package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/taskmesh/taskmesh/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"  _____         _                        _\n" +
		" |_   _|_ _ ___| | ___ __ ___   ___  ___| |__\n" +
		"   | |/ _` / __| |/ / '_ ` _ \\ / _ \\/ __| '_ \\\n" +
		"   | | (_| \\__ \\   <| | | | | |  __/\\__ \\ | | |\n" +
		"   |_|\\__,_|___/_|\\_\\_| |_| |_|\\___||___/_| |_|\n"
)

var rootCmd = &cobra.Command{
	Use:   "taskmesh",
	Short: "Taskmesh - Multi-Agent Task Coordination",
	Long:  color.CyanString(logo) + "\nA task coordination engine for tool-using LLM agents, written in Go.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(toolsCmd)
}
