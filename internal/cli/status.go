package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskmesh/taskmesh/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ Taskmesh Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 Taskmesh Status")
		fmt.Printf("Version: %s\n", version)

		configPath, err := config.ConfigPath()
		if err == nil {
			if _, statErr := os.Stat(configPath); statErr == nil {
				fmt.Println("Config:   ✓ Found (" + configPath + ")")
			} else {
				fmt.Println("Config:   ✗ Not found (defaults apply)")
			}
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("Config:   ✗ Unreadable (%v)\n", err)
			return
		}
		fmt.Printf("Provider: %s (%s)\n", cfg.Provider.Kind, cfg.Provider.Model)
		if cfg.Provider.Kind == "openai" {
			if cfg.Provider.APIKey != "" {
				fmt.Println("API Key:  ✓ Found")
			} else {
				fmt.Println("API Key:  ✗ Not found")
			}
		}
		fmt.Printf("Sandbox:  %s\n", cfg.Paths.SandboxRoot)
		if _, err := os.Stat(cfg.Paths.TimelineDB); err == nil {
			fmt.Println("Timeline: ✓ " + cfg.Paths.TimelineDB)
		} else {
			fmt.Println("Timeline: ✗ No database yet (" + cfg.Paths.TimelineDB + ")")
		}
		if cfg.Trace.Enabled {
			fmt.Printf("Trace:    ✓ Kafka %s topic %s\n", cfg.Trace.Brokers, cfg.Trace.Topic)
		} else {
			fmt.Println("Trace:    ✗ Disabled")
		}
		fmt.Println("Status:   Ready")
	},
}
