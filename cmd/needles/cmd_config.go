// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Needle Server configuration",
	Long:  `Manage configuration files for Needle Server.`,
}

var configExampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Print an example configuration file",
	Long: `Print an example needles.yaml configuration file to stdout.

Examples:
  # Write an example config to the current directory
  needles config example > needles.yaml`,
	Run: runConfigExample,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current configuration",
	Long:  `Validate the configuration merged from all sources (flags, file, environment).`,
	Run:   runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration (merged from all sources). Secrets are masked.`,
	Run:   runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configExampleCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigExample(cmd *cobra.Command, args []string) {
	fmt.Print(GenerateExampleConfig())
}

func runConfigValidate(cmd *cobra.Command, args []string) {
	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		os.Exit(1)
	}
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Printf("✓ Configuration valid (%s)\n", used)
	} else {
		fmt.Printf("✓ Configuration valid (defaults + environment)\n")
	}
}

func runConfigShow(cmd *cobra.Command, args []string) {
	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Println()

	fmt.Println("Server:")
	fmt.Printf("  Host: %s\n", config.Server.Host)
	fmt.Printf("  Port: %d\n", config.Server.Port)
	fmt.Printf("  CORS: %t\n", config.Server.CORS.Enabled)
	fmt.Println()

	fmt.Println("Engines:")
	engines := []struct {
		name string
		cfg  EngineConfig
	}{
		{"searxng", config.Engines.SearXNG},
		{"perplexica", config.Engines.Perplexica},
		{"brave", config.Engines.Brave},
		{"serper", config.Engines.Serper},
	}
	for _, e := range engines {
		status := "disabled"
		if e.cfg.Enabled {
			status = "enabled"
		}
		fmt.Printf("  %s: %s", e.name, status)
		if e.cfg.BaseURL != "" {
			fmt.Printf(" (%s)", e.cfg.BaseURL)
		}
		if e.cfg.APIKey != "" {
			fmt.Printf(" key=%s", maskSecret(e.cfg.APIKey))
		}
		fmt.Println()
	}
	fmt.Println()

	fmt.Println("Language Model:")
	fmt.Printf("  Base URL: %s\n", config.LM.BaseURL)
	fmt.Printf("  Model: %s\n", config.LM.Model)
	if config.LM.APIKey != "" {
		fmt.Printf("  API Key: %s\n", maskSecret(config.LM.APIKey))
	}
	fmt.Printf("  Temperature: %.1f\n", config.LM.Temperature)
	fmt.Printf("  Max Tokens: %d\n", config.LM.MaxTokens)
	fmt.Println()

	fmt.Println("Database:")
	if config.Database.DSN != "" {
		fmt.Printf("  DSN: (set)\n")
	} else {
		fmt.Printf("  Host: %s:%d\n", config.Database.Host, config.Database.Port)
		fmt.Printf("  Database: %s\n", config.Database.Database)
		fmt.Printf("  User: %s\n", config.Database.User)
	}
	fmt.Println()

	fmt.Println("Judge:")
	fmt.Printf("  Threshold: %.2f\n", config.Judge.Threshold)
	fmt.Println()

	fmt.Println("Scheduler:")
	fmt.Printf("  Enabled: %t\n", config.Scheduler.Enabled)
	if config.Scheduler.Enabled {
		fmt.Printf("  Cron: %s\n", config.Scheduler.Cron)
	}
	fmt.Println()

	fmt.Println("Logging:")
	fmt.Printf("  Level: %s\n", config.Logging.Level)
	fmt.Printf("  Format: %s\n", config.Logging.Format)
}

// maskSecret masks a secret for display.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
