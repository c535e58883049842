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

	"github.com/teradata-labs/needle/internal/version"
)

var (
	cfgFile string
	config  *Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:     "needles",
	Short:   "Needle Server - funding source discovery pipeline",
	Long:    `Needle Server (needles) discovers funding sources on the open web: it generates search queries with a local language model, fans them out across search engines, filters spam, scores results with a judge committee, and persists high-confidence candidates to PostgreSQL.`,
	Version: version.Get(),
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./needles.yaml, /etc/needle/needles.yaml)")

	rootCmd.PersistentFlags().String("host", "0.0.0.0", "HTTP listen host")
	rootCmd.PersistentFlags().Int("port", 8080, "HTTP listen port")

	rootCmd.PersistentFlags().String("database-dsn", "", "PostgreSQL connection string")

	rootCmd.PersistentFlags().String("lm-url", "http://localhost:1234/v1", "OpenAI-compatible chat completions base URL")
	rootCmd.PersistentFlags().String("lm-model", "local-model", "language model identifier")

	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")

	_ = viper.BindPFlag("server.host", rootCmd.PersistentFlags().Lookup("host"))
	_ = viper.BindPFlag("server.port", rootCmd.PersistentFlags().Lookup("port"))

	_ = viper.BindPFlag("database.dsn", rootCmd.PersistentFlags().Lookup("database-dsn"))

	_ = viper.BindPFlag("lm.base_url", rootCmd.PersistentFlags().Lookup("lm-url"))
	_ = viper.BindPFlag("lm.model", rootCmd.PersistentFlags().Lookup("lm-model"))

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	config, err = LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
}
