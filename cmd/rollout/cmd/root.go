/*
Copyright 2025 The Rollout authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package cmd implements the rollout command line client.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rollout-sh/rollout/client"
)

const defaultAPIURL = "https://app.rollout.sh/api/v1"

var apiURL string

var rootCmd = &cobra.Command{
	Use:   "rollout",
	Short: "Deploy static sites from the command line",
	Long: `Rollout packages a local directory into a compressed artifact and
publishes it to a rollout server, which extracts it as a new immutable
release and atomically switches the site to it.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "",
		"base URL of the rollout API (default "+defaultAPIURL+")")
	_ = viper.BindPFlag("api", rootCmd.PersistentFlags().Lookup("api"))
}

func initConfig() {
	viper.SetDefault("api", defaultAPIURL)
	viper.SetEnvPrefix("ROLLOUT")
	viper.AutomaticEnv()

	path, err := configPath()
	if err != nil {
		return
	}
	viper.SetConfigFile(path)
	viper.SetConfigType("json")
	// A missing config file is fine, the user simply hasn't logged in yet.
	_ = viper.ReadInConfig()
}

// apiClient builds a client from the resolved configuration. Commands that
// require authentication pass requireAuth to fail early with a clear message.
func apiClient(requireAuth bool) (*client.Client, error) {
	token := viper.GetString("token")
	if requireAuth && token == "" {
		return nil, fmt.Errorf("not logged in, run `rollout login` first")
	}
	opts := []client.Option{client.WithUserAgent("rollout/" + Version)}
	if token != "" {
		opts = append(opts, client.WithAuth(client.StaticToken(token)))
	}
	return client.New(viper.GetString("api"), opts...), nil
}
