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

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate and store the API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, err := promptLine("Email")
		if err != nil {
			return err
		}
		password, err := promptSecret("Password")
		if err != nil {
			return err
		}

		api, err := apiClient(false)
		if err != nil {
			return err
		}
		token, err := api.Login(cmd.Context(), email, password)
		if err != nil {
			return err
		}

		cfg, err := readLocalConfig()
		if err != nil {
			return err
		}
		cfg.Token = token
		if err := writeLocalConfig(cfg); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged in successfully.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
}
