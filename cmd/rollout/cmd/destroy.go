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
	"strings"

	"github.com/spf13/cobra"
)

var destroyYes bool

var destroyCmd = &cobra.Command{
	Use:   "destroy <domain>",
	Short: "Remove a deployment and all its releases",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		domain := args[0]
		if !destroyYes {
			answer, err := promptLine(fmt.Sprintf("Destroy %s and all its releases? [y/N]", domain))
			if err != nil {
				return err
			}
			if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
		}

		api, err := apiClient(true)
		if err != nil {
			return err
		}
		if err := api.Destroy(cmd.Context(), domain); err != nil {
			return err
		}

		// Drop any directory mapping pointing at the destroyed domain.
		if cfg, err := readLocalConfig(); err == nil {
			changed := false
			for dir, d := range cfg.Domains {
				if d == domain {
					delete(cfg.Domains, dir)
					changed = true
				}
			}
			if changed {
				_ = writeLocalConfig(cfg)
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Destroyed %s.\n", domain)
		return nil
	},
}

func init() {
	destroyCmd.Flags().BoolVarP(&destroyYes, "yes", "y", false, "skip the confirmation prompt")
	rootCmd.AddCommand(destroyCmd)
}
