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
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var deploymentsCmd = &cobra.Command{
	Use:   "deployments",
	Short: "Inspect deployments",
}

var deploymentsListCmd = &cobra.Command{
	Use:   "list [domain]",
	Short: "List releases, optionally filtered by domain",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		domain := ""
		if len(args) == 1 {
			domain = args[0]
		}

		api, err := apiClient(true)
		if err != nil {
			return err
		}
		deployments, err := api.Deployments(cmd.Context(), domain)
		if err != nil {
			return err
		}
		if len(deployments) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No deployments found.")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tDOMAIN\tDEPLOYED AT")
		for _, d := range deployments {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", d.Version, d.Domain, d.DeployedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

func init() {
	deploymentsCmd.AddCommand(deploymentsListCmd)
	rootCmd.AddCommand(deploymentsCmd)
}
