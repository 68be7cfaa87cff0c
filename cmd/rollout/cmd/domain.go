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

var domainCmd = &cobra.Command{
	Use:   "domain",
	Short: "Manage custom domains",
}

var domainAddCmd = &cobra.Command{
	Use:   "add <domain> <deployment>",
	Short: "Attach a custom domain to an existing deployment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		domain, deployment := args[0], args[1]

		api, err := apiClient(true)
		if err != nil {
			return err
		}
		if err := api.ValidateDomain(cmd.Context(), domain); err != nil {
			return err
		}
		if err := api.AddDomain(cmd.Context(), domain, deployment); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Domain %s attached to %s.\n", domain, deployment)
		return nil
	},
}

func init() {
	domainCmd.AddCommand(domainAddCmd)
	rootCmd.AddCommand(domainCmd)
}
