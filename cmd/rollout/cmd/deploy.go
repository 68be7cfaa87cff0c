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
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/rollout-sh/rollout/archive"
	"github.com/rollout-sh/rollout/client"
)

var deployDomain string

var deployCmd = &cobra.Command{
	Use:   "deploy [path]",
	Short: "Package a directory and publish it as a new release",
	Long: `Deploy packages the given directory (default: the current one) into a
compressed artifact, respecting .rolloutignore, and uploads it. The first
deploy of a directory is assigned a generated domain which is remembered
for subsequent deploys; pass --domain to use a specific one.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		dir, err := filepath.Abs(dir)
		if err != nil {
			return err
		}

		api, err := apiClient(true)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		domain, err := resolveDomain(ctx, api, dir)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Packaging %s...\n", dir)
		art, err := archive.NewBuilder().Build(dir)
		if err != nil {
			return err
		}
		defer art.Remove()
		fmt.Fprintf(cmd.OutOrStdout(), "Artifact ready: %d files, %s\n",
			art.Manifest.FileCount, units.HumanSize(float64(art.Size)))

		res, err := api.Deploy(ctx, art, domain, domain, newProgressPrinter(cmd.OutOrStdout(), art.Size))
		if err != nil {
			return err
		}

		if err := rememberDomain(dir, domain); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: could not save domain mapping: %v\n", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deployed version %d to https://%s\n", res.Version, res.Domain)
		return nil
	},
}

// resolveDomain picks the domain for a deploy: the --domain flag wins and
// is validated with the service, otherwise the one remembered for this
// directory, otherwise a freshly generated one.
func resolveDomain(ctx context.Context, api *client.Client, dir string) (string, error) {
	if deployDomain != "" {
		if err := api.ValidateDomain(ctx, deployDomain); err != nil {
			return "", err
		}
		return deployDomain, nil
	}

	cfg, err := readLocalConfig()
	if err != nil {
		return "", err
	}
	if d, ok := cfg.Domains[dir]; ok {
		return d, nil
	}

	domain, err := api.GenerateDomain(ctx)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(os.Stdout, "Assigned domain: %s\n", domain)
	return domain, nil
}

func init() {
	deployCmd.Flags().StringVarP(&deployDomain, "domain", "d", "",
		"deploy under this domain instead of the remembered or generated one")
	rootCmd.AddCommand(deployCmd)
}
