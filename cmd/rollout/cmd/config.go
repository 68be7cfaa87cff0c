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
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// localConfig is the on-disk state kept under ~/.rollout/config.json:
// the API credential and the directory-to-domain mappings remembered
// from previous deploys.
type localConfig struct {
	Token   string            `json:"token,omitempty"`
	API     string            `json:"api,omitempty"`
	Domains map[string]string `json:"domains,omitempty"`
}

func configPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".rollout", "config.json"), nil
}

// readLocalConfig loads the config file. A missing file yields an empty
// config rather than an error.
func readLocalConfig() (*localConfig, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &localConfig{}, nil
	}
	if err != nil {
		return nil, err
	}
	cfg := &localConfig{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// writeLocalConfig persists the config with owner-only permissions, the
// file holds the API credential.
func writeLocalConfig(cfg *localConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

// rememberDomain records the domain assigned to a local project directory
// so subsequent deploys reuse it.
func rememberDomain(dir, domain string) error {
	cfg, err := readLocalConfig()
	if err != nil {
		return err
	}
	if cfg.Domains == nil {
		cfg.Domains = map[string]string{}
	}
	cfg.Domains[dir] = domain
	return writeLocalConfig(cfg)
}
