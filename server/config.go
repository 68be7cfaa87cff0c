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

package server

import (
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/spf13/pflag"
)

const (
	flagStoragePath    = "storage-path"
	envStoragePath     = "ROLLOUT_STORAGE_PATH"
	defaultStoragePath = "/data"

	flagAddress    = "addr"
	envAddress     = "ROLLOUT_ADDR"
	defaultAddress = ":9090"

	flagMaxUploadSize    = "max-upload-size"
	envMaxUploadSize     = "ROLLOUT_MAX_UPLOAD_SIZE"
	defaultMaxUploadSize = "5GiB"

	flagRetentionRecords    = "retention-records"
	defaultRetentionRecords = 0

	flagAuthToken = "auth-token"
	envAuthToken  = "ROLLOUT_AUTH_TOKEN"

	flagLogLevel    = "log-level"
	defaultLogLevel = "info"
)

// Options contains the configuration settings for the release server.
type Options struct {
	// StoragePath is the directory the release store is rooted at.
	StoragePath string `json:"storagePath"`

	// Address is the host and port the server will bind to.
	Address string `json:"address"`

	// MaxUploadSize bounds a single artifact upload, as a human
	// readable size ("5GiB", "500MB").
	MaxUploadSize string `json:"maxUploadSize"`

	// RetentionRecords is the number of superseded releases kept per
	// application after a deploy. Zero keeps everything.
	RetentionRecords int `json:"retentionRecords"`

	// AuthToken is the shared bearer token deploys must present.
	// Empty disables authentication.
	AuthToken string `json:"-"`

	// LogLevel is the zap log level.
	LogLevel string `json:"logLevel"`
}

// BindFlags will parse the given pflag.FlagSet and set the Options accordingly.
func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.StoragePath, flagStoragePath,
		envOrDefault(envStoragePath, defaultStoragePath),
		"The directory the release store is rooted at.")

	fs.StringVar(&o.Address, flagAddress,
		envOrDefault(envAddress, defaultAddress),
		"The address the server will bind to.")

	fs.StringVar(&o.MaxUploadSize, flagMaxUploadSize,
		envOrDefault(envMaxUploadSize, defaultMaxUploadSize),
		"The maximum size of a single artifact upload.")

	fs.IntVar(&o.RetentionRecords, flagRetentionRecords,
		defaultRetentionRecords,
		"The number of superseded releases to keep per application. Zero keeps all.")

	fs.StringVar(&o.AuthToken, flagAuthToken,
		envOrDefault(envAuthToken, ""),
		"The bearer token deploys must present. Empty disables authentication.")

	fs.StringVar(&o.LogLevel, flagLogLevel,
		defaultLogLevel,
		"The log level (debug, info, warn, error).")
}

// MaxUploadBytes parses the configured upload bound.
func (o *Options) MaxUploadBytes() (int64, error) {
	n, err := units.RAMInBytes(o.MaxUploadSize)
	if err != nil {
		return 0, fmt.Errorf("invalid max upload size %q: %w", o.MaxUploadSize, err)
	}
	return n, nil
}

// envOrDefault returns the value of the environment variable named by the key.
// If the variable is empty or not present, it returns the defaultValue instead.
func envOrDefault(envName, defaultValue string) string {
	ret := os.Getenv(envName)
	if ret != "" {
		return ret
	}
	return defaultValue
}
