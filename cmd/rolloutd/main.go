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

// rolloutd is the server-side release helper: it accepts deploy uploads,
// extracts them into versioned releases, switches the live pointer, and
// serves the current content of every application.
package main

import (
	"context"
	"crypto/subtle"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/rollout-sh/rollout/logger"
	"github.com/rollout-sh/rollout/release"
	"github.com/rollout-sh/rollout/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var opts server.Options
	opts.BindFlags(pflag.CommandLine)
	pflag.Parse()

	log, err := logger.New(opts.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", opts.LogLevel, err)
	}
	defer log.Sync()

	maxUpload, err := opts.MaxUploadBytes()
	if err != nil {
		return err
	}

	manager, err := release.NewManager(opts.StoragePath, release.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to open release store: %w", err)
	}

	serverOpts := []server.ServerOption{
		server.WithLogger(log),
		server.WithMaxUploadSize(maxUpload),
	}
	if opts.RetentionRecords > 0 {
		serverOpts = append(serverOpts, server.WithRetention(release.KeepRecords(opts.RetentionRecords)))
	}
	if opts.AuthToken != "" {
		token := opts.AuthToken
		serverOpts = append(serverOpts, server.WithTokenValidator(func(t string) bool {
			return subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1
		}))
	}
	srv := server.New(manager, serverOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting release server",
		zap.String("storage", opts.StoragePath),
		zap.String("addr", opts.Address))
	return server.Start(ctx, opts.Address, srv.Handler(), log)
}
