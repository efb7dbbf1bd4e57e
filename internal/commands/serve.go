// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/switchboard/internal/autosync"
	"github.com/tombee/switchboard/internal/facade"
	"github.com/tombee/switchboard/internal/gateway"
	"github.com/tombee/switchboard/internal/profile"
	"github.com/tombee/switchboard/internal/tracing"
)

func newServeCommand() *cobra.Command {
	var noSync bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the gateway over stdio",
		Long:  "Runs the MCP façade on stdin/stdout. The upstream client should launch this command directly.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			tp, err := tracing.NewProvider(tracing.Config{
				ServiceName:    "switchboard",
				ServiceVersion: gateway.Version,
				StdoutExport:   os.Getenv("SWITCHBOARD_TRACE_STDOUT") == "1",
			})
			if err != nil {
				return err
			}
			defer func() { _ = tp.Shutdown(context.Background()) }()

			a.serveMetrics(ctx)

			// Initialize never waits for providers: it installs the
			// cached view and reconciles in the background.
			if err := a.orch.Initialize(ctx, profileName(cmd)); err != nil {
				return err
			}

			srv, err := facade.NewServer(facade.ServerConfig{
				Gateway:        a.orch,
				Version:        gateway.Version,
				RunsPerMinute:  a.settings.RateLimit.RunsPerMinute,
				CallsPerMinute: a.settings.RateLimit.CallsPerMinute,
				Logger:         a.logger,
			})
			if err != nil {
				return err
			}

			// Mirror aggregated listings into the façade once the
			// background reconcile settles.
			go func() {
				a.orch.WaitForReconcile()
				srv.SyncListings()
			}()

			// Watch the profile document so external edits take effect
			// without a restart.
			watcher, err := profile.NewWatcher(profile.WatcherConfig{
				Path:   a.profiles.Path(profileName(cmd)),
				Logger: a.logger,
			})
			if err != nil {
				a.logger.Warn("profile watching disabled", "error", err)
			} else {
				defer watcher.Close()
				go func() {
					for {
						select {
						case <-watcher.Changes():
							if err := a.orch.Reload(ctx); err != nil {
								a.logger.Warn("profile reload failed", "error", err)
								continue
							}
							a.orch.WaitForReconcile()
							srv.SyncListings()
						case <-ctx.Done():
							return
						}
					}
				}()
			}

			if !noSync {
				go func() {
					prof := a.orch.Profile()
					if prof == nil {
						return
					}
					syncer := autosync.NewSyncer(autosync.SyncerConfig{Logger: a.logger})
					added, err := syncer.Sync(ctx, prof, a.orch.AddProvider)
					if err != nil {
						a.logger.Warn("auto-sync failed", "error", err)
						return
					}
					a.metrics.SyncAdditions(len(added))
					if len(added) > 0 {
						a.logger.Info("auto-sync imported providers", "providers", added)
						srv.SyncListings()
					}
				}()
			}

			return srv.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&noSync, "no-sync", false, "skip auto-sync of upstream client configurations")
	return cmd
}
