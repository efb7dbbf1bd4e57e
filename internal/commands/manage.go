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
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/switchboard/internal/autosync"
	"github.com/tombee/switchboard/internal/profile"
)

// providerSpecFlags binds the flags shared by add.
func providerSpecFlags(fs *pflag.FlagSet, command *string, args *[]string, env *[]string) {
	fs.StringVar(command, "command", "", "executable to launch (required)")
	fs.StringArrayVar(args, "arg", nil, "command argument (repeatable, ordered)")
	fs.StringArrayVar(env, "env", nil, "environment variable as KEY=VALUE (repeatable)")
}

// parseEnvFlags converts KEY=VALUE pairs to a map.
func parseEnvFlags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --env %q: expected KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}

func newAddCommand() *cobra.Command {
	var (
		command string
		cmdArgs []string
		envList []string
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a provider to the profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			env, err := parseEnvFlags(envList)
			if err != nil {
				return err
			}
			if command == "" {
				return fmt.Errorf("--command is required")
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.orch.Initialize(cmd.Context(), profileName(cmd)); err != nil {
				return err
			}
			a.orch.WaitForReconcile()

			spec := profile.ProviderSpec{Command: command, Args: cmdArgs, Env: env, Source: "user"}
			if err := a.orch.AddProvider(cmd.Context(), name, spec); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", name)
			return nil
		},
	}

	providerSpecFlags(cmd.Flags(), &command, &cmdArgs, &envList)
	return cmd
}

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a provider from the profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !confirm(fmt.Sprintf("Remove provider %q and its cached data?", name)) {
				return fmt.Errorf("aborted")
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.orch.Initialize(cmd.Context(), profileName(cmd)); err != nil {
				return err
			}
			a.orch.WaitForReconcile()

			if err := a.orch.RemoveProvider(cmd.Context(), name); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", name)
			return nil
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			prof, err := a.profiles.Load(profileName(cmd))
			if err != nil {
				return err
			}

			if len(prof.Servers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no providers configured")
				return nil
			}

			for _, name := range prof.Names() {
				spec := prof.Servers[name]
				line := fmt.Sprintf("%s\t%s %s", name, spec.Command, strings.Join(spec.Args, " "))
				if spec.Source != "" && spec.Source != "user" {
					line += "\t(" + spec.Source + ")"
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(line, " "))
			}
			return nil
		},
	}
}

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Import providers from detected upstream clients",
		Long:  "Scans well-known client configuration files and extension bundles, adding providers the profile does not already have. Existing entries are never overwritten.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.orch.Initialize(cmd.Context(), profileName(cmd)); err != nil {
				return err
			}
			a.orch.WaitForReconcile()

			syncer := autosync.NewSyncer(autosync.SyncerConfig{Logger: a.logger})
			added, err := syncer.Sync(cmd.Context(), a.orch.Profile(), a.orch.AddProvider)
			if err != nil {
				return err
			}
			a.metrics.SyncAdditions(len(added))

			if len(added) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to import")
				return nil
			}
			sort.Strings(added)
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d provider(s): %s\n", len(added), strings.Join(added, ", "))
			return nil
		},
	}
}

func newDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Report cache and provider health",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.orch.Initialize(cmd.Context(), profileName(cmd)); err != nil {
				return err
			}
			a.orch.WaitForReconcile()

			stats := a.orch.Stats()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cache: present=%v providers=%d tools=%d\n", stats.MetadataExists, stats.MCPCount, stats.ToolCount)

			prof := a.orch.Profile()
			for _, name := range prof.Names() {
				rec := a.orch.Health().Record(name)
				fmt.Fprintf(out, "%s\t%s", name, rec.State)
				if rec.LastFailureReason != "" {
					fmt.Fprintf(out, "\t%s", rec.LastFailureReason)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}
