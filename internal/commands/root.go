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

// Package commands implements the switchboard CLI.
package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the CLI tree.
func NewRootCommand(version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "switchboard",
		Short:         "N-to-1 aggregating MCP gateway",
		Long:          "Switchboard presents many MCP providers to a client as one server\nwith two virtual tools: find (semantic tool discovery) and run.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("profile", "default", "profile to operate on")

	root.AddCommand(
		newServeCommand(),
		newAddCommand(),
		newRemoveCommand(),
		newListCommand(),
		newSyncCommand(),
		newDoctorCommand(),
	)
	return root
}

// profileName reads the persistent --profile flag.
func profileName(cmd *cobra.Command) string {
	name, err := cmd.Flags().GetString("profile")
	if err != nil || name == "" {
		return "default"
	}
	return name
}

// confirm prompts on stderr unless SWITCHBOARD_NO_CONFIRM disables
// interaction for automated environments.
func confirm(prompt string) bool {
	if v := os.Getenv("SWITCHBOARD_NO_CONFIRM"); v == "1" || v == "true" {
		return true
	}

	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
