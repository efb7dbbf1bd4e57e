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

package main

import (
	"fmt"
	"os"

	"github.com/tombee/switchboard/internal/commands"
	"github.com/tombee/switchboard/internal/gateway"
)

func main() {
	root := commands.NewRootCommand(gateway.Version)
	if err := root.Execute(); err != nil {
		// Unrecoverable startup failures exit non-zero. Transient
		// provider failures are handled inside the façade and never
		// reach here.
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
