// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 The web-extraction-agent authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
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
	"strings"

	"github.com/lsvishaal/web-extraction-agent/pkg/config"
)

// ConfigCmd manages the agent configuration document.
type ConfigCmd struct {
	Init ConfigInitCmd `cmd:"" help:"Create the default configuration document."`
	Show ConfigShowCmd `cmd:"" help:"Print the configuration document."`
}

// ConfigInitCmd materializes the default configuration document. The
// server does the same on first start; init exists so the document can
// be inspected and edited beforehand.
type ConfigInitCmd struct{}

func (c *ConfigInitCmd) Run(cli *CLI) error {
	path := cli.configPath()
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Configuration document already exists: %s\n", path)
		return nil
	}

	store, err := config.LoadOrDefault(path, config.EnvCapabilities())
	if err != nil {
		return err
	}

	fmt.Printf("Created %s\n", path)
	fmt.Printf("   Tools:  %s\n", strings.Join(store.ToolNames(), ", "))
	fmt.Printf("   Active: %s\n", strings.Join(store.ActiveToolNames(), ", "))
	return nil
}

// ConfigShowCmd prints the configuration document as JSON.
type ConfigShowCmd struct{}

func (c *ConfigShowCmd) Run(cli *CLI) error {
	store := config.NewStore()
	if err := store.LoadFromFile(cli.configPath()); err != nil {
		return err
	}

	data, err := store.Serialize()
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", data)
	return nil
}
