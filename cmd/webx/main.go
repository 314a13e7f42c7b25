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

// Command webx runs the web extraction agent: an A2A host pairing an
// OpenRouter-backed model with MCP-launched extraction tools and a
// persistent memory layer.
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	webx "github.com/lsvishaal/web-extraction-agent"
	"github.com/lsvishaal/web-extraction-agent/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the A2A server."`
	Register RegisterCmd `cmd:"" help:"Publish the agent to the bindu directory."`
	Config   ConfigCmd   `cmd:"" help:"Manage the agent configuration document."`
	Schema   SchemaCmd   `cmd:"" help:"Generate JSON Schema for the configuration document."`

	ConfigPath string `name:"config" short:"c" help:"Path to the configuration document (falls back to CONFIG_FILE, then config.json)." type:"path"`
	LogLevel   string `help:"Log level (debug, info, warn, error). Defaults to info."`
	LogFile    string `help:"Log file path (empty = stderr)."`
	LogFormat  string `help:"Log format (simple, verbose, or custom). Defaults to simple."`
}

// configPath resolves the configuration document location: CLI flag,
// then CONFIG_FILE, then the conventional default.
func (c *CLI) configPath() string {
	return firstNonEmpty(c.ConfigPath, os.Getenv("CONFIG_FILE"), "config.json")
}

// firstNonEmpty returns the first non-empty value, resolving flag/env
// fallback chains.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	info := webx.GetVersion()
	if bi, ok := debug.ReadBuildInfo(); ok {
		if bi.Main.Version != "(devel)" && bi.Main.Version != "" {
			info.Version = bi.Main.Version
		}
	}
	fmt.Println(info)
	return nil
}

// printBanner prints a colored ASCII banner using webx-green (#10b981)
func printBanner() {
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			// Not a terminal, skip banner
			return
		}
	} else {
		return
	}

	// Green color: #10b981 = RGB(16, 185, 129)
	greenColor := "\033[38;2;16;185;129m"
	resetColor := "\033[0m"

	banner := `
██╗    ██╗███████╗██████╗ ██╗  ██╗
██║    ██║██╔════╝██╔══██╗╚██╗██╔╝
██║ █╗ ██║█████╗  ██████╔╝ ╚███╔╝
██║███╗██║██╔══╝  ██╔══██╗ ██╔██╗
╚███╔███╔╝███████╗██████╔╝██╔╝ ██╗
 ╚══╝╚══╝ ╚══════╝╚═════╝ ╚═╝  ╚═╝
`
	fmt.Printf("%s%s%s\n", greenColor, banner, resetColor)
}

// shouldSkipBanner checks if the command should skip the banner.
// Informational commands print machine-readable output, so the banner
// would pollute redirected streams.
func shouldSkipBanner(args []string) bool {
	if len(args) < 2 {
		return false
	}

	for _, arg := range args {
		if arg == "version" || arg == "schema" || arg == "config" {
			return true
		}
	}
	return false
}

func main() {
	if !shouldSkipBanner(os.Args) {
		printBanner()
	}

	// Local secrets and overrides; values already in the environment win.
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("webx"),
		kong.Description("Web extraction agent - an A2A host for extracting and analyzing web content"),
		kong.UsageOnError(),
	)

	// Initialize logger with CLI flags/env vars before any command runs.
	// Serve re-applies settings-file values later when nothing overrode them.
	cleanup, err := initLogger(resolveLoggerOptions(&cli, nil))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
