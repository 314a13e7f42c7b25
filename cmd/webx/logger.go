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

	"github.com/lsvishaal/web-extraction-agent/pkg/config"
	"github.com/lsvishaal/web-extraction-agent/pkg/logger"
)

const (
	// LogLevelEnvVar is the environment variable name for log level
	LogLevelEnvVar = "LOG_LEVEL"
	// LogFileEnvVar is the environment variable name for log file path
	LogFileEnvVar = "LOG_FILE"
	// LogFormatEnvVar is the environment variable name for log format
	LogFormatEnvVar = "LOG_FORMAT"
	// DefaultLogLevel is the default log level
	DefaultLogLevel = "info"
	// DefaultLogFormat is the default log format
	DefaultLogFormat = "simple"
)

// loggerOptions is a fully resolved logging configuration.
type loggerOptions struct {
	level  string
	file   string
	format string
}

// resolveLoggerOptions resolves each logging field independently.
// Priority: CLI flag > env var > settings file > default. The settings
// layer is nil before the settings file has been loaded.
func resolveLoggerOptions(cli *CLI, settings *config.LoggerSettings) loggerOptions {
	var fromFile config.LoggerSettings
	if settings != nil {
		fromFile = *settings
	}

	return loggerOptions{
		level:  firstNonEmpty(cli.LogLevel, os.Getenv(LogLevelEnvVar), fromFile.Level, DefaultLogLevel),
		file:   firstNonEmpty(cli.LogFile, os.Getenv(LogFileEnvVar), fromFile.File),
		format: firstNonEmpty(cli.LogFormat, os.Getenv(LogFormatEnvVar), fromFile.Format, DefaultLogFormat),
	}
}

// initLogger applies resolved logging options. The returned cleanup
// flushes and closes the log file; it is nil for stderr output.
func initLogger(opts loggerOptions) (func(), error) {
	level, err := logger.ParseLevel(opts.level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	output := os.Stderr
	var cleanup func()
	if opts.file != "" {
		file, cleanupFn, err := logger.OpenLogFile(opts.file)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		cleanup = cleanupFn
	}

	logger.Init(level, output, opts.format)

	return cleanup, nil
}
