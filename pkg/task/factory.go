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

package task

import (
	"fmt"
	"log/slog"

	"github.com/a2aproject/a2a-go/a2asrv"

	"github.com/lsvishaal/web-extraction-agent/pkg/config"
)

// NewStore builds a task store from settings. A nil store is valid: the
// serving layer then relies on a2a-go's built-in in-memory store, which is
// the default deployment. SQL backends share connections through the pool
// so sqlite files see a single writer.
func NewStore(settings *config.TaskStoreSettings, pool *config.DBPool) (a2asrv.TaskStore, error) {
	if settings == nil || !settings.IsSQL() {
		return nil, nil
	}

	if settings.Database == nil {
		return nil, fmt.Errorf("database settings are required for the sql task backend")
	}
	if pool == nil {
		return nil, fmt.Errorf("a database pool is required for the sql task backend")
	}

	db, err := pool.Get(settings.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	store, err := NewSQLStore(db, settings.Database.Dialect())
	if err != nil {
		return nil, err
	}

	slog.Info("Task store using SQL backend",
		"driver", settings.Database.Driver,
		"database", settings.Database.Database)
	return store, nil
}
