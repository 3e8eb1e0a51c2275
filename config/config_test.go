// Copyright 2024 frappe Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[database]
data_store = "sqlite://test.db"
cache_store = "redis://localhost:6379/0"
table_prefix = "frappe_"

[server]
http_host = "0.0.0.0"
http_port = 8088
api_key = "secret"

[recommend]
default_n = 5
max_n = 50
cache_ttl = "30s"
module_ttl = "5m"
`), 0o644))
	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite://test.db", config.Database.DataStore)
	assert.Equal(t, "redis://localhost:6379/0", config.Database.CacheStore)
	assert.Equal(t, "frappe_", config.Database.TablePrefix)
	assert.Equal(t, "0.0.0.0", config.Server.HttpHost)
	assert.Equal(t, 8088, config.Server.HttpPort)
	assert.Equal(t, "secret", config.Server.APIKey)
	assert.Equal(t, 5, config.Recommend.DefaultN)
	assert.Equal(t, 50, config.Recommend.MaxN)
	assert.Equal(t, 30*time.Second, config.Recommend.CacheTTL)
	assert.Equal(t, 5*time.Minute, config.Recommend.ModuleTTL)
}

func TestLoadConfigTemplate(t *testing.T) {
	config, err := LoadConfig("config.toml.template")
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), config)
}

func TestValidate(t *testing.T) {
	config := GetDefaultConfig()
	assert.NoError(t, config.Validate())

	broken := *config
	broken.Database.DataStore = ""
	assert.Error(t, broken.Validate())

	broken = *config
	broken.Server.HttpPort = -1
	assert.Error(t, broken.Validate())

	broken = *config
	broken.Recommend.MaxN = 1
	assert.Error(t, broken.Validate())
}
