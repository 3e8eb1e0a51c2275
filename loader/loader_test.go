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

package loader

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/frappe-io/frappe/storage/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type LoaderTestSuite struct {
	suite.Suite
	store  data.Database
	loader *Loader
}

func TestLoaderTestSuite(t *testing.T) {
	suite.Run(t, new(LoaderTestSuite))
}

func (suite *LoaderTestSuite) SetupSuite() {
	var err error
	path := fmt.Sprintf("sqlite://%s/data.db", suite.T().TempDir())
	suite.store, err = data.Open(path, "frappe_")
	suite.NoError(err)
	suite.NoError(suite.store.Init())
	suite.loader = NewLoader(suite.store, MozillaFieldMapping())
}

func (suite *LoaderTestSuite) TearDownSuite() {
	suite.NoError(suite.store.Close())
}

func (suite *LoaderTestSuite) SetupTest() {
	suite.NoError(suite.store.Purge())
}

func (suite *LoaderTestSuite) writeFile(dir, name, content string) {
	suite.NoError(os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func (suite *LoaderTestSuite) TestLoadItems() {
	ctx := context.Background()
	dir := suite.T().TempDir()
	suite.writeFile(dir, "100.json", `{
		"app_type": "hosted", "id": 100,
		"name": {"en-US": "Checkers", "pt-PT": "Damas"}, "default_locale": "en-US",
		"categories": ["games", "board"],
		"supported_locales": ["en-US", "pt", "klingon-empire"]
	}`)
	suite.writeFile(dir, "200.json", `{
		"app_type": "packaged", "id": "200",
		"name": "Weather Now",
		"categories": "utilities",
		"supported_locales": "en"
	}`)
	// no app_type field, skipped
	suite.writeFile(dir, "stray.json", `{"id": 300, "name": "stray"}`)
	suite.writeFile(dir, "notes.txt", `not json`)

	stats, err := suite.loader.LoadItems(ctx, dir)
	suite.NoError(err)
	suite.Equal(3, stats.Files)
	suite.Equal(2, stats.NewItems)
	suite.Equal(3, stats.Genres)
	// the malformed locale is dropped
	suite.Equal(3, stats.Locales)

	item, err := suite.store.GetItem(ctx, "100")
	suite.NoError(err)
	suite.Equal("Checkers", item.Name)
	item, err = suite.store.GetItem(ctx, "200")
	suite.NoError(err)
	suite.Equal("Weather Now", item.Name)
	_, err = suite.store.GetItem(ctx, "300")
	suite.Error(err)

	genres, err := suite.store.GetItemGenres(ctx, []string{"100", "200"})
	suite.NoError(err)
	suite.ElementsMatch([]string{"games", "board"}, genres["100"])
	suite.ElementsMatch([]string{"utilities"}, genres["200"])

	locales, err := suite.store.GetItemLocales(ctx, []string{"100", "200"})
	suite.NoError(err)
	suite.ElementsMatch([]string{"en-us", "pt"}, locales["100"])
	suite.ElementsMatch([]string{"en"}, locales["200"])

	// a second run finds everything in place
	stats, err = suite.loader.LoadItems(ctx, dir)
	suite.NoError(err)
	suite.Equal(0, stats.NewItems)
}

func (suite *LoaderTestSuite) TestLoadUsers() {
	ctx := context.Background()
	suite.NoError(suite.store.BatchInsertItems(ctx, []data.Item{
		{ItemId: "100", Name: "Checkers"},
		{ItemId: "200", Name: "Weather Now"},
	}))
	dir := suite.T().TempDir()
	suite.writeFile(dir, "alice.json", `{
		"user": "alice",
		"installed_apps": [
			{"id": 100, "installed": "2014-01-02T10:00:00"},
			{"id": 200, "installed": "2014-02-03T11:30:00", "dropped": "2014-03-04T12:00:00"},
			{"id": 999, "installed": "2014-01-01T00:00:00"}
		]
	}`)
	suite.writeFile(dir, "bob.json", `{"user": "bob", "installed_apps": []}`)

	stats, err := suite.loader.LoadUsers(ctx, dir)
	suite.NoError(err)
	suite.Equal(2, stats.Users)
	suite.Equal(2, stats.Inventory)
	suite.Equal(1, stats.SkippedItems)

	entry, err := suite.store.GetInventory(ctx, "alice", "100")
	suite.NoError(err)
	suite.True(entry.AcquisitionDate.Equal(time.Date(2014, 1, 2, 10, 0, 0, 0, time.UTC)))
	suite.False(entry.Dropped())
	entry, err = suite.store.GetInventory(ctx, "alice", "200")
	suite.NoError(err)
	suite.True(entry.Dropped())

	// a re-run with a changed dropped date updates the row
	suite.writeFile(dir, "alice.json", `{
		"user": "alice",
		"installed_apps": [
			{"id": 100, "installed": "2014-01-02T10:00:00", "dropped": "2014-05-06T09:00:00"}
		]
	}`)
	_, err = suite.loader.LoadUsers(ctx, dir)
	suite.NoError(err)
	entry, err = suite.store.GetInventory(ctx, "alice", "100")
	suite.NoError(err)
	suite.True(entry.Dropped())
	suite.True(entry.DroppedDate.Equal(time.Date(2014, 5, 6, 9, 0, 0, 0, time.UTC)))
}

func (suite *LoaderTestSuite) TestLoadTarball() {
	ctx := context.Background()
	archivePath := filepath.Join(suite.T().TempDir(), "dump.tgz")
	file, err := os.Create(archivePath)
	suite.NoError(err)
	gzipWriter := gzip.NewWriter(file)
	tarWriter := tar.NewWriter(gzipWriter)
	members := map[string]string{
		"apps/100.json":  `{"app_type": "hosted", "id": 100, "name": "Checkers"}`,
		"apps/.tmp.json": `{"app_type": "hosted", "id": 666, "name": "hidden"}`,
		"apps/readme.md": `not json`,
	}
	for name, content := range members {
		suite.NoError(tarWriter.WriteHeader(&tar.Header{
			Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg,
		}))
		_, err = tarWriter.Write([]byte(content))
		suite.NoError(err)
	}
	suite.NoError(tarWriter.Close())
	suite.NoError(gzipWriter.Close())
	suite.NoError(file.Close())

	stats, err := suite.loader.LoadItems(ctx, archivePath)
	suite.NoError(err)
	suite.Equal(1, stats.Files)
	suite.Equal(1, stats.NewItems)
	_, err = suite.store.GetItem(ctx, "100")
	suite.NoError(err)
	_, err = suite.store.GetItem(ctx, "666")
	suite.Error(err)
}

func TestFieldHelpers(t *testing.T) {
	assert.Equal(t, "NO NAME", itemName(map[string]any{}))
	assert.Equal(t, "NO NAME", itemName(map[string]any{
		"name": map[string]any{"pt-PT": "Damas"}, "default_locale": "en-US",
	}))
	assert.Equal(t, "Damas", itemName(map[string]any{
		"name": map[string]any{"pt-PT": "Damas"}, "default_locale": "pt-PT",
	}))
	assert.Equal(t, []string{"solo"}, stringList("solo"))
	assert.Nil(t, stringList(nil))
	assert.Equal(t, []string{"a", "7"}, stringList([]any{"a", json.Number("7")}))
}
