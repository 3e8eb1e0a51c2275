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

package data

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type SQLiteTestSuite struct {
	suite.Suite
	Database
}

func (suite *SQLiteTestSuite) SetupSuite() {
	var err error
	path := fmt.Sprintf("sqlite://%s/data.db", suite.T().TempDir())
	suite.Database, err = Open(path, "frappe_")
	suite.NoError(err)
	err = suite.Database.Init()
	suite.NoError(err)
}

func (suite *SQLiteTestSuite) TearDownSuite() {
	err := suite.Database.Close()
	suite.NoError(err)
}

func (suite *SQLiteTestSuite) SetupTest() {
	err := suite.Database.Ping()
	suite.NoError(err)
	err = suite.Database.Purge()
	suite.NoError(err)
}

func (suite *SQLiteTestSuite) TestItems() {
	ctx := context.Background()
	items := []Item{
		{ItemId: "2", Name: "second"},
		{ItemId: "4", Name: "fourth"},
		{ItemId: "6", Name: "sixth"},
		{ItemId: "8", Name: "eighth"},
	}
	err := suite.BatchInsertItems(ctx, items)
	suite.NoError(err)

	// get items
	item, err := suite.GetItem(ctx, "2")
	suite.NoError(err)
	suite.Equal(items[0], item)
	_, err = suite.GetItem(ctx, "3")
	suite.ErrorIs(errors.Cause(err), ErrItemNotExist)
	batch, err := suite.BatchGetItems(ctx, []string{"2", "3", "4"})
	suite.NoError(err)
	suite.Equal([]Item{items[0], items[1]}, batch)

	// scan items
	cursor, scanned, err := suite.GetItems(ctx, "", 3)
	suite.NoError(err)
	suite.Equal("6", cursor)
	suite.Equal(items[:3], scanned)
	cursor, scanned, err = suite.GetItems(ctx, cursor, 3)
	suite.NoError(err)
	suite.Empty(cursor)
	suite.Equal(items[3:], scanned)

	// inserting again updates names without duplication
	err = suite.BatchInsertItems(ctx, []Item{{ItemId: "2", Name: "renamed"}})
	suite.NoError(err)
	item, err = suite.GetItem(ctx, "2")
	suite.NoError(err)
	suite.Equal("renamed", item.Name)
	_, scanned, err = suite.GetItems(ctx, "", 10)
	suite.NoError(err)
	suite.Len(scanned, 4)
}

func (suite *SQLiteTestSuite) TestUsers() {
	ctx := context.Background()
	users := []User{{UserId: "1"}, {UserId: "2"}, {UserId: "3"}}
	err := suite.BatchInsertUsers(ctx, users)
	suite.NoError(err)
	err = suite.BatchInsertUsers(ctx, users)
	suite.NoError(err)

	user, err := suite.GetUser(ctx, "2")
	suite.NoError(err)
	suite.Equal("2", user.UserId)
	_, err = suite.GetUser(ctx, "4")
	suite.ErrorIs(errors.Cause(err), ErrUserNotExist)

	cursor, scanned, err := suite.GetUsers(ctx, "", 2)
	suite.NoError(err)
	suite.Equal("2", cursor)
	suite.Equal(users[:2], scanned)
	cursor, scanned, err = suite.GetUsers(ctx, cursor, 2)
	suite.NoError(err)
	suite.Empty(cursor)
	suite.Equal(users[2:], scanned)
}

func (suite *SQLiteTestSuite) TestInventory() {
	ctx := context.Background()
	acquired := time.Date(2014, 1, 2, 15, 4, 5, 0, time.UTC)
	dropped := acquired.AddDate(0, 1, 0)
	err := suite.BatchInsertUsers(ctx, []User{{UserId: "a"}, {UserId: "b"}})
	suite.NoError(err)
	err = suite.BatchInsertItems(ctx, []Item{{ItemId: "1"}, {ItemId: "2"}})
	suite.NoError(err)
	entries := []Inventory{
		{UserId: "a", ItemId: "1", AcquisitionDate: acquired},
		{UserId: "a", ItemId: "2", AcquisitionDate: acquired, DroppedDate: &dropped},
		{UserId: "b", ItemId: "1", AcquisitionDate: acquired},
	}
	err = suite.BatchUpsertInventory(ctx, entries)
	suite.NoError(err)

	inventory, err := suite.GetUserInventory(ctx, "a")
	suite.NoError(err)
	suite.Len(inventory, 2)
	suite.False(inventory[0].Dropped())
	suite.True(inventory[1].Dropped())

	// upsert replaces dates
	newDrop := dropped.AddDate(0, 1, 0)
	err = suite.BatchUpsertInventory(ctx, []Inventory{
		{UserId: "a", ItemId: "1", AcquisitionDate: acquired, DroppedDate: &newDrop},
	})
	suite.NoError(err)
	entry, err := suite.GetInventory(ctx, "a", "1")
	suite.NoError(err)
	suite.True(entry.Dropped())
	suite.True(entry.DroppedDate.Equal(newDrop))

	// popularity counts ignore dropped entries
	counts, err := suite.CountAcquisitions(ctx)
	suite.NoError(err)
	suite.Equal(map[string]int{"1": 1}, counts)

	// stream covers every entry
	entryChan, errChan := suite.GetInventoryStream(ctx, 2)
	var streamed []Inventory
	for batch := range entryChan {
		streamed = append(streamed, batch...)
	}
	suite.NoError(<-errChan)
	suite.Len(streamed, 3)
}

func (suite *SQLiteTestSuite) TestGenres() {
	ctx := context.Background()
	err := suite.BatchInsertGenres(ctx, []Genre{{Name: "games"}, {Name: "productivity"}})
	suite.NoError(err)
	err = suite.BatchInsertGenres(ctx, []Genre{{Name: "games"}, {Name: "social"}})
	suite.NoError(err)
	genres, err := suite.GetGenres(ctx, []string{"games", "social", "unknown"})
	suite.NoError(err)
	suite.ElementsMatch([]Genre{{Name: "games"}, {Name: "social"}}, genres)

	err = suite.BatchInsertItemGenres(ctx, []ItemGenre{
		{ItemId: "1", Genre: "games"},
		{ItemId: "1", Genre: "social"},
		{ItemId: "2", Genre: "games"},
	})
	suite.NoError(err)
	// duplicate links are ignored
	err = suite.BatchInsertItemGenres(ctx, []ItemGenre{{ItemId: "1", Genre: "games"}})
	suite.NoError(err)
	itemGenres, err := suite.GetItemGenres(ctx, []string{"1", "2"})
	suite.NoError(err)
	suite.Equal(map[string][]string{
		"1": {"games", "social"},
		"2": {"games"},
	}, itemGenres)
}

func (suite *SQLiteTestSuite) TestLocales() {
	ctx := context.Background()
	err := suite.BatchInsertLocales(ctx, []Locale{
		{LanguageCode: "EN", CountryCode: "US"},
		{LanguageCode: "pt"},
	})
	suite.NoError(err)
	locales, err := suite.GetLocales(ctx)
	suite.NoError(err)
	suite.Equal([]string{"en-us", "pt"}, lo.Map(locales, func(l Locale, _ int) string {
		return l.String()
	}))

	err = suite.BatchInsertItemLocales(ctx, []ItemLocale{
		{ItemId: "1", LanguageCode: "en", CountryCode: "us"},
		{ItemId: "1", LanguageCode: "pt"},
		{ItemId: "2", LanguageCode: "pt"},
	})
	suite.NoError(err)
	itemLocales, err := suite.GetItemLocales(ctx, []string{"1", "2"})
	suite.NoError(err)
	suite.Equal(map[string][]string{
		"1": {"en-us", "pt"},
		"2": {"pt"},
	}, itemLocales)

	err = suite.BatchInsertUserLocales(ctx, []UserLocale{
		{UserId: "a", LanguageCode: "pt"},
	})
	suite.NoError(err)
	userLocales, err := suite.GetUserLocales(ctx, "a")
	suite.NoError(err)
	suite.Equal([]Locale{{LanguageCode: "pt"}}, userLocales)
	userLocales, err = suite.GetUserLocales(ctx, "b")
	suite.NoError(err)
	suite.Empty(userLocales)
}

func (suite *SQLiteTestSuite) TestModules() {
	ctx := context.Background()
	module := Module{
		Name: "marketplace",
		Predictors: []PredictorConfig{
			{Name: "pop", Kind: "popularity", Weight: lo.ToPtr(0.7)},
			{Name: "new", Kind: "recency", Weight: lo.ToPtr(0.3), Params: map[string]any{"half_life_days": float64(30)}},
		},
		Filters:   []StageConfig{{Kind: "owned"}, {Kind: "locale"}},
		Rerankers: []StageConfig{{Kind: "genre_diversity", Params: map[string]any{"window": float64(3)}}},
	}
	err := suite.PutModule(ctx, module)
	suite.NoError(err)
	loaded, err := suite.GetModule(ctx, "marketplace")
	suite.NoError(err)
	suite.Equal(module, loaded)

	// replace configuration
	module.Predictors = module.Predictors[:1]
	module.Rerankers = nil
	err = suite.PutModule(ctx, module)
	suite.NoError(err)
	loaded, err = suite.GetModule(ctx, "marketplace")
	suite.NoError(err)
	suite.Len(loaded.Predictors, 1)
	suite.Empty(loaded.Rerankers)

	modules, err := suite.GetModules(ctx)
	suite.NoError(err)
	suite.Len(modules, 1)

	err = suite.DeleteModule(ctx, "marketplace")
	suite.NoError(err)
	_, err = suite.GetModule(ctx, "marketplace")
	suite.ErrorIs(errors.Cause(err), ErrModuleNotExist)
}

func (suite *SQLiteTestSuite) TestBatchChunking() {
	ctx := context.Background()
	// enough rows to span multiple statements under the SQLite row cap
	items := make([]Item, 0, 2*sqliteMaxRows+100)
	for i := 0; i < cap(items); i++ {
		items = append(items, Item{ItemId: fmt.Sprintf("%04d", i), Name: fmt.Sprintf("item %d", i)})
	}
	err := suite.BatchInsertItems(ctx, items)
	suite.NoError(err)

	itemIds := lo.Map(items, func(item Item, _ int) string { return item.ItemId })
	batch, err := suite.BatchGetItems(ctx, itemIds)
	suite.NoError(err)
	suite.Len(batch, len(items))

	// scan back through the cursor to count the rows independently
	var scanned int
	cursor := ""
	for {
		next, page, err := suite.GetItems(ctx, cursor, 700)
		suite.NoError(err)
		scanned += len(page)
		if next == "" {
			break
		}
		cursor = next
	}
	suite.Equal(len(items), scanned)

	// a multi-chunk upsert replaces names in every chunk
	for i := range items {
		items[i].Name = fmt.Sprintf("renamed %d", i)
	}
	err = suite.BatchInsertItems(ctx, items)
	suite.NoError(err)
	item, err := suite.GetItem(ctx, items[0].ItemId)
	suite.NoError(err)
	suite.Equal("renamed 0", item.Name)
	item, err = suite.GetItem(ctx, items[len(items)-1].ItemId)
	suite.NoError(err)
	suite.Equal(fmt.Sprintf("renamed %d", len(items)-1), item.Name)
}

func TestSQLite(t *testing.T) {
	suite.Run(t, new(SQLiteTestSuite))
}

func TestParseLocale(t *testing.T) {
	locale, err := ParseLocale("EN-US")
	assert.NoError(t, err)
	assert.Equal(t, "en-us", locale.String())
	locale, err = ParseLocale("pt")
	assert.NoError(t, err)
	assert.Equal(t, "pt", locale.String())
	_, err = ParseLocale("english-US")
	assert.Error(t, err)
	_, err = ParseLocale("en-USA")
	assert.Error(t, err)
	_, err = ParseLocale("")
	assert.Error(t, err)
}
