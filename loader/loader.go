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

// Package loader bulk-loads item, user and inventory records from JSON
// document dumps into the relational store.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/frappe-io/frappe/base/log"
	"github.com/frappe-io/frappe/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// FieldMapping names the JSON fields the loader reads. Every dump format has
// its own field names, so all of them are configurable.
type FieldMapping struct {
	// ItemFileIdentifier marks a document as an item document.
	ItemFileIdentifier string
	// ItemField holds the item's external id.
	ItemField string
	// ItemGenresField holds the item's genres, a string or array of strings.
	ItemGenresField string
	// ItemLocalesField holds the item's locales, a string or array of strings.
	ItemLocalesField string
	// UserFileIdentifier marks a document as a user document.
	UserFileIdentifier string
	// UserField holds the user's external id.
	UserField string
	// UserItemsField holds the user's inventory array.
	UserItemsField string
	// UserItemIdentifier holds the item id inside an inventory entry.
	UserItemIdentifier string
	// UserItemAcquired holds the acquisition date inside an inventory entry.
	UserItemAcquired string
	// UserItemDropped holds the optional dropped date inside an inventory entry.
	UserItemDropped string
	// DateFormat is the reference layout of inventory dates.
	DateFormat string
}

// DefaultFieldMapping returns the generic field names.
func DefaultFieldMapping() FieldMapping {
	return FieldMapping{
		ItemFileIdentifier: "item",
		ItemField:          "external_id",
		ItemGenresField:    "genres",
		ItemLocalesField:   "locales",
		UserFileIdentifier: "user",
		UserField:          "external_id",
		UserItemsField:     "items",
		UserItemIdentifier: "external_id",
		UserItemAcquired:   "acquired",
		UserItemDropped:    "dropped",
		DateFormat:         "2006-01-02T15:04:05",
	}
}

// MozillaFieldMapping returns the field names of the Firefox Marketplace
// dumped-apps format.
func MozillaFieldMapping() FieldMapping {
	return FieldMapping{
		ItemFileIdentifier: "app_type",
		ItemField:          "id",
		ItemGenresField:    "categories",
		ItemLocalesField:   "supported_locales",
		UserFileIdentifier: "user",
		UserField:          "user",
		UserItemsField:     "installed_apps",
		UserItemIdentifier: "id",
		UserItemAcquired:   "installed",
		UserItemDropped:    "dropped",
		DateFormat:         "2006-01-02T15:04:05",
	}
}

// Stats summarizes one load run.
type Stats struct {
	Files        int
	Documents    int
	NewItems     int
	Genres       int
	Locales      int
	// Users counts loaded user documents, whether or not their rows existed.
	Users        int
	Inventory    int
	SkippedItems int
}

// Loader fills the store from a directory tree or tarball of JSON documents.
type Loader struct {
	store   data.Database
	mapping FieldMapping
	// Progress enables a terminal progress bar.
	Progress bool
}

func NewLoader(store data.Database, mapping FieldMapping) *Loader {
	return &Loader{store: store, mapping: mapping}
}

// LoadItems loads item documents from path, creating missing genre and locale
// rows and linking them to the items.
func (l *Loader) LoadItems(ctx context.Context, path string) (Stats, error) {
	var stats Stats
	documents, err := l.readDocuments(path, l.mapping.ItemFileIdentifier, &stats)
	if err != nil {
		return stats, errors.Trace(err)
	}
	// dedupe by external id, last document wins
	items := make(map[string]map[string]any, len(documents))
	for _, document := range documents {
		itemId := asString(document[l.mapping.ItemField])
		if itemId == "" {
			continue
		}
		items[itemId] = document
	}
	existing, err := l.store.BatchGetItems(ctx, lo.Keys(items))
	if err != nil {
		return stats, errors.Trace(err)
	}
	known := mapset.NewThreadUnsafeSet[string]()
	for _, item := range existing {
		known.Add(item.ItemId)
	}
	var newItems []data.Item
	genres := mapset.NewThreadUnsafeSet[string]()
	locales := make(map[string]data.Locale)
	var itemGenres []data.ItemGenre
	var itemLocales []data.ItemLocale
	bar := l.progressBar(len(items), "items")
	for itemId, document := range items {
		_ = bar.Add(1)
		if !known.Contains(itemId) {
			newItems = append(newItems, data.Item{ItemId: itemId, Name: itemName(document)})
		}
		for _, genre := range stringList(document[l.mapping.ItemGenresField]) {
			genres.Add(genre)
			itemGenres = append(itemGenres, data.ItemGenre{ItemId: itemId, Genre: genre})
		}
		for _, s := range stringList(document[l.mapping.ItemLocalesField]) {
			locale, err := data.ParseLocale(s)
			if err != nil {
				log.Logger().Warn("dropped locale for not respecting format xx-xx or xx",
					zap.String("locale", s), zap.String("item_id", itemId))
				continue
			}
			locales[locale.String()] = locale
			itemLocales = append(itemLocales, data.ItemLocale{
				ItemId:       itemId,
				LanguageCode: locale.LanguageCode,
				CountryCode:  locale.CountryCode,
			})
		}
	}
	if err = l.store.BatchInsertItems(ctx, newItems); err != nil {
		return stats, errors.Trace(err)
	}
	genreRows := lo.Map(genres.ToSlice(), func(name string, _ int) data.Genre {
		return data.Genre{Name: name}
	})
	if err = l.store.BatchInsertGenres(ctx, genreRows); err != nil {
		return stats, errors.Trace(err)
	}
	if err = l.store.BatchInsertLocales(ctx, lo.Values(locales)); err != nil {
		return stats, errors.Trace(err)
	}
	if err = l.store.BatchInsertItemGenres(ctx, itemGenres); err != nil {
		return stats, errors.Trace(err)
	}
	if err = l.store.BatchInsertItemLocales(ctx, itemLocales); err != nil {
		return stats, errors.Trace(err)
	}
	stats.NewItems = len(newItems)
	stats.Genres = genres.Cardinality()
	stats.Locales = len(locales)
	log.Logger().Info("loaded items",
		zap.Int("files", stats.Files),
		zap.Int("new_items", stats.NewItems),
		zap.Int("genres", stats.Genres),
		zap.Int("locales", stats.Locales))
	return stats, nil
}

// LoadUsers loads user documents from path and upserts their inventories.
// Inventory entries referencing unknown items are logged and skipped.
func (l *Loader) LoadUsers(ctx context.Context, path string) (Stats, error) {
	var stats Stats
	documents, err := l.readDocuments(path, l.mapping.UserFileIdentifier, &stats)
	if err != nil {
		return stats, errors.Trace(err)
	}
	users := make(map[string]map[string]any, len(documents))
	itemIds := mapset.NewThreadUnsafeSet[string]()
	for _, document := range documents {
		userId := asString(document[l.mapping.UserField])
		if userId == "" {
			continue
		}
		users[userId] = document
		for _, entry := range entryList(document[l.mapping.UserItemsField]) {
			itemIds.Add(asString(entry[l.mapping.UserItemIdentifier]))
		}
	}
	existing, err := l.store.BatchGetItems(ctx, itemIds.ToSlice())
	if err != nil {
		return stats, errors.Trace(err)
	}
	knownItems := mapset.NewThreadUnsafeSet[string]()
	for _, item := range existing {
		knownItems.Add(item.ItemId)
	}
	var inventory []data.Inventory
	bar := l.progressBar(len(users), "users")
	for userId, document := range users {
		_ = bar.Add(1)
		for _, entry := range entryList(document[l.mapping.UserItemsField]) {
			itemId := asString(entry[l.mapping.UserItemIdentifier])
			if !knownItems.Contains(itemId) {
				log.Logger().Warn("inventory item does not exist",
					zap.String("item_id", itemId), zap.String("user_id", userId))
				stats.SkippedItems++
				continue
			}
			acquired, err := time.Parse(l.mapping.DateFormat, asString(entry[l.mapping.UserItemAcquired]))
			if err != nil {
				return stats, errors.Annotatef(err, "user %q item %q", userId, itemId)
			}
			row := data.Inventory{UserId: userId, ItemId: itemId, AcquisitionDate: acquired}
			if raw, exist := entry[l.mapping.UserItemDropped]; exist {
				dropped, err := time.Parse(l.mapping.DateFormat, asString(raw))
				if err != nil {
					return stats, errors.Annotatef(err, "user %q item %q", userId, itemId)
				}
				row.DroppedDate = &dropped
			}
			inventory = append(inventory, row)
		}
	}
	userRows := lo.Map(lo.Keys(users), func(userId string, _ int) data.User {
		return data.User{UserId: userId}
	})
	if err = l.store.BatchInsertUsers(ctx, userRows); err != nil {
		return stats, errors.Trace(err)
	}
	if err = l.store.BatchUpsertInventory(ctx, inventory); err != nil {
		return stats, errors.Trace(err)
	}
	stats.Users = len(userRows)
	stats.Inventory = len(inventory)
	log.Logger().Info("loaded users",
		zap.Int("files", stats.Files),
		zap.Int("users", stats.Users),
		zap.Int("inventory", stats.Inventory),
		zap.Int("skipped_items", stats.SkippedItems))
	return stats, nil
}

// readDocuments walks path (a directory or a tarball) and decodes every JSON
// file, keeping the documents that carry the identifier field.
func (l *Loader) readDocuments(path, identifier string, stats *Stats) ([]map[string]any, error) {
	if strings.HasSuffix(path, ".tgz") || strings.HasSuffix(path, ".tar.gz") {
		dir, err := extractArchive(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		defer func() {
			if err := os.RemoveAll(dir); err != nil {
				log.Logger().Warn("failed to remove temp dir", zap.Error(err))
			}
		}()
		path = dir
	}
	var documents []map[string]any
	err := filepath.WalkDir(path, func(name string, entry os.DirEntry, err error) error {
		if err != nil {
			return errors.Trace(err)
		}
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(name), ".json") {
			return nil
		}
		file, err := os.Open(name)
		if err != nil {
			return errors.Trace(err)
		}
		defer file.Close()
		stats.Files++
		decoder := json.NewDecoder(file)
		decoder.UseNumber()
		var document map[string]any
		if err = decoder.Decode(&document); err != nil {
			return errors.Annotatef(err, "file %q", name)
		}
		stats.Documents++
		if _, exist := document[identifier]; exist {
			documents = append(documents, document)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return documents, nil
}

func (l *Loader) progressBar(total int, description string) *progressbar.ProgressBar {
	if !l.Progress {
		return progressbar.DefaultSilent(int64(total), description)
	}
	return progressbar.Default(int64(total), description)
}

// itemName resolves the item display name: a localized name map is resolved
// through the document's default locale, a plain string is used as is, and
// anything else falls back to "NO NAME".
func itemName(document map[string]any) string {
	switch name := document["name"].(type) {
	case map[string]any:
		if localized, exist := name[asString(document["default_locale"])]; exist {
			return asString(localized)
		}
		return "NO NAME"
	case string:
		return name
	default:
		return "NO NAME"
	}
}

// asString coerces a decoded JSON value into the string form of an external
// id. Numeric ids keep their literal form thanks to json.Number decoding.
func asString(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case json.Number:
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}

// stringList accepts a string, an array of strings, or nothing.
func stringList(value any) []string {
	switch typed := value.(type) {
	case nil:
		return nil
	case string:
		return []string{typed}
	case []any:
		result := make([]string, 0, len(typed))
		for _, element := range typed {
			result = append(result, asString(element))
		}
		return result
	default:
		return nil
	}
}

// entryList accepts an array of JSON objects.
func entryList(value any) []map[string]any {
	array, ok := value.([]any)
	if !ok {
		return nil
	}
	result := make([]map[string]any, 0, len(array))
	for _, element := range array {
		if entry, ok := element.(map[string]any); ok {
			result = append(result, entry)
		}
	}
	return result
}
