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
	"database/sql"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/frappe-io/frappe/storage"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SQLDriver int

const (
	MySQL SQLDriver = iota
	Postgres
	SQLite
)

// SQLite rejects statements beyond its host-parameter limit, so batches stay
// well under it. Other vendors take larger statements.
const (
	sqliteMaxRows  = 950
	defaultMaxRows = 1000
)

type SQLItem struct {
	ItemId string `gorm:"column:item_id;type:varchar(256);not null;primaryKey"`
	Name   string `gorm:"column:name;type:varchar(256);not null"`
}

type SQLUser struct {
	UserId string `gorm:"column:user_id;type:varchar(256);not null;primaryKey"`
}

type SQLInventory struct {
	UserId          string     `gorm:"column:user_id;type:varchar(256);not null;primaryKey"`
	ItemId          string     `gorm:"column:item_id;type:varchar(256);not null;primaryKey;index:idx_inventory_item"`
	AcquisitionDate time.Time  `gorm:"column:acquisition_date;not null"`
	DroppedDate     *time.Time `gorm:"column:dropped_date"`
}

type SQLGenre struct {
	Name string `gorm:"column:name;type:varchar(256);not null;primaryKey"`
}

type SQLItemGenre struct {
	ItemId string `gorm:"column:item_id;type:varchar(256);not null;primaryKey"`
	Genre  string `gorm:"column:genre;type:varchar(256);not null;primaryKey"`
}

type SQLLocale struct {
	LanguageCode string `gorm:"column:language_code;type:varchar(2);not null;primaryKey"`
	CountryCode  string `gorm:"column:country_code;type:varchar(2);not null;primaryKey"`
	Name         string `gorm:"column:name;type:varchar(256);not null"`
}

type SQLItemLocale struct {
	ItemId       string `gorm:"column:item_id;type:varchar(256);not null;primaryKey"`
	LanguageCode string `gorm:"column:language_code;type:varchar(2);not null;primaryKey"`
	CountryCode  string `gorm:"column:country_code;type:varchar(2);not null;primaryKey"`
}

type SQLUserLocale struct {
	UserId       string `gorm:"column:user_id;type:varchar(256);not null;primaryKey"`
	LanguageCode string `gorm:"column:language_code;type:varchar(2);not null;primaryKey"`
	CountryCode  string `gorm:"column:country_code;type:varchar(2);not null;primaryKey"`
}

type SQLModule struct {
	Name string `gorm:"column:name;type:varchar(256);not null;primaryKey"`
}

type SQLModulePredictor struct {
	Module   string         `gorm:"column:module;type:varchar(256);not null;primaryKey"`
	Name     string         `gorm:"column:name;type:varchar(256);not null;primaryKey"`
	Position int            `gorm:"column:position;not null"`
	Kind     string         `gorm:"column:kind;type:varchar(256);not null"`
	Params   map[string]any `gorm:"column:params;type:text;serializer:json"`
	Weight   *float64       `gorm:"column:weight"`
}

type SQLModuleFilter struct {
	Module   string         `gorm:"column:module;type:varchar(256);not null;primaryKey"`
	Position int            `gorm:"column:position;not null;primaryKey"`
	Kind     string         `gorm:"column:kind;type:varchar(256);not null"`
	Params   map[string]any `gorm:"column:params;type:text;serializer:json"`
}

type SQLModuleReranker struct {
	Module   string         `gorm:"column:module;type:varchar(256);not null;primaryKey"`
	Position int            `gorm:"column:position;not null;primaryKey"`
	Kind     string         `gorm:"column:kind;type:varchar(256);not null"`
	Params   map[string]any `gorm:"column:params;type:text;serializer:json"`
}

// SQLDatabase stores all frappe entities in a relational database via GORM.
type SQLDatabase struct {
	storage.TablePrefix
	gormDB *gorm.DB
	client *sql.DB
	driver SQLDriver
}

// maxBatchRows is the per-statement row cap for batch writes and IN lists.
func (d *SQLDatabase) maxBatchRows() int {
	if d.driver == SQLite {
		return sqliteMaxRows
	}
	return defaultMaxRows
}

// Init creates tables and indices.
func (d *SQLDatabase) Init() error {
	err := d.gormDB.AutoMigrate(
		SQLItem{}, SQLUser{}, SQLInventory{},
		SQLGenre{}, SQLItemGenre{},
		SQLLocale{}, SQLItemLocale{}, SQLUserLocale{},
		SQLModule{}, SQLModulePredictor{}, SQLModuleFilter{}, SQLModuleReranker{})
	return errors.Trace(err)
}

func (d *SQLDatabase) Ping() error {
	return d.client.Ping()
}

func (d *SQLDatabase) Close() error {
	return d.client.Close()
}

// Purge removes all rows from all tables.
func (d *SQLDatabase) Purge() error {
	tables := []string{
		d.ModuleRerankersTable(), d.ModuleFiltersTable(), d.ModulePredictorsTable(), d.ModulesTable(),
		d.UserLocalesTable(), d.ItemLocalesTable(), d.LocalesTable(),
		d.ItemGenresTable(), d.GenresTable(),
		d.InventoryTable(), d.UsersTable(), d.ItemsTable(),
	}
	for _, table := range tables {
		if err := d.gormDB.Exec("DELETE FROM " + table).Error; err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (d *SQLDatabase) BatchInsertItems(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	rows := lo.Map(items, func(item Item, _ int) SQLItem {
		return SQLItem{ItemId: item.ItemId, Name: item.Name}
	})
	for _, batch := range lo.Chunk(rows, d.maxBatchRows()) {
		err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name"}),
		}).Create(batch).Error
		if err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (d *SQLDatabase) BatchGetItems(ctx context.Context, itemIds []string) ([]Item, error) {
	if len(itemIds) == 0 {
		return nil, nil
	}
	var items []Item
	for _, batch := range lo.Chunk(itemIds, d.maxBatchRows()) {
		var rows []SQLItem
		err := d.gormDB.WithContext(ctx).
			Where("item_id IN ?", batch).
			Find(&rows).Error
		if err != nil {
			return nil, errors.Trace(err)
		}
		for _, row := range rows {
			items = append(items, Item{ItemId: row.ItemId, Name: row.Name})
		}
	}
	return items, nil
}

func (d *SQLDatabase) GetItem(ctx context.Context, itemId string) (Item, error) {
	var row SQLItem
	err := d.gormDB.WithContext(ctx).Where("item_id = ?", itemId).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Item{}, errors.Annotate(ErrItemNotExist, itemId)
		}
		return Item{}, errors.Trace(err)
	}
	return Item{ItemId: row.ItemId, Name: row.Name}, nil
}

func (d *SQLDatabase) GetItems(ctx context.Context, cursor string, n int) (string, []Item, error) {
	var rows []SQLItem
	err := d.gormDB.WithContext(ctx).
		Where("item_id > ?", cursor).
		Order("item_id").Limit(n + 1).
		Find(&rows).Error
	if err != nil {
		return "", nil, errors.Trace(err)
	}
	var next string
	if len(rows) > n {
		rows = rows[:n]
		next = rows[n-1].ItemId
	}
	items := lo.Map(rows, func(row SQLItem, _ int) Item {
		return Item{ItemId: row.ItemId, Name: row.Name}
	})
	return next, items, nil
}

func (d *SQLDatabase) BatchInsertUsers(ctx context.Context, users []User) error {
	if len(users) == 0 {
		return nil
	}
	rows := lo.Map(users, func(user User, _ int) SQLUser {
		return SQLUser{UserId: user.UserId}
	})
	for _, batch := range lo.Chunk(rows, d.maxBatchRows()) {
		err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).Create(batch).Error
		if err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (d *SQLDatabase) GetUser(ctx context.Context, userId string) (User, error) {
	var row SQLUser
	err := d.gormDB.WithContext(ctx).Where("user_id = ?", userId).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, errors.Annotate(ErrUserNotExist, userId)
		}
		return User{}, errors.Trace(err)
	}
	return User{UserId: row.UserId}, nil
}

func (d *SQLDatabase) GetUsers(ctx context.Context, cursor string, n int) (string, []User, error) {
	var rows []SQLUser
	err := d.gormDB.WithContext(ctx).
		Where("user_id > ?", cursor).
		Order("user_id").Limit(n + 1).
		Find(&rows).Error
	if err != nil {
		return "", nil, errors.Trace(err)
	}
	var next string
	if len(rows) > n {
		rows = rows[:n]
		next = rows[n-1].UserId
	}
	users := lo.Map(rows, func(row SQLUser, _ int) User {
		return User{UserId: row.UserId}
	})
	return next, users, nil
}

// BatchUpsertInventory inserts inventory entries, replacing acquisition and
// dropped dates of entries that already exist.
func (d *SQLDatabase) BatchUpsertInventory(ctx context.Context, entries []Inventory) error {
	if len(entries) == 0 {
		return nil
	}
	rows := lo.Map(entries, func(entry Inventory, _ int) SQLInventory {
		return SQLInventory{
			UserId:          entry.UserId,
			ItemId:          entry.ItemId,
			AcquisitionDate: entry.AcquisitionDate,
			DroppedDate:     entry.DroppedDate,
		}
	})
	for _, batch := range lo.Chunk(rows, d.maxBatchRows()) {
		err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"acquisition_date", "dropped_date"}),
		}).Create(batch).Error
		if err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (d *SQLDatabase) GetInventory(ctx context.Context, userId, itemId string) (Inventory, error) {
	var row SQLInventory
	err := d.gormDB.WithContext(ctx).
		Where("user_id = ? AND item_id = ?", userId, itemId).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Inventory{}, errors.Annotate(ErrItemNotExist, itemId)
		}
		return Inventory{}, errors.Trace(err)
	}
	return Inventory{
		UserId:          row.UserId,
		ItemId:          row.ItemId,
		AcquisitionDate: row.AcquisitionDate,
		DroppedDate:     row.DroppedDate,
	}, nil
}

func (d *SQLDatabase) GetUserInventory(ctx context.Context, userId string) ([]Inventory, error) {
	var rows []SQLInventory
	err := d.gormDB.WithContext(ctx).
		Where("user_id = ?", userId).
		Order("item_id").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(row SQLInventory, _ int) Inventory {
		return Inventory{
			UserId:          row.UserId,
			ItemId:          row.ItemId,
			AcquisitionDate: row.AcquisitionDate,
			DroppedDate:     row.DroppedDate,
		}
	}), nil
}

// CountAcquisitions returns, per item, the number of users currently holding it.
func (d *SQLDatabase) CountAcquisitions(ctx context.Context) (map[string]int, error) {
	var results []struct {
		ItemId string
		Count  int
	}
	err := d.gormDB.WithContext(ctx).
		Table(d.InventoryTable()).
		Select("item_id, COUNT(*) AS count").
		Where("dropped_date IS NULL").
		Group("item_id").
		Scan(&results).Error
	if err != nil {
		return nil, errors.Trace(err)
	}
	counts := make(map[string]int, len(results))
	for _, result := range results {
		counts[result.ItemId] = result.Count
	}
	return counts, nil
}

// GetInventoryStream reads the whole inventory in batches through a channel.
func (d *SQLDatabase) GetInventoryStream(ctx context.Context, batchSize int) (chan []Inventory, chan error) {
	entryChan := make(chan []Inventory, 1)
	errChan := make(chan error, 1)
	go func() {
		defer close(entryChan)
		defer close(errChan)
		var lastUser, lastItem string
		for {
			var rows []SQLInventory
			err := d.gormDB.WithContext(ctx).
				Where("user_id > ? OR (user_id = ? AND item_id > ?)", lastUser, lastUser, lastItem).
				Order("user_id, item_id").Limit(batchSize).
				Find(&rows).Error
			if err != nil {
				errChan <- errors.Trace(err)
				return
			}
			if len(rows) == 0 {
				return
			}
			entryChan <- lo.Map(rows, func(row SQLInventory, _ int) Inventory {
				return Inventory{
					UserId:          row.UserId,
					ItemId:          row.ItemId,
					AcquisitionDate: row.AcquisitionDate,
					DroppedDate:     row.DroppedDate,
				}
			})
			lastUser = rows[len(rows)-1].UserId
			lastItem = rows[len(rows)-1].ItemId
		}
	}()
	return entryChan, errChan
}

func (d *SQLDatabase) BatchInsertGenres(ctx context.Context, genres []Genre) error {
	if len(genres) == 0 {
		return nil
	}
	rows := lo.Map(genres, func(genre Genre, _ int) SQLGenre {
		return SQLGenre{Name: genre.Name}
	})
	for _, batch := range lo.Chunk(rows, d.maxBatchRows()) {
		err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).Create(batch).Error
		if err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (d *SQLDatabase) GetGenres(ctx context.Context, names []string) ([]Genre, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var genres []Genre
	for _, batch := range lo.Chunk(names, d.maxBatchRows()) {
		var rows []SQLGenre
		err := d.gormDB.WithContext(ctx).Where("name IN ?", batch).Find(&rows).Error
		if err != nil {
			return nil, errors.Trace(err)
		}
		for _, row := range rows {
			genres = append(genres, Genre{Name: row.Name})
		}
	}
	return genres, nil
}

func (d *SQLDatabase) BatchInsertItemGenres(ctx context.Context, itemGenres []ItemGenre) error {
	if len(itemGenres) == 0 {
		return nil
	}
	rows := lo.Map(itemGenres, func(itemGenre ItemGenre, _ int) SQLItemGenre {
		return SQLItemGenre{ItemId: itemGenre.ItemId, Genre: itemGenre.Genre}
	})
	for _, batch := range lo.Chunk(rows, d.maxBatchRows()) {
		err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "item_id"}, {Name: "genre"}},
			DoNothing: true,
		}).Create(batch).Error
		if err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (d *SQLDatabase) GetItemGenres(ctx context.Context, itemIds []string) (map[string][]string, error) {
	genres := make(map[string][]string)
	for _, batch := range lo.Chunk(itemIds, d.maxBatchRows()) {
		var rows []SQLItemGenre
		err := d.gormDB.WithContext(ctx).
			Where("item_id IN ?", batch).
			Order("item_id, genre").
			Find(&rows).Error
		if err != nil {
			return nil, errors.Trace(err)
		}
		for _, row := range rows {
			genres[row.ItemId] = append(genres[row.ItemId], row.Genre)
		}
	}
	return genres, nil
}

func (d *SQLDatabase) BatchInsertLocales(ctx context.Context, locales []Locale) error {
	if len(locales) == 0 {
		return nil
	}
	rows := lo.Map(locales, func(locale Locale, _ int) SQLLocale {
		return SQLLocale{
			LanguageCode: strings.ToLower(locale.LanguageCode),
			CountryCode:  strings.ToLower(locale.CountryCode),
			Name:         locale.Name,
		}
	})
	for _, batch := range lo.Chunk(rows, d.maxBatchRows()) {
		err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "language_code"}, {Name: "country_code"}},
			DoNothing: true,
		}).Create(batch).Error
		if err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (d *SQLDatabase) GetLocales(ctx context.Context) ([]Locale, error) {
	var rows []SQLLocale
	err := d.gormDB.WithContext(ctx).
		Order("language_code, country_code").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(row SQLLocale, _ int) Locale {
		return Locale{LanguageCode: row.LanguageCode, CountryCode: row.CountryCode, Name: row.Name}
	}), nil
}

func (d *SQLDatabase) BatchInsertItemLocales(ctx context.Context, itemLocales []ItemLocale) error {
	if len(itemLocales) == 0 {
		return nil
	}
	rows := lo.Map(itemLocales, func(itemLocale ItemLocale, _ int) SQLItemLocale {
		return SQLItemLocale{
			ItemId:       itemLocale.ItemId,
			LanguageCode: strings.ToLower(itemLocale.LanguageCode),
			CountryCode:  strings.ToLower(itemLocale.CountryCode),
		}
	})
	for _, batch := range lo.Chunk(rows, d.maxBatchRows()) {
		err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "item_id"}, {Name: "language_code"}, {Name: "country_code"}},
			DoNothing: true,
		}).Create(batch).Error
		if err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (d *SQLDatabase) BatchInsertUserLocales(ctx context.Context, userLocales []UserLocale) error {
	if len(userLocales) == 0 {
		return nil
	}
	rows := lo.Map(userLocales, func(userLocale UserLocale, _ int) SQLUserLocale {
		return SQLUserLocale{
			UserId:       userLocale.UserId,
			LanguageCode: strings.ToLower(userLocale.LanguageCode),
			CountryCode:  strings.ToLower(userLocale.CountryCode),
		}
	})
	for _, batch := range lo.Chunk(rows, d.maxBatchRows()) {
		err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "language_code"}, {Name: "country_code"}},
			DoNothing: true,
		}).Create(batch).Error
		if err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (d *SQLDatabase) GetItemLocales(ctx context.Context, itemIds []string) (map[string][]string, error) {
	locales := make(map[string][]string)
	for _, batch := range lo.Chunk(itemIds, d.maxBatchRows()) {
		var rows []SQLItemLocale
		err := d.gormDB.WithContext(ctx).
			Where("item_id IN ?", batch).
			Order("item_id, language_code, country_code").
			Find(&rows).Error
		if err != nil {
			return nil, errors.Trace(err)
		}
		for _, row := range rows {
			locale := Locale{LanguageCode: row.LanguageCode, CountryCode: row.CountryCode}
			locales[row.ItemId] = append(locales[row.ItemId], locale.String())
		}
	}
	return locales, nil
}

func (d *SQLDatabase) GetUserLocales(ctx context.Context, userId string) ([]Locale, error) {
	var rows []SQLUserLocale
	err := d.gormDB.WithContext(ctx).
		Where("user_id = ?", userId).
		Order("language_code, country_code").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(row SQLUserLocale, _ int) Locale {
		return Locale{LanguageCode: row.LanguageCode, CountryCode: row.CountryCode}
	}), nil
}

// PutModule replaces the stored configuration of a module in one transaction.
func (d *SQLDatabase) PutModule(ctx context.Context, module Module) error {
	return errors.Trace(d.gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := d.deleteModuleRows(tx, module.Name); err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).Create(&SQLModule{Name: module.Name}).Error; err != nil {
			return errors.Trace(err)
		}
		if len(module.Predictors) > 0 {
			rows := lo.Map(module.Predictors, func(predictor PredictorConfig, position int) SQLModulePredictor {
				return SQLModulePredictor{
					Module:   module.Name,
					Name:     predictor.Name,
					Position: position,
					Kind:     predictor.Kind,
					Params:   predictor.Params,
					Weight:   predictor.Weight,
				}
			})
			if err := tx.Create(rows).Error; err != nil {
				return errors.Trace(err)
			}
		}
		if len(module.Filters) > 0 {
			rows := lo.Map(module.Filters, func(filter StageConfig, position int) SQLModuleFilter {
				return SQLModuleFilter{
					Module:   module.Name,
					Position: position,
					Kind:     filter.Kind,
					Params:   filter.Params,
				}
			})
			if err := tx.Create(rows).Error; err != nil {
				return errors.Trace(err)
			}
		}
		if len(module.Rerankers) > 0 {
			rows := lo.Map(module.Rerankers, func(reranker StageConfig, position int) SQLModuleReranker {
				return SQLModuleReranker{
					Module:   module.Name,
					Position: position,
					Kind:     reranker.Kind,
					Params:   reranker.Params,
				}
			})
			if err := tx.Create(rows).Error; err != nil {
				return errors.Trace(err)
			}
		}
		return nil
	}))
}

func (d *SQLDatabase) GetModule(ctx context.Context, name string) (Module, error) {
	var row SQLModule
	err := d.gormDB.WithContext(ctx).Where("name = ?", name).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Module{}, errors.Annotate(ErrModuleNotExist, name)
		}
		return Module{}, errors.Trace(err)
	}
	module := Module{Name: row.Name}
	var predictors []SQLModulePredictor
	if err = d.gormDB.WithContext(ctx).
		Where("module = ?", name).Order("position").
		Find(&predictors).Error; err != nil {
		return Module{}, errors.Trace(err)
	}
	module.Predictors = lo.Map(predictors, func(row SQLModulePredictor, _ int) PredictorConfig {
		return PredictorConfig{Name: row.Name, Kind: row.Kind, Params: row.Params, Weight: row.Weight}
	})
	var filters []SQLModuleFilter
	if err = d.gormDB.WithContext(ctx).
		Where("module = ?", name).Order("position").
		Find(&filters).Error; err != nil {
		return Module{}, errors.Trace(err)
	}
	module.Filters = lo.Map(filters, func(row SQLModuleFilter, _ int) StageConfig {
		return StageConfig{Kind: row.Kind, Params: row.Params}
	})
	var rerankers []SQLModuleReranker
	if err = d.gormDB.WithContext(ctx).
		Where("module = ?", name).Order("position").
		Find(&rerankers).Error; err != nil {
		return Module{}, errors.Trace(err)
	}
	module.Rerankers = lo.Map(rerankers, func(row SQLModuleReranker, _ int) StageConfig {
		return StageConfig{Kind: row.Kind, Params: row.Params}
	})
	return module, nil
}

func (d *SQLDatabase) GetModules(ctx context.Context) ([]Module, error) {
	var rows []SQLModule
	err := d.gormDB.WithContext(ctx).Order("name").Find(&rows).Error
	if err != nil {
		return nil, errors.Trace(err)
	}
	modules := make([]Module, 0, len(rows))
	for _, row := range rows {
		module, err := d.GetModule(ctx, row.Name)
		if err != nil {
			return nil, errors.Trace(err)
		}
		modules = append(modules, module)
	}
	return modules, nil
}

func (d *SQLDatabase) DeleteModule(ctx context.Context, name string) error {
	return errors.Trace(d.gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := d.deleteModuleRows(tx, name); err != nil {
			return err
		}
		return errors.Trace(tx.Delete(&SQLModule{Name: name}).Error)
	}))
}

func (d *SQLDatabase) deleteModuleRows(tx *gorm.DB, name string) error {
	if err := tx.Where("module = ?", name).Delete(&SQLModulePredictor{}).Error; err != nil {
		return errors.Trace(err)
	}
	if err := tx.Where("module = ?", name).Delete(&SQLModuleFilter{}).Error; err != nil {
		return errors.Trace(err)
	}
	if err := tx.Where("module = ?", name).Delete(&SQLModuleReranker{}).Error; err != nil {
		return errors.Trace(err)
	}
	return nil
}
