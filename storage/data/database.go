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
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/frappe-io/frappe/base/log"
	"github.com/frappe-io/frappe/storage"
	"github.com/juju/errors"
	"github.com/samber/lo"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"moul.io/zapgorm2"
)

var (
	ErrUserNotExist   = errors.NotFoundf("user")
	ErrItemNotExist   = errors.NotFoundf("item")
	ErrModuleNotExist = errors.NotFoundf("module")
	ErrNoDatabase     = errors.NotAssignedf("database")
)

// Item is the catalog record for a recommendable item. The identifier is
// the external id carried by ingested JSON documents.
type Item struct {
	ItemId string `gorm:"primaryKey"`
	Name   string
}

// User stores meta data about user.
type User struct {
	UserId string `gorm:"primaryKey"`
}

// Inventory links a user to an acquired item.
type Inventory struct {
	UserId          string `gorm:"primaryKey"`
	ItemId          string `gorm:"primaryKey"`
	AcquisitionDate time.Time
	DroppedDate     *time.Time
}

// Dropped reports whether the item has left the user's inventory.
func (inv Inventory) Dropped() bool {
	return inv.DroppedDate != nil
}

// Genre is an item category.
type Genre struct {
	Name string `gorm:"primaryKey"`
}

// ItemGenre links an item to a genre.
type ItemGenre struct {
	ItemId string `gorm:"primaryKey"`
	Genre  string `gorm:"primaryKey"`
}

// Locale is a language/country pair in the form "xx" or "xx-yy".
type Locale struct {
	LanguageCode string `gorm:"primaryKey;size:2"`
	CountryCode  string `gorm:"primaryKey;size:2"`
	Name         string
}

func (l Locale) String() string {
	if l.CountryCode == "" {
		return l.LanguageCode
	}
	return fmt.Sprintf("%s-%s", l.LanguageCode, l.CountryCode)
}

// ParseLocale parses "xx" or "xx-yy" into a Locale. Codes are lowercased.
// Codes longer than two characters are rejected.
func ParseLocale(s string) (Locale, error) {
	languageCode, countryCode, _ := strings.Cut(s, "-")
	if len(languageCode) > 2 || len(countryCode) > 2 || languageCode == "" {
		return Locale{}, errors.NotValidf("locale %q", s)
	}
	return Locale{
		LanguageCode: strings.ToLower(languageCode),
		CountryCode:  strings.ToLower(countryCode),
	}, nil
}

// ItemLocale links an item to a locale it is available in.
type ItemLocale struct {
	ItemId       string `gorm:"primaryKey"`
	LanguageCode string `gorm:"primaryKey;size:2"`
	CountryCode  string `gorm:"primaryKey;size:2"`
}

// UserLocale links a user to a locale it requires.
type UserLocale struct {
	UserId       string `gorm:"primaryKey"`
	LanguageCode string `gorm:"primaryKey;size:2"`
	CountryCode  string `gorm:"primaryKey;size:2"`
}

// PredictorConfig configures one predictor inside a module. The kind is
// resolved against the predictor registry when the module is loaded. A nil
// weight defaults to 1 during aggregation.
type PredictorConfig struct {
	Name   string         `json:"name"`
	Kind   string         `json:"kind"`
	Params map[string]any `json:"params,omitempty"`
	Weight *float64       `json:"weight,omitempty"`
}

// StageConfig configures one filter or re-ranker inside a module.
type StageConfig struct {
	Kind   string         `json:"kind"`
	Params map[string]any `json:"params,omitempty"`
}

// Module is the stored configuration of a recommendation module: weighted
// predictors followed by ordered filters and re-rankers.
type Module struct {
	Name       string            `json:"name"`
	Predictors []PredictorConfig `json:"predictors"`
	Filters    []StageConfig     `json:"filters,omitempty"`
	Rerankers  []StageConfig     `json:"rerankers,omitempty"`
}

type Database interface {
	Init() error
	Ping() error
	Close() error
	Purge() error
	// items
	BatchInsertItems(ctx context.Context, items []Item) error
	BatchGetItems(ctx context.Context, itemIds []string) ([]Item, error)
	GetItem(ctx context.Context, itemId string) (Item, error)
	GetItems(ctx context.Context, cursor string, n int) (string, []Item, error)
	// users
	BatchInsertUsers(ctx context.Context, users []User) error
	GetUser(ctx context.Context, userId string) (User, error)
	GetUsers(ctx context.Context, cursor string, n int) (string, []User, error)
	// inventory
	BatchUpsertInventory(ctx context.Context, entries []Inventory) error
	GetInventory(ctx context.Context, userId, itemId string) (Inventory, error)
	GetUserInventory(ctx context.Context, userId string) ([]Inventory, error)
	CountAcquisitions(ctx context.Context) (map[string]int, error)
	GetInventoryStream(ctx context.Context, batchSize int) (chan []Inventory, chan error)
	// genres
	BatchInsertGenres(ctx context.Context, genres []Genre) error
	GetGenres(ctx context.Context, names []string) ([]Genre, error)
	BatchInsertItemGenres(ctx context.Context, itemGenres []ItemGenre) error
	GetItemGenres(ctx context.Context, itemIds []string) (map[string][]string, error)
	// locales
	BatchInsertLocales(ctx context.Context, locales []Locale) error
	GetLocales(ctx context.Context) ([]Locale, error)
	BatchInsertItemLocales(ctx context.Context, itemLocales []ItemLocale) error
	BatchInsertUserLocales(ctx context.Context, userLocales []UserLocale) error
	GetItemLocales(ctx context.Context, itemIds []string) (map[string][]string, error)
	GetUserLocales(ctx context.Context, userId string) ([]Locale, error)
	// modules
	PutModule(ctx context.Context, module Module) error
	GetModule(ctx context.Context, name string) (Module, error)
	GetModules(ctx context.Context) ([]Module, error)
	DeleteModule(ctx context.Context, name string) error
}

// Open a connection to a database.
func Open(path, tablePrefix string) (Database, error) {
	var err error
	if strings.HasPrefix(path, storage.MySQLPrefix) {
		name := path[len(storage.MySQLPrefix):]
		// append parameters
		if name, err = storage.AppendMySQLParams(name, map[string]string{
			"parseTime": "true",
		}); err != nil {
			return nil, errors.Trace(err)
		}
		// connect to database
		database := new(SQLDatabase)
		database.driver = MySQL
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("mysql", name,
			otelsql.WithAttributes(semconv.DBSystemMySQL),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		database.gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: database.client}), storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.PostgresPrefix) || strings.HasPrefix(path, storage.PostgreSQLPrefix) {
		database := new(SQLDatabase)
		database.driver = Postgres
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("postgres", path,
			otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		database.gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: database.client}), storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.SQLitePrefix) {
		// append parameters
		if path, err = storage.AppendURLParams(path, []lo.Tuple2[string, string]{
			{A: "_busy_timeout", B: "10000"},
			{A: "_journal_mode", B: "wal"},
		}); err != nil {
			return nil, errors.Trace(err)
		}
		// connect to database
		name := path[len(storage.SQLitePrefix):]
		database := new(SQLDatabase)
		database.driver = SQLite
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("sqlite3", name,
			otelsql.WithAttributes(semconv.DBSystemSqlite),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		gormConfig := storage.NewGORMConfig(tablePrefix)
		gormConfig.Logger = &zapgorm2.Logger{
			ZapLogger:                 log.Logger(),
			LogLevel:                  logger.Warn,
			SlowThreshold:             10 * time.Second,
			IgnoreRecordNotFoundError: true,
		}
		database.gormDB, err = gorm.Open(sqlite.Dialector{Conn: database.client}, gormConfig)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	}
	return nil, errors.Errorf("Unknown database: %s", log.RedactDBURL(path))
}
