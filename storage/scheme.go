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

package storage

import (
	"net/url"
	"strings"

	"github.com/frappe-io/frappe/base/log"
	"github.com/go-sql-driver/mysql"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
	"moul.io/zapgorm2"
)

const (
	MySQLPrefix      = "mysql://"
	PostgresPrefix   = "postgres://"
	PostgreSQLPrefix = "postgresql://"
	SQLitePrefix     = "sqlite://"
	RedisPrefix      = "redis://"
	MemoryPrefix     = "memory://"
)

func AppendURLParams(rawURL string, params []lo.Tuple2[string, string]) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Trace(err)
	}
	q := parsed.Query()
	for _, tuple := range params {
		q.Add(tuple.A, tuple.B)
	}
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

func AppendMySQLParams(dsn string, params map[string]string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", errors.Trace(err)
	}
	if cfg.Params == nil {
		cfg.Params = make(map[string]string)
	}
	for key, value := range params {
		if _, exist := cfg.Params[key]; !exist {
			cfg.Params[key] = value
		}
	}
	return cfg.FormatDSN(), nil
}

type TablePrefix string

func (tp TablePrefix) ItemsTable() string {
	return string(tp) + "items"
}

func (tp TablePrefix) UsersTable() string {
	return string(tp) + "users"
}

func (tp TablePrefix) InventoryTable() string {
	return string(tp) + "inventory"
}

func (tp TablePrefix) GenresTable() string {
	return string(tp) + "genres"
}

func (tp TablePrefix) ItemGenresTable() string {
	return string(tp) + "item_genres"
}

func (tp TablePrefix) LocalesTable() string {
	return string(tp) + "locales"
}

func (tp TablePrefix) ItemLocalesTable() string {
	return string(tp) + "item_locales"
}

func (tp TablePrefix) UserLocalesTable() string {
	return string(tp) + "user_locales"
}

func (tp TablePrefix) ModulesTable() string {
	return string(tp) + "modules"
}

func (tp TablePrefix) ModulePredictorsTable() string {
	return string(tp) + "module_predictors"
}

func (tp TablePrefix) ModuleFiltersTable() string {
	return string(tp) + "module_filters"
}

func (tp TablePrefix) ModuleRerankersTable() string {
	return string(tp) + "module_rerankers"
}

func (tp TablePrefix) Key(key string) string {
	return string(tp) + key
}

func NewGORMConfig(tablePrefix string) *gorm.Config {
	return &gorm.Config{
		Logger:                 zapgorm2.New(log.Logger()),
		SkipDefaultTransaction: true,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   tablePrefix,
			SingularTable: true,
			NameReplacer: strings.NewReplacer(
				"SQLItemGenre", "ItemGenres",
				"SQLItemLocale", "ItemLocales",
				"SQLUserLocale", "UserLocales",
				"SQLModulePredictor", "ModulePredictors",
				"SQLModuleFilter", "ModuleFilters",
				"SQLModuleReranker", "ModuleRerankers",
				"SQLInventory", "Inventory",
				"SQLItem", "Items",
				"SQLUser", "Users",
				"SQLGenre", "Genres",
				"SQLLocale", "Locales",
				"SQLModule", "Modules",
			),
		},
	}
}
