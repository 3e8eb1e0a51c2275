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

package main

import (
	"context"
	"fmt"

	"github.com/frappe-io/frappe/base/log"
	"github.com/frappe-io/frappe/cmd/version"
	"github.com/frappe-io/frappe/config"
	"github.com/frappe-io/frappe/loader"
	"github.com/frappe-io/frappe/storage/data"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var fillCommand = &cobra.Command{
	Use:   "frappe-fill",
	Short: "Bulk-load items, users and inventories from JSON dumps.",
	Run: func(cmd *cobra.Command, args []string) {
		showVersion, _ := cmd.PersistentFlags().GetBool("version")
		if showVersion {
			fmt.Println(version.BuildInfo())
			return
		}
		_ = cmd.Usage()
	},
}

var itemsCommand = &cobra.Command{
	Use:   "items <path>",
	Short: "Load item documents from a directory tree or tarball.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		run(cmd, args[0], (*loader.Loader).LoadItems)
	},
}

var usersCommand = &cobra.Command{
	Use:   "users <path>",
	Short: "Load user documents and their inventories from a directory tree or tarball.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		run(cmd, args[0], (*loader.Loader).LoadUsers)
	},
}

func run(cmd *cobra.Command, path string, load func(*loader.Loader, context.Context, string) (loader.Stats, error)) {
	flags := cmd.Root().PersistentFlags()
	debug, _ := flags.GetBool("debug")
	log.SetLogger(flags, debug)
	configPath, _ := flags.GetString("config")
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		log.Logger().Fatal("failed to load config", zap.Error(err))
	}
	store, err := data.Open(conf.Database.DataStore, conf.Database.TablePrefix)
	if err != nil {
		log.Logger().Fatal("failed to connect data store",
			zap.String("data_store", log.RedactDBURL(conf.Database.DataStore)), zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Logger().Error("failed to close data store", zap.Error(err))
		}
	}()
	if err = store.Init(); err != nil {
		log.Logger().Fatal("failed to init data store", zap.Error(err))
	}
	mapping := fieldMapping(flags)
	l := loader.NewLoader(store, mapping)
	l.Progress = true
	stats, err := load(l, cmd.Context(), path)
	if err != nil {
		log.Logger().Fatal("failed to load", zap.Error(err))
	}
	log.Logger().Info("done",
		zap.Int("files", stats.Files),
		zap.Int("documents", stats.Documents))
}

// fieldMapping assembles the field mapping from flags, starting from the
// Firefox Marketplace preset when --mozilla is set.
func fieldMapping(flags *pflag.FlagSet) loader.FieldMapping {
	mozilla, _ := flags.GetBool("mozilla")
	mapping := loader.DefaultFieldMapping()
	if mozilla {
		mapping = loader.MozillaFieldMapping()
	}
	override := func(target *string, name string) {
		if flags.Changed(name) {
			*target, _ = flags.GetString(name)
		}
	}
	override(&mapping.ItemFileIdentifier, "item-file-identifier")
	override(&mapping.ItemField, "item")
	override(&mapping.ItemGenresField, "item-genres")
	override(&mapping.ItemLocalesField, "item-locales")
	override(&mapping.UserFileIdentifier, "user-file-identifier")
	override(&mapping.UserField, "user")
	override(&mapping.UserItemsField, "user-items")
	override(&mapping.UserItemIdentifier, "user-item-identifier")
	override(&mapping.UserItemAcquired, "user-item-acquired")
	override(&mapping.UserItemDropped, "user-item-dropped")
	override(&mapping.DateFormat, "date-format")
	return mapping
}

func init() {
	fillCommand.PersistentFlags().BoolP("version", "v", false, "frappe version")
	fillCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	fillCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	fillCommand.PersistentFlags().Bool("mozilla", false, "use the Firefox Marketplace field preset")
	fillCommand.PersistentFlags().StringP("item", "i", "external_id", "item identifier field")
	fillCommand.PersistentFlags().StringP("user", "u", "external_id", "user identifier field")
	fillCommand.PersistentFlags().String("item-file-identifier", "item", "field that identifies item documents")
	fillCommand.PersistentFlags().String("user-file-identifier", "user", "field that identifies user documents")
	fillCommand.PersistentFlags().String("item-genres", "genres", "item genres field")
	fillCommand.PersistentFlags().String("item-locales", "locales", "item locales field")
	fillCommand.PersistentFlags().String("user-items", "items", "user inventory field")
	fillCommand.PersistentFlags().String("user-item-identifier", "external_id", "item identifier inside inventory entries")
	fillCommand.PersistentFlags().String("user-item-acquired", "acquired", "acquisition date field")
	fillCommand.PersistentFlags().String("user-item-dropped", "dropped", "dropped date field")
	fillCommand.PersistentFlags().String("date-format", "2006-01-02T15:04:05", "reference layout of inventory dates")
	log.AddFlags(fillCommand.PersistentFlags())
	fillCommand.AddCommand(itemsCommand, usersCommand)
}

func main() {
	if err := fillCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
