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
	"fmt"
	_ "net/http/pprof"

	"github.com/emicklei/go-restful/v3"
	"github.com/frappe-io/frappe/base/log"
	"github.com/frappe-io/frappe/cmd/version"
	"github.com/frappe-io/frappe/config"
	"github.com/frappe-io/frappe/frappe"
	"github.com/frappe-io/frappe/server"
	"github.com/frappe-io/frappe/storage/cache"
	"github.com/frappe-io/frappe/storage/data"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serverCommand = &cobra.Command{
	Use:   "frappe-server",
	Short: "The recommendation serving node of the frappe recommender system.",
	Run: func(cmd *cobra.Command, args []string) {
		// show version
		showVersion, _ := cmd.PersistentFlags().GetBool("version")
		if showVersion {
			fmt.Println(version.BuildInfo())
			return
		}
		// setup logger
		debug, _ := cmd.PersistentFlags().GetBool("debug")
		log.SetLogger(cmd.PersistentFlags(), debug)
		// load config
		configPath, _ := cmd.PersistentFlags().GetString("config")
		conf, err := config.LoadConfig(configPath)
		if err != nil {
			log.Logger().Fatal("failed to load config", zap.Error(err))
		}
		// connect to the data store
		dataClient, err := data.Open(conf.Database.DataStore, conf.Database.TablePrefix)
		if err != nil {
			log.Logger().Fatal("failed to connect data store",
				zap.String("data_store", log.RedactDBURL(conf.Database.DataStore)), zap.Error(err))
		}
		if err = dataClient.Init(); err != nil {
			log.Logger().Fatal("failed to init data store", zap.Error(err))
		}
		// connect to the result cache
		cacheClient, err := cache.Open(conf.Database.CacheStore)
		if err != nil {
			log.Logger().Fatal("failed to connect cache store",
				zap.String("cache_store", log.RedactDBURL(conf.Database.CacheStore)), zap.Error(err))
		}
		resolver := frappe.NewResolver(dataClient, conf.Recommend.ModuleTTL)
		defer resolver.Close()
		s := &server.RestServer{
			DataClient:  dataClient,
			CacheClient: cacheClient,
			Resolver:    resolver,
			Config:      conf,
			WebService:  new(restful.WebService),
		}
		s.StartHttpServer()
	},
}

func init() {
	serverCommand.PersistentFlags().BoolP("version", "v", false, "frappe version")
	serverCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	serverCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	log.AddFlags(serverCommand.PersistentFlags())
}

func main() {
	if err := serverCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
