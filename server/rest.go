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

// Package server exposes the recommendation pipeline over a REST-ful API.
package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/frappe-io/frappe/base/log"
	"github.com/frappe-io/frappe/config"
	"github.com/frappe-io/frappe/frappe"
	"github.com/frappe-io/frappe/storage/cache"
	"github.com/frappe-io/frappe/storage/data"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RestServer implements the REST-ful API server.
type RestServer struct {
	DataClient  data.Database
	CacheClient cache.Database
	Resolver    *frappe.Resolver
	Config      *config.Config
	WebService  *restful.WebService
}

// RecommendResponse is the payload of the recommend endpoint.
type RecommendResponse struct {
	User            string         `json:"user"`
	Module          string         `json:"module"`
	Recommendations []cache.Scored `json:"recommendations"`
}

// ModuleList is the payload of the module listing endpoint.
type ModuleList struct {
	Modules []data.Module `json:"modules"`
}

// Success is the payload of write endpoints.
type Success struct {
	RowAffected int `json:"row_affected"`
}

// HealthStatus is the payload of the readiness endpoint.
type HealthStatus struct {
	Ready           bool   `json:"ready"`
	DataStoreError  string `json:"data_store_error,omitempty"`
	CacheStoreError string `json:"cache_store_error,omitempty"`
}

// StartHttpServer starts the REST-ful API server.
func (s *RestServer) StartHttpServer() {
	s.CreateWebService()
	restful.DefaultContainer.Add(s.WebService)
	// register swagger UI
	specConfig := restfulspec.Config{
		WebServices: restful.RegisteredWebServices(),
		APIPath:     "/apidocs.json",
	}
	restful.DefaultContainer.Add(restfulspec.NewOpenAPIService(specConfig))
	// register prometheus
	http.Handle("/metrics", promhttp.Handler())

	address := fmt.Sprintf("%s:%d", s.Config.Server.HttpHost, s.Config.Server.HttpPort)
	log.Logger().Info("start http server", zap.String("url", fmt.Sprintf("http://%s", address)))
	log.Logger().Fatal("failed to start http server",
		zap.Error(http.ListenAndServe(address, nil)))
}

// LogFilter logs every request with its status code and latency.
func (s *RestServer) LogFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	start := time.Now()
	chain.ProcessFilter(req, resp)
	elapsed := time.Since(start)
	logger := log.ResponseLogger(resp)
	if elapsed > s.Config.Server.LogSlowThreshold {
		logger = logger.With(zap.Bool("slow", true))
	}
	logger.Info(fmt.Sprintf("%s %s", req.Request.Method, req.Request.URL),
		zap.Int("status_code", resp.StatusCode()),
		zap.Duration("elapsed", elapsed))
}

// AuthFilter rejects requests without the configured API key. Health probes
// are never authenticated.
func (s *RestServer) AuthFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	if strings.HasPrefix(req.Request.URL.Path, "/api/health/") {
		chain.ProcessFilter(req, resp)
		return
	}
	if s.Config.Server.APIKey == "" || req.HeaderParameter("X-API-Key") == s.Config.Server.APIKey {
		chain.ProcessFilter(req, resp)
		return
	}
	if err := resp.WriteError(http.StatusUnauthorized, fmt.Errorf("unauthorized")); err != nil {
		log.Logger().Error("failed to write error", zap.Error(err))
	}
}

// CreateWebService creates web service.
func (s *RestServer) CreateWebService() {
	ws := s.WebService
	ws.Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	ws.Path("/api/")
	ws.Filter(s.LogFilter)
	ws.Filter(s.AuthFilter)

	// Get recommendation
	ws.Route(ws.GET("/v2/recommend/{module}/{n}/{user}").To(s.getRecommend).
		Doc("Get recommendations for a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("module", "name of the module").DataType("string")).
		Param(ws.PathParameter("n", "number of recommended items").DataType("integer")).
		Param(ws.PathParameter("user", "identifier of the user").DataType("string")).
		Writes(RecommendResponse{}))

	// Get modules
	ws.Route(ws.GET("/v2/modules").To(s.getModules).
		Doc("Get all modules.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"module"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Writes(ModuleList{}))
	// Get a module
	ws.Route(ws.GET("/v2/module/{module}").To(s.getModule).
		Doc("Get a module configuration.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"module"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("module", "name of the module").DataType("string")).
		Writes(data.Module{}))
	// Put a module
	ws.Route(ws.PUT("/v2/module/{module}").To(s.putModule).
		Doc("Store a module configuration.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"module"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("module", "name of the module").DataType("string")).
		Reads(data.Module{}).
		Writes(Success{}))
	// Delete a module
	ws.Route(ws.DELETE("/v2/module/{module}").To(s.deleteModule).
		Doc("Delete a module configuration.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"module"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("module", "name of the module").DataType("string")).
		Writes(Success{}))

	// Readiness
	ws.Route(ws.GET("/health/ready").To(s.checkReady).
		Doc("Probe the readiness of the server.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"health"}).
		Writes(HealthStatus{}))
}

func (s *RestServer) getRecommend(request *restful.Request, response *restful.Response) {
	start := time.Now()
	defer func() {
		RecommendSeconds.Observe(time.Since(start).Seconds())
	}()
	ctx := request.Request.Context()
	moduleName := request.PathParameter("module")
	userId := request.PathParameter("user")
	n, err := strconv.Atoi(request.PathParameter("n"))
	if err != nil {
		BadRequest(response, err)
		return
	}
	if n <= 0 {
		n = s.Config.Recommend.DefaultN
	}
	if n > s.Config.Recommend.MaxN {
		n = s.Config.Recommend.MaxN
	}
	if _, err = s.DataClient.GetUser(ctx, userId); err != nil {
		if errors.Is(errors.Cause(err), data.ErrUserNotExist) {
			PageNotFound(response, err)
		} else {
			InternalServerError(response, err)
		}
		return
	}
	// consult the result cache
	key := cache.Key("recommend", moduleName, userId, strconv.Itoa(n))
	if scores, err := s.CacheClient.GetScores(ctx, key); err == nil {
		RecommendCacheHits.Inc()
		Ok(response, RecommendResponse{User: userId, Module: moduleName, Recommendations: scores})
		return
	} else if !errors.Is(errors.Cause(err), cache.ErrObjectNotExist) {
		InternalServerError(response, err)
		return
	}
	RecommendCacheMisses.Inc()
	loadStart := time.Now()
	module, err := s.Resolver.Get(ctx, moduleName)
	if err != nil {
		if errors.Is(errors.Cause(err), data.ErrModuleNotExist) {
			PageNotFound(response, err)
		} else {
			InternalServerError(response, err)
		}
		return
	}
	ModuleLoadSeconds.Observe(time.Since(loadStart).Seconds())
	scores, err := module.PredictScores(ctx, userId, n)
	if err != nil {
		InternalServerError(response, err)
		return
	}
	if scores == nil {
		scores = []cache.Scored{}
	}
	if err = s.CacheClient.SetScores(ctx, key, scores, s.Config.Recommend.CacheTTL); err != nil {
		log.Logger().Warn("failed to cache recommendation", zap.Error(err))
	}
	Ok(response, RecommendResponse{User: userId, Module: moduleName, Recommendations: scores})
}

func (s *RestServer) getModules(request *restful.Request, response *restful.Response) {
	modules, err := s.DataClient.GetModules(request.Request.Context())
	if err != nil {
		InternalServerError(response, err)
		return
	}
	Ok(response, ModuleList{Modules: modules})
}

func (s *RestServer) getModule(request *restful.Request, response *restful.Response) {
	module, err := s.DataClient.GetModule(request.Request.Context(), request.PathParameter("module"))
	if err != nil {
		if errors.Is(errors.Cause(err), data.ErrModuleNotExist) {
			PageNotFound(response, err)
		} else {
			InternalServerError(response, err)
		}
		return
	}
	Ok(response, module)
}

func (s *RestServer) putModule(request *restful.Request, response *restful.Response) {
	var module data.Module
	if err := request.ReadEntity(&module); err != nil {
		BadRequest(response, err)
		return
	}
	module.Name = request.PathParameter("module")
	// reject configurations that would fail at serving time
	if _, err := frappe.LoadModule(request.Request.Context(), s.DataClient, module); err != nil {
		BadRequest(response, err)
		return
	}
	if err := s.DataClient.PutModule(request.Request.Context(), module); err != nil {
		InternalServerError(response, err)
		return
	}
	s.Resolver.Invalidate(module.Name)
	Ok(response, Success{RowAffected: 1})
}

func (s *RestServer) deleteModule(request *restful.Request, response *restful.Response) {
	name := request.PathParameter("module")
	if err := s.DataClient.DeleteModule(request.Request.Context(), name); err != nil {
		InternalServerError(response, err)
		return
	}
	s.Resolver.Invalidate(name)
	Ok(response, Success{RowAffected: 1})
}

func (s *RestServer) checkReady(_ *restful.Request, response *restful.Response) {
	status := HealthStatus{Ready: true}
	if err := s.DataClient.Ping(); err != nil {
		status.Ready = false
		status.DataStoreError = err.Error()
	}
	if err := s.CacheClient.Ping(); err != nil {
		status.Ready = false
		status.CacheStoreError = err.Error()
	}
	if !status.Ready {
		if err := response.WriteHeaderAndJson(http.StatusServiceUnavailable, status, restful.MIME_JSON); err != nil {
			log.Logger().Error("failed to write json", zap.Error(err))
		}
		return
	}
	Ok(response, status)
}

// InternalServerError writes a 500 and logs the cause.
func InternalServerError(response *restful.Response, err error) {
	log.Logger().Error("internal server error", zap.Error(err))
	if err = response.WriteError(http.StatusInternalServerError, err); err != nil {
		log.Logger().Error("failed to write error", zap.Error(err))
	}
}

// PageNotFound writes a 404.
func PageNotFound(response *restful.Response, err error) {
	if err := response.WriteError(http.StatusNotFound, err); err != nil {
		log.Logger().Error("failed to write error", zap.Error(err))
	}
}

// BadRequest writes a 400.
func BadRequest(response *restful.Response, err error) {
	log.Logger().Error("bad request", zap.Error(err))
	if err = response.WriteError(http.StatusBadRequest, err); err != nil {
		log.Logger().Error("failed to write error", zap.Error(err))
	}
}

// Ok sends the content as JSON to the client.
func Ok(response *restful.Response, content interface{}) {
	if err := response.WriteAsJson(content); err != nil {
		log.Logger().Error("failed to write json", zap.Error(err))
	}
}
