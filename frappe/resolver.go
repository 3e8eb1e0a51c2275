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

package frappe

import (
	"context"
	"time"

	"github.com/frappe-io/frappe/storage/data"
	"github.com/jellydator/ttlcache/v3"
	"github.com/juju/errors"
)

// Resolver loads modules from the store and caches the built instances.
// Predictors rebuild their model state on every load, so the TTL bounds both
// configuration staleness and model staleness.
type Resolver struct {
	store data.Database
	ttl   time.Duration
	cache *ttlcache.Cache[string, *Module]
}

func NewResolver(store data.Database, ttl time.Duration) *Resolver {
	cache := ttlcache.New[string, *Module](
		ttlcache.WithTTL[string, *Module](ttl),
		ttlcache.WithDisableTouchOnHit[string, *Module](),
	)
	go cache.Start()
	return &Resolver{store: store, ttl: ttl, cache: cache}
}

// Get returns the module by name, loading and caching it on a miss.
func (r *Resolver) Get(ctx context.Context, name string) (*Module, error) {
	if item := r.cache.Get(name); item != nil {
		return item.Value(), nil
	}
	config, err := r.store.GetModule(ctx, name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	module, err := LoadModule(ctx, r.store, config)
	if err != nil {
		return nil, errors.Trace(err)
	}
	r.cache.Set(name, module, r.ttl)
	return module, nil
}

// Invalidate evicts a cached module so the next Get reloads it. Call after
// writing or deleting the stored configuration.
func (r *Resolver) Invalidate(name string) {
	r.cache.Delete(name)
}

func (r *Resolver) Close() {
	r.cache.Stop()
}
