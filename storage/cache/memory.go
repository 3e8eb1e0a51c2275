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

package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/juju/errors"
)

// Memory is an in-process cache storage for single node deployments and tests.
type Memory struct {
	cache *ttlcache.Cache[string, []Scored]
}

func NewMemory() *Memory {
	cache := ttlcache.New[string, []Scored]()
	go cache.Start()
	return &Memory{cache: cache}
}

func (m *Memory) Ping() error {
	return nil
}

func (m *Memory) Close() error {
	m.cache.Stop()
	return nil
}

func (m *Memory) Purge() error {
	m.cache.DeleteAll()
	return nil
}

func (m *Memory) SetScores(_ context.Context, key string, scores []Scored, ttl time.Duration) error {
	if ttl == 0 {
		ttl = ttlcache.NoTTL
	}
	m.cache.Set(key, scores, ttl)
	return nil
}

func (m *Memory) GetScores(_ context.Context, key string) ([]Scored, error) {
	item := m.cache.Get(key)
	if item == nil {
		return nil, errors.Annotate(ErrObjectNotExist, key)
	}
	return item.Value(), nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}
