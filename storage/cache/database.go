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

// Package cache stores computed recommendation lists with a time to live.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/frappe-io/frappe/storage"
	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
)

var ErrObjectNotExist = errors.NotFoundf("object")

// Scored is an item id attached to its aggregated score.
type Scored struct {
	ItemId string  `json:"item_id"`
	Score  float64 `json:"score"`
}

type Database interface {
	Ping() error
	Close() error
	Purge() error
	// SetScores stores a recommendation list under a key. A zero TTL keeps
	// the list until it is overwritten or deleted.
	SetScores(ctx context.Context, key string, scores []Scored, ttl time.Duration) error
	// GetScores returns the list stored under a key, or ErrObjectNotExist.
	GetScores(ctx context.Context, key string) ([]Scored, error)
	Delete(ctx context.Context, key string) error
}

// Key builds a cache key from its parts.
func Key(parts ...string) string {
	return strings.Join(parts, "/")
}

// Open a connection to a cache store. An empty path falls back to the
// in-process store.
func Open(path string) (Database, error) {
	if path == "" || strings.HasPrefix(path, storage.MemoryPrefix) {
		return NewMemory(), nil
	} else if strings.HasPrefix(path, storage.RedisPrefix) {
		opts, err := redis.ParseURL(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return &Redis{client: redis.NewClient(opts)}, nil
	}
	return nil, errors.Errorf("Unknown cache store: %s", path)
}
