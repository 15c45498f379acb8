// Copyright 2025-2026 The rtgate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"context"
	"time"

	"github.com/apex/log"
	"github.com/redis/go-redis/v9"
	"github.com/roadassist/rtgate/common"
)

// RedisConnectParams Redis connection parameter
type RedisConnectParams struct {
	// ServerURL connect to the Redis server with URL
	ServerURL string `validate:"required,uri"`
	// ConnectTimeout max time to wait for a dial
	ConnectTimeout time.Duration
}

// RedisClient Redis client wrapper used as the event channel backend
type RedisClient struct {
	common.Component
	client *redis.Client
}

// Client fetch the underlying Redis client
func (r RedisClient) Client() *redis.Client {
	return r.client
}

// Ready check whether the Redis server currently answers
func (r RedisClient) Ready(ctxt context.Context) error {
	return r.client.Ping(ctxt).Err()
}

// Close close the Redis client
func (r RedisClient) Close(ctxt context.Context) {
	if err := r.client.Close(); err != nil {
		log.WithError(err).WithFields(r.LogTags).Error("Redis client close failed")
	}
	log.WithFields(r.LogTags).Info("Closed Redis client")
}

// GetRedisClient define a new Redis client. The connection itself is
// established lazily; a down server at boot does not fail the constructor.
func GetRedisClient(params RedisConnectParams) (*RedisClient, error) {
	logTags := log.Fields{
		"module":    "core",
		"component": "redis-backend",
		"instance":  params.ServerURL,
	}
	opts, err := redis.ParseURL(params.ServerURL)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to parse Redis URL")
		return nil, err
	}
	if params.ConnectTimeout > 0 {
		opts.DialTimeout = params.ConnectTimeout
	}
	log.WithFields(logTags).Info("Created Redis client")
	return &RedisClient{
		Component: common.Component{LogTags: logTags},
		client:    redis.NewClient(opts),
	}, nil
}
