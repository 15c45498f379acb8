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

package bridge

import (
	"context"
	"sync"

	"github.com/apex/log"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/roadassist/rtgate/common"
	"github.com/roadassist/rtgate/core"
)

// EventSource is one process's connection to the shared event channel.
// Subscribe may be called again after Close; each call opens a fresh
// subscription.
type EventSource interface {
	// Subscribe open a subscription against the channel. The returned
	// channel closes when the subscription drops or Close is called.
	Subscribe(ctxt context.Context) (<-chan []byte, error)
	// Close release the current subscription
	Close(ctxt context.Context) error
	// Publish send one raw payload onto the channel
	Publish(ctxt context.Context, payload []byte) error
}

// =======================================================================
// Redis backed event source

// redisEventSource implements EventSource over Redis pub/sub
type redisEventSource struct {
	common.Component
	client      *core.RedisClient
	channelName string
	lock        sync.Mutex
	pubsub      *redis.PubSub
}

// NewRedisEventSource define an EventSource over Redis pub/sub
func NewRedisEventSource(client *core.RedisClient, channelName string) EventSource {
	logTags := log.Fields{
		"module": "bridge", "component": "event-source-redis", "channel": channelName,
	}
	return &redisEventSource{
		Component:   common.Component{LogTags: logTags},
		client:      client,
		channelName: channelName,
	}
}

// Subscribe open a subscription against the Redis channel
func (s *redisEventSource) Subscribe(ctxt context.Context) (<-chan []byte, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.pubsub != nil {
		// release the previous subscription after a drop
		_ = s.pubsub.Close()
		s.pubsub = nil
	}
	pubsub := s.client.Client().Subscribe(ctxt, s.channelName)
	// force the SUBSCRIBE round trip so connect failures surface here
	if _, err := pubsub.Receive(ctxt); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	s.pubsub = pubsub
	out := make(chan []byte)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-ctxt.Done():
				return
			}
		}
	}()
	log.WithFields(s.LogTags).Info("Subscribed to Redis channel")
	return out, nil
}

// Close release the current Redis subscription
func (s *redisEventSource) Close(ctxt context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.pubsub == nil {
		return nil
	}
	err := s.pubsub.Close()
	s.pubsub = nil
	return err
}

// Publish send one raw payload onto the Redis channel
func (s *redisEventSource) Publish(ctxt context.Context, payload []byte) error {
	return s.client.Client().Publish(ctxt, s.channelName, payload).Err()
}

// =======================================================================
// NATS backed event source

// natsEventSource implements EventSource over core NATS pub/sub
type natsEventSource struct {
	common.Component
	client      *core.NatsClient
	channelName string
	lock        sync.Mutex
	sub         *nats.Subscription
}

// NewNatsEventSource define an EventSource over core NATS pub/sub
func NewNatsEventSource(client *core.NatsClient, channelName string) EventSource {
	logTags := log.Fields{
		"module": "bridge", "component": "event-source-nats", "channel": channelName,
	}
	return &natsEventSource{
		Component:   common.Component{LogTags: logTags},
		client:      client,
		channelName: channelName,
	}
}

// Subscribe open a subscription against the NATS subject
func (s *natsEventSource) Subscribe(ctxt context.Context) (<-chan []byte, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.sub != nil {
		// release the previous subscription after a drop
		_ = s.sub.Unsubscribe()
		s.sub = nil
	}
	inbox := make(chan *nats.Msg, 64)
	sub, err := s.client.NATs().ChanSubscribe(s.channelName, inbox)
	if err != nil {
		return nil, err
	}
	s.sub = sub
	out := make(chan []byte)
	go func() {
		// the NATS client reconnects on its own; the subscription only
		// ends on Close or context cancel
		defer close(out)
		for {
			select {
			case <-ctxt.Done():
				return
			case msg, ok := <-inbox:
				if !ok {
					return
				}
				select {
				case out <- msg.Data:
				case <-ctxt.Done():
					return
				}
			}
		}
	}()
	log.WithFields(s.LogTags).Info("Subscribed to NATS subject")
	return out, nil
}

// Close release the current NATS subscription
func (s *natsEventSource) Close(ctxt context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.sub == nil {
		return nil
	}
	err := s.sub.Unsubscribe()
	s.sub = nil
	return err
}

// Publish send one raw payload onto the NATS subject
func (s *natsEventSource) Publish(ctxt context.Context, payload []byte) error {
	return s.client.NATs().Publish(s.channelName, payload)
}
