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

package lifecycle

import (
	"context"
	"sync"

	"github.com/apex/log"
	"github.com/roadassist/rtgate/bridge"
	"github.com/roadassist/rtgate/common"
	"github.com/roadassist/rtgate/storage"
)

// ResourceCloser release hook for one pooled resource
type ResourceCloser func(ctxt context.Context) error

// Controller sequences process startup and shutdown
type Controller interface {
	// Startup bootstrap the persistent schema, then start the bridge
	// subscriber. Fails fast if either step fails. Idempotent.
	Startup(ctxt context.Context) error
	// Shutdown stop the subscriber and await full cancellation, then
	// release pooled resources. Idempotent; safe without prior Startup.
	Shutdown(ctxt context.Context) error
}

// controllerImpl implements Controller
type controllerImpl struct {
	common.Component
	store   storage.NotificationStore
	bridge  bridge.EventBridge
	closers []ResourceCloser
	lock    sync.Mutex
	running bool
}

// GetNewControllerInstance get instance of Controller. Closers run in
// order during Shutdown, after the subscriber has fully stopped.
func GetNewControllerInstance(
	store storage.NotificationStore,
	eventBridge bridge.EventBridge,
	closers ...ResourceCloser,
) (Controller, error) {
	logTags := log.Fields{
		"module": "lifecycle", "component": "controller",
	}
	return &controllerImpl{
		Component: common.Component{LogTags: logTags},
		store:     store,
		bridge:    eventBridge,
		closers:   closers,
	}, nil
}

// Startup bootstrap the persistent schema, then start the bridge subscriber
func (c *controllerImpl) Startup(ctxt context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.running {
		return nil
	}
	log.WithFields(c.LogTags).Info("Starting up")
	if err := c.store.EnsureSchema(ctxt); err != nil {
		log.WithError(err).WithFields(c.LogTags).Error("Startup halted on schema bootstrap")
		return err
	}
	if err := c.bridge.StartSubscriber(ctxt); err != nil {
		log.WithError(err).WithFields(c.LogTags).Error("Startup halted on subscriber start")
		return err
	}
	c.running = true
	log.WithFields(c.LogTags).Info("Startup complete")
	return nil
}

// Shutdown stop the subscriber, then release pooled resources
func (c *controllerImpl) Shutdown(ctxt context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	log.WithFields(c.LogTags).Info("Shutting down")
	// tolerates a subscriber that never started or already stopped
	if err := c.bridge.StopSubscriber(); err != nil {
		log.WithError(err).WithFields(c.LogTags).Error("Subscriber stop failed")
		return err
	}
	c.store.Close()
	for _, closer := range c.closers {
		if err := closer(ctxt); err != nil {
			log.WithError(err).WithFields(c.LogTags).Warn("Resource closer reported failure")
		}
	}
	c.running = false
	log.WithFields(c.LogTags).Info("Shutdown complete")
	return nil
}
