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
	"encoding/json"
	"fmt"
	"testing"

	"github.com/roadassist/rtgate/bridge"
	"github.com/roadassist/rtgate/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore scripted NotificationStore
type fakeStore struct {
	schemaCalls int
	schemaErr   error
	closed      bool
}

func (s *fakeStore) EnsureSchema(ctxt context.Context) error {
	s.schemaCalls++
	return s.schemaErr
}

func (s *fakeStore) Insert(
	ctxt context.Context, scope string, role, subject *string, payload json.RawMessage,
) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (s *fakeStore) ListRecent(
	ctxt context.Context, limit int,
) ([]storage.NotificationRecord, error) {
	return nil, fmt.Errorf("not implemented")
}

func (s *fakeStore) Ready(ctxt context.Context) error { return nil }

func (s *fakeStore) Close() { s.closed = true }

// fakeBridge scripted EventBridge
type fakeBridge struct {
	startCalls int
	stopCalls  int
	startErr   error
}

func (b *fakeBridge) StartSubscriber(ctxt context.Context) error {
	b.startCalls++
	return b.startErr
}

func (b *fakeBridge) StopSubscriber() error {
	b.stopCalls++
	return nil
}

func (b *fakeBridge) Publish(ctxt context.Context, msg bridge.BroadcastMessage) error {
	return nil
}

func TestControllerStartupOrdering(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	// Case 0: schema bootstrap failure halts startup before the subscriber
	{
		store := &fakeStore{schemaErr: fmt.Errorf("db unreachable")}
		eventBridge := &fakeBridge{}
		uut, err := GetNewControllerInstance(store, eventBridge)
		require.Nil(t, err)
		assert.NotNil(uut.Startup(utCtxt))
		assert.Equal(0, eventBridge.startCalls)
	}

	// Case 1: subscriber failure propagates
	{
		store := &fakeStore{}
		eventBridge := &fakeBridge{startErr: fmt.Errorf("channel unreachable")}
		uut, err := GetNewControllerInstance(store, eventBridge)
		require.Nil(t, err)
		assert.NotNil(uut.Startup(utCtxt))
		assert.Equal(1, store.schemaCalls)
	}

	// Case 2: startup is idempotent
	{
		store := &fakeStore{}
		eventBridge := &fakeBridge{}
		uut, err := GetNewControllerInstance(store, eventBridge)
		require.Nil(t, err)
		assert.Nil(uut.Startup(utCtxt))
		assert.Nil(uut.Startup(utCtxt))
		assert.Equal(1, store.schemaCalls)
		assert.Equal(1, eventBridge.startCalls)
	}
}

func TestControllerShutdown(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	store := &fakeStore{}
	eventBridge := &fakeBridge{}
	closerRan := false
	uut, err := GetNewControllerInstance(
		store, eventBridge,
		func(ctxt context.Context) error {
			closerRan = true
			return nil
		},
	)
	require.Nil(t, err)

	// Case 0: shutdown without startup is safe
	assert.Nil(uut.Shutdown(utCtxt))
	assert.Equal(1, eventBridge.stopCalls)
	assert.True(store.closed)
	assert.True(closerRan)

	// Case 1: full cycle, then restartable
	assert.Nil(uut.Startup(utCtxt))
	assert.Nil(uut.Shutdown(utCtxt))
	assert.Nil(uut.Startup(utCtxt))
	assert.Equal(2, eventBridge.startCalls)
}
