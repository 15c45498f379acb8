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

package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/roadassist/rtgate/common"
	"github.com/stretchr/testify/assert"
)

// fakeTransport in-memory Transport for exercising the registry
type fakeTransport struct {
	mu         sync.Mutex
	received   [][]byte
	failWrites bool
	closed     bool
}

func (t *fakeTransport) WriteText(ctxt context.Context, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failWrites || t.closed {
		return fmt.Errorf("transport broken")
	}
	t.received = append(t.received, payload)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) messages() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	result := make([][]byte, len(t.received))
	copy(result, t.received)
	return result
}

func strPtr(s string) *string {
	return &s
}

func TestConnectionRegistryBasicOperation(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)
	utCtxt := context.Background()

	uut, err := GetNewConnectionRegistryInstance(uuid.New().String())
	assert.Nil(err)

	transportA := &fakeTransport{}
	transportB := &fakeTransport{}
	connA := NewConnection(transportA, common.RoleDriver, strPtr("driver-1"))
	connB := NewConnection(transportB, common.RoleDriver, strPtr("driver-2"))
	assert.Nil(uut.Register(utCtxt, connA))
	assert.Nil(uut.Register(utCtxt, connB))
	assert.Equal(2, uut.Count(common.RoleDriver))

	// Case 0: subject-targeted delivery reaches only that subject
	payload := []byte("job-offer")
	assert.Equal(1, uut.SendTo(utCtxt, common.RoleDriver, strPtr("driver-1"), payload))
	assert.Len(transportA.messages(), 1)
	assert.Empty(transportB.messages())

	// Case 1: role-wide delivery reaches every connection of the role
	assert.Equal(2, uut.SendTo(utCtxt, common.RoleDriver, nil, payload))
	assert.Len(transportA.messages(), 2)
	assert.Len(transportB.messages(), 1)

	// Case 2: no stale entry after unregister
	uut.Unregister(utCtxt, connA)
	assert.Equal(1, uut.Count(common.RoleDriver))
	assert.Equal(1, uut.SendTo(utCtxt, common.RoleDriver, nil, payload))
	assert.Len(transportA.messages(), 2)

	// Case 3: unregister is idempotent
	uut.Unregister(utCtxt, connA)
	assert.Equal(1, uut.Count(common.RoleDriver))
}

func TestConnectionRegistryMultiDevice(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	uut, err := GetNewConnectionRegistryInstance(uuid.New().String())
	assert.Nil(err)

	// one subject with two simultaneous connections
	transport1 := &fakeTransport{}
	transport2 := &fakeTransport{}
	conn1 := NewConnection(transport1, common.RoleCustomer, strPtr("cust-9"))
	conn2 := NewConnection(transport2, common.RoleCustomer, strPtr("cust-9"))
	assert.Nil(uut.Register(utCtxt, conn1))
	assert.Nil(uut.Register(utCtxt, conn2))
	assert.Equal(2, uut.Count(common.RoleCustomer))

	assert.Equal(2, uut.SendTo(utCtxt, common.RoleCustomer, strPtr("cust-9"), []byte("eta")))
	assert.Len(transport1.messages(), 1)
	assert.Len(transport2.messages(), 1)

	// dropping one device leaves the other reachable
	uut.Unregister(utCtxt, conn1)
	assert.Equal(1, uut.SendTo(utCtxt, common.RoleCustomer, strPtr("cust-9"), []byte("eta")))
	assert.Len(transport2.messages(), 2)
}

func TestConnectionRegistryBroadcastAndPrune(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	uut, err := GetNewConnectionRegistryInstance(uuid.New().String())
	assert.Nil(err)

	healthy := &fakeTransport{}
	broken := &fakeTransport{failWrites: true}
	admin := &fakeTransport{}
	assert.Nil(uut.Register(utCtxt, NewConnection(healthy, common.RoleDriver, strPtr("d-1"))))
	brokenConn := NewConnection(broken, common.RoleDriver, strPtr("d-2"))
	assert.Nil(uut.Register(utCtxt, brokenConn))
	assert.Nil(uut.Register(utCtxt, NewConnection(admin, common.RoleAdmin, nil)))

	// Case 0: a dead connection never blocks delivery to the rest
	assert.Equal(2, uut.BroadcastAll(utCtxt, []byte("announce")))
	assert.Len(healthy.messages(), 1)
	assert.Len(admin.messages(), 1)

	// Case 1: the failed connection was pruned and closed
	assert.Equal(1, uut.Count(common.RoleDriver))
	assert.True(broken.closed)

	// Case 2: later deliveries omit the pruned entry without error
	assert.Equal(1, uut.SendTo(utCtxt, common.RoleDriver, nil, []byte("again")))
	assert.Len(healthy.messages(), 2)
}

func TestConnectionRegistryConcurrentSendAndUnregister(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	uut, err := GetNewConnectionRegistryInstance(uuid.New().String())
	assert.Nil(err)

	conns := make([]*Connection, 32)
	for itr := 0; itr < len(conns); itr++ {
		conns[itr] = NewConnection(
			&fakeTransport{}, common.RoleDriver, strPtr(fmt.Sprintf("d-%d", itr)),
		)
		assert.Nil(uut.Register(utCtxt, conns[itr]))
	}

	// hammer fan-out while entries disappear; must not panic and must
	// resolve every removal
	wg := sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		for itr := 0; itr < 64; itr++ {
			uut.SendTo(utCtxt, common.RoleDriver, nil, []byte("ping-all"))
		}
	}()
	go func() {
		defer wg.Done()
		for _, conn := range conns {
			uut.Unregister(utCtxt, conn)
		}
	}()
	wg.Wait()

	assert.Equal(0, uut.Count(common.RoleDriver))
	assert.Equal(0, uut.SendTo(utCtxt, common.RoleDriver, nil, []byte("after")))
}

func TestConnectionRegistryCloseAll(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	uut, err := GetNewConnectionRegistryInstance(uuid.New().String())
	assert.Nil(err)

	transports := []*fakeTransport{{}, {}, {}}
	assert.Nil(uut.Register(utCtxt, NewConnection(transports[0], common.RoleDriver, strPtr("d-1"))))
	assert.Nil(uut.Register(utCtxt, NewConnection(transports[1], common.RoleCustomer, strPtr("c-1"))))
	assert.Nil(uut.Register(utCtxt, NewConnection(transports[2], common.RoleAdmin, nil)))

	uut.CloseAll(utCtxt)
	for _, transport := range transports {
		assert.True(transport.closed)
	}
	for _, role := range common.AllRoles() {
		assert.Equal(0, uut.Count(role))
	}
}
