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
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/roadassist/rtgate/common"
)

// Transport is the network-facing side of one realtime session. The
// registry only needs the write half; reads stay with the gateway.
type Transport interface {
	// WriteText sends one text frame
	WriteText(ctxt context.Context, payload []byte) error
	// Close releases the underlying transport
	Close() error
}

// Connection represents one live realtime session. A Connection is owned
// by the registry between Register and Unregister; the gateway holds a
// transient reference only for the duration of its read loop.
type Connection struct {
	// ID uniquely names this session
	ID string
	// Role is the client category this session registered under
	Role common.Role
	// SubjectID optionally names the specific subject (driver ID,
	// customer ID) behind the session
	SubjectID *string
	// ConnectedAt is when the session completed its handshake
	ConnectedAt time.Time
	transport   Transport
	writeLock   sync.Mutex
}

// NewConnection define a new Connection around a transport handle
func NewConnection(transport Transport, role common.Role, subjectID *string) *Connection {
	return &Connection{
		ID:          uuid.New().String(),
		Role:        role,
		SubjectID:   subjectID,
		ConnectedAt: time.Now().UTC(),
		transport:   transport,
	}
}

// Send deliver one payload over the session transport. Writes are
// serialized; the fan-out goroutine and the gateway pong path may both
// write concurrently.
func (c *Connection) Send(ctxt context.Context, payload []byte) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return c.transport.WriteText(ctxt, payload)
}

// Close release the session transport
func (c *Connection) Close() error {
	return c.transport.Close()
}
