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

	"github.com/apex/log"
	"github.com/roadassist/rtgate/common"
	"github.com/roadassist/rtgate/metrics"
)

// noSubject is the bucket key for connections registered without a
// subject identifier
const noSubject = ""

// ConnectionRegistry tracks the live realtime connections of this process,
// keyed by (role, subject). One subject may hold multiple simultaneous
// connections.
type ConnectionRegistry interface {
	// Register add a connection under its role bucket
	Register(ctxt context.Context, conn *Connection) error
	// Unregister remove a connection if present. Removing an absent
	// connection is a no-op.
	Unregister(ctxt context.Context, conn *Connection)
	// SendTo deliver payload to one role. With subjectID, only that
	// subject's connections receive it. Returns the number of successful
	// deliveries; per-connection failures prune the failed connection and
	// never abort delivery to the rest.
	SendTo(ctxt context.Context, role common.Role, subjectID *string, payload []byte) int
	// BroadcastAll deliver payload to every registered connection
	BroadcastAll(ctxt context.Context, payload []byte) int
	// Count report the number of registered connections under one role
	Count(role common.Role) int
	// CloseAll unregister and close every connection
	CloseAll(ctxt context.Context)
}

// connectionRegistryImpl implements ConnectionRegistry
type connectionRegistryImpl struct {
	common.Component
	lock    sync.RWMutex
	buckets map[common.Role]map[string]map[string]*Connection
}

// GetNewConnectionRegistryInstance get instance of ConnectionRegistry
func GetNewConnectionRegistryInstance(instance string) (ConnectionRegistry, error) {
	logTags := log.Fields{
		"module": "registry", "component": "connection-registry", "instance": instance,
	}
	buckets := make(map[common.Role]map[string]map[string]*Connection)
	for _, role := range common.AllRoles() {
		buckets[role] = make(map[string]map[string]*Connection)
	}
	return &connectionRegistryImpl{
		Component: common.Component{LogTags: logTags},
		buckets:   buckets,
	}, nil
}

func subjectKey(subjectID *string) string {
	if subjectID == nil {
		return noSubject
	}
	return *subjectID
}

// Register add a connection under its role bucket
func (r *connectionRegistryImpl) Register(ctxt context.Context, conn *Connection) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	key := subjectKey(conn.SubjectID)
	bucket, ok := r.buckets[conn.Role]
	if !ok {
		// the role enum is closed, but a registry built by hand in tests
		// may miss a bucket
		bucket = make(map[string]map[string]*Connection)
		r.buckets[conn.Role] = bucket
	}
	if bucket[key] == nil {
		bucket[key] = make(map[string]*Connection)
	}
	bucket[key][conn.ID] = conn
	metrics.ActiveConnections.WithLabelValues(conn.Role.String()).Inc()
	metrics.TotalConnections.WithLabelValues(conn.Role.String()).Inc()
	log.WithFields(r.LogTags).Infof(
		"Registered %s connection %s (subject '%s')", conn.Role, conn.ID, key,
	)
	return nil
}

// Unregister remove a connection if present
func (r *connectionRegistryImpl) Unregister(ctxt context.Context, conn *Connection) {
	r.lock.Lock()
	defer r.lock.Unlock()
	key := subjectKey(conn.SubjectID)
	subjects, ok := r.buckets[conn.Role]
	if !ok {
		return
	}
	conns, ok := subjects[key]
	if !ok {
		return
	}
	if _, present := conns[conn.ID]; !present {
		// already removed by a racing disconnect / prune
		return
	}
	delete(conns, conn.ID)
	if len(conns) == 0 {
		delete(subjects, key)
	}
	metrics.ActiveConnections.WithLabelValues(conn.Role.String()).Dec()
	log.WithFields(r.LogTags).Infof(
		"Unregistered %s connection %s (subject '%s')", conn.Role, conn.ID, key,
	)
}

// snapshotRole copy the target connection set out from under the lock.
// Fan-out writes happen against the snapshot so registry mutation during
// delivery is safe.
func (r *connectionRegistryImpl) snapshotRole(role common.Role, subjectID *string) []*Connection {
	r.lock.RLock()
	defer r.lock.RUnlock()
	result := []*Connection{}
	subjects, ok := r.buckets[role]
	if !ok {
		return result
	}
	if subjectID != nil {
		for _, conn := range subjects[*subjectID] {
			result = append(result, conn)
		}
		return result
	}
	for _, conns := range subjects {
		for _, conn := range conns {
			result = append(result, conn)
		}
	}
	return result
}

// snapshotAll copy every registered connection out from under the lock
func (r *connectionRegistryImpl) snapshotAll() []*Connection {
	r.lock.RLock()
	defer r.lock.RUnlock()
	result := []*Connection{}
	for _, subjects := range r.buckets {
		for _, conns := range subjects {
			for _, conn := range conns {
				result = append(result, conn)
			}
		}
	}
	return result
}

// deliver write payload to each connection, pruning the ones whose
// transports fail
func (r *connectionRegistryImpl) deliver(
	ctxt context.Context, targets []*Connection, payload []byte,
) int {
	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(ctxt, payload); err != nil {
			log.WithError(err).WithFields(r.LogTags).Warnf(
				"Delivery to %s connection %s failed, pruning", conn.Role, conn.ID,
			)
			metrics.DeliveryFailures.Inc()
			r.Unregister(ctxt, conn)
			if closeErr := conn.Close(); closeErr != nil {
				log.WithError(closeErr).WithFields(r.LogTags).Debugf(
					"Close of pruned connection %s reported failure", conn.ID,
				)
			}
			continue
		}
		delivered++
	}
	return delivered
}

// SendTo deliver payload to one role, or one subject within the role
func (r *connectionRegistryImpl) SendTo(
	ctxt context.Context, role common.Role, subjectID *string, payload []byte,
) int {
	return r.deliver(ctxt, r.snapshotRole(role, subjectID), payload)
}

// BroadcastAll deliver payload to every registered connection
func (r *connectionRegistryImpl) BroadcastAll(ctxt context.Context, payload []byte) int {
	return r.deliver(ctxt, r.snapshotAll(), payload)
}

// Count report the number of registered connections under one role
func (r *connectionRegistryImpl) Count(role common.Role) int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	total := 0
	for _, conns := range r.buckets[role] {
		total += len(conns)
	}
	return total
}

// CloseAll unregister and close every connection
func (r *connectionRegistryImpl) CloseAll(ctxt context.Context) {
	targets := r.snapshotAll()
	log.WithFields(r.LogTags).Infof("Closing %d connections", len(targets))
	for _, conn := range targets {
		r.Unregister(ctxt, conn)
		if err := conn.Close(); err != nil {
			log.WithError(err).WithFields(r.LogTags).Debugf(
				"Close of connection %s reported failure", conn.ID,
			)
		}
	}
}
