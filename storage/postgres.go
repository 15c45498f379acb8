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

package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/roadassist/rtgate/common"
)

// notificationsSchema bootstrap DDL for the notification history table
const notificationsSchema = `
CREATE TABLE IF NOT EXISTS notifications (
	id UUID PRIMARY KEY,
	target_scope TEXT NOT NULL,
	target_role TEXT,
	target_subject TEXT,
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS notifications_created_at_idx
	ON notifications (created_at DESC);
`

// NotificationRecord one persisted notification
type NotificationRecord struct {
	// ID is the notification's unique ID
	ID string `json:"id"`
	// TargetScope is the fan-out width the notification was sent with
	TargetScope string `json:"target_scope"`
	// TargetRole is the targeted role, if scoped
	TargetRole *string `json:"target_role,omitempty"`
	// TargetSubject is the targeted subject, if scoped
	TargetSubject *string `json:"target_subject,omitempty"`
	// Payload is the notification body as sent
	Payload json.RawMessage `json:"payload"`
	// CreatedAt is when the notification was accepted
	CreatedAt time.Time `json:"created_at"`
}

// NotificationStore persistent history of accepted notifications
type NotificationStore interface {
	// EnsureSchema create the backing table if it does not exist
	EnsureSchema(ctxt context.Context) error
	// Insert persist one notification, returning its assigned ID
	Insert(
		ctxt context.Context,
		targetScope string,
		targetRole *string,
		targetSubject *string,
		payload json.RawMessage,
	) (string, error)
	// ListRecent fetch the most recently accepted notifications
	ListRecent(ctxt context.Context, limit int) ([]NotificationRecord, error)
	// Ready verify the store is reachable
	Ready(ctxt context.Context) error
	// Close release the connection pool
	Close()
}

// notificationStoreImpl implements NotificationStore
type notificationStoreImpl struct {
	common.Component
	pool          *pgxpool.Pool
	schemaTimeout time.Duration
}

// GetNewNotificationStoreInstance get instance of NotificationStore.
// The pool connects lazily; reachability surfaces on first use.
func GetNewNotificationStoreInstance(
	ctxt context.Context, config common.DatabaseConfig,
) (NotificationStore, error) {
	logTags := log.Fields{
		"module": "storage", "component": "notification-store",
	}
	poolConfig, err := pgxpool.ParseConfig(config.URI)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid postgres URI")
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctxt, poolConfig)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define postgres pool")
		return nil, err
	}
	return &notificationStoreImpl{
		Component:     common.Component{LogTags: logTags},
		pool:          pool,
		schemaTimeout: time.Second * time.Duration(config.SchemaTimeout),
	}, nil
}

// EnsureSchema create the backing table if it does not exist
func (s *notificationStoreImpl) EnsureSchema(ctxt context.Context) error {
	if s.schemaTimeout > 0 {
		var cancel context.CancelFunc
		ctxt, cancel = context.WithTimeout(ctxt, s.schemaTimeout)
		defer cancel()
	}
	if _, err := s.pool.Exec(ctxt, notificationsSchema); err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Schema bootstrap failed")
		return err
	}
	log.WithFields(s.LogTags).Debug("Notification schema present")
	return nil
}

// Insert persist one notification, returning its assigned ID
func (s *notificationStoreImpl) Insert(
	ctxt context.Context,
	targetScope string,
	targetRole *string,
	targetSubject *string,
	payload json.RawMessage,
) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(
		ctxt,
		`INSERT INTO notifications (id, target_scope, target_role, target_subject, payload)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, targetScope, targetRole, targetSubject, payload,
	)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Unable to persist notification")
		return "", err
	}
	return id, nil
}

// ListRecent fetch the most recently accepted notifications
func (s *notificationStoreImpl) ListRecent(
	ctxt context.Context, limit int,
) ([]NotificationRecord, error) {
	rows, err := s.pool.Query(
		ctxt,
		`SELECT id, target_scope, target_role, target_subject, payload, created_at
		 FROM notifications ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Unable to query notifications")
		return nil, err
	}
	defer rows.Close()

	records := []NotificationRecord{}
	for rows.Next() {
		var record NotificationRecord
		if err := rows.Scan(
			&record.ID,
			&record.TargetScope,
			&record.TargetRole,
			&record.TargetSubject,
			&record.Payload,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Ready verify the store is reachable
func (s *notificationStoreImpl) Ready(ctxt context.Context) error {
	return s.pool.Ping(ctxt)
}

// Close release the connection pool
func (s *notificationStoreImpl) Close() {
	s.pool.Close()
}
