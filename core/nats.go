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
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/nats-io/nats.go"
	"github.com/roadassist/rtgate/common"
)

// NATSConnectParams NATS connection parameter
type NATSConnectParams struct {
	// ServerURI connect to the NATS cluster with URI
	ServerURI string `validate:"required,uri"`
	// ConnectTimeout max time to wait for connection
	ConnectTimeout time.Duration
	// ReconnectWait wait duration between reconnect attempts
	ReconnectWait time.Duration
	// OnDisconnectCallback callback on disconnect
	OnDisconnectCallback func(*nats.Conn, error)
	// OnReconnectCallback callback on reconnect
	OnReconnectCallback func(*nats.Conn)
	// OnCloseCallback callback on close
	OnCloseCallback func(*nats.Conn)
}

// NatsClient NATS client wrapper used as the event channel backend
type NatsClient struct {
	common.Component
	nc *nats.Conn
}

// NATs fetch the NATS connection
func (n NatsClient) NATs() *nats.Conn {
	return n.nc
}

// Ready check whether the NATS connection is currently up
func (n NatsClient) Ready() error {
	if n.nc.Status() != nats.CONNECTED {
		return fmt.Errorf("nats connection in state %s", n.nc.Status())
	}
	return nil
}

// Close close the NATS client
func (n NatsClient) Close(ctxt context.Context) {
	if err := n.nc.FlushWithContext(ctxt); err != nil {
		log.WithError(err).WithFields(n.LogTags).Error("NATS flush failed")
	}
	n.nc.Close()
	log.WithFields(n.LogTags).Info("Closed NATS client")
}

// GetNatsClient define a new NATS client. Reconnect attempts continue for
// process lifetime.
func GetNatsClient(params NATSConnectParams) (*NatsClient, error) {
	logTags := log.Fields{
		"module":    "core",
		"component": "nats-backend",
		"instance":  params.ServerURI,
	}
	nc, err := nats.Connect(
		params.ServerURI,
		nats.Timeout(params.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(params.ReconnectWait),
		nats.DisconnectErrHandler(params.OnDisconnectCallback),
		nats.ReconnectHandler(params.OnReconnectCallback),
		nats.ClosedHandler(params.OnCloseCallback),
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("NATS client connect failed")
		return nil, err
	}
	log.WithFields(logTags).Info("Created NATS client")
	return &NatsClient{
		Component: common.Component{LogTags: logTags},
		nc:        nc,
	}, nil
}
