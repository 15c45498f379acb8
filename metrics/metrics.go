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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ActiveConnections tracks the currently registered realtime connections per role
var ActiveConnections = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "rtgate_active_connections",
		Help: "Number of currently registered realtime connections",
	},
	[]string{"role"},
)

// TotalConnections counts every accepted realtime connection per role
var TotalConnections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rtgate_connections_total",
		Help: "Total number of accepted realtime connections",
	},
	[]string{"role"},
)

// AuthFailures counts rejected connection handshakes per role tag
var AuthFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rtgate_auth_failures_total",
		Help: "Total number of realtime connections rejected at handshake",
	},
	[]string{"role"},
)

// MessagesRelayed counts channel messages fanned out to local connections
var MessagesRelayed = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "rtgate_messages_relayed_total",
		Help: "Total number of channel messages relayed to local connections",
	},
)

// DeliveryFailures counts per-connection delivery failures during fan-out
var DeliveryFailures = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "rtgate_delivery_failures_total",
		Help: "Total number of failed writes to realtime connections",
	},
)

// BridgeReconnects counts subscriber reconnect attempts against the channel
var BridgeReconnects = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "rtgate_bridge_reconnects_total",
		Help: "Total number of event channel subscriber reconnect attempts",
	},
)
