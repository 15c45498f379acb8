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

package common

import "github.com/spf13/viper"

// ===============================================================================
// Event Channel Related Config

// ChannelReconnectConfig defines subscriber reconnect parameters
type ChannelReconnectConfig struct {
	// InitialInterval is the first retry delay in milliseconds
	InitialInterval int `mapstructure:"initial_interval_msec" json:"initial_interval_msec" validate:"gte=10"`
	// MaxInterval caps the retry delay in seconds. Retries continue for
	// process lifetime; there is no attempt limit.
	MaxInterval int `mapstructure:"max_interval_sec" json:"max_interval_sec" validate:"gte=1"`
}

// ChannelConfig defines parameters for connecting to the shared event channel
type ChannelConfig struct {
	// URL is the channel connection URL. The scheme selects the backing
	// transport: redis:// or nats://
	URL string `mapstructure:"url" json:"url" validate:"required,uri"`
	// Name is the well-known channel name all processes publish on
	Name string `mapstructure:"name" json:"name" validate:"required"`
	// ConnectTimeout is the max duration for the initial connect in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// Reconnect defines subscriber reconnect parameters
	Reconnect ChannelReconnectConfig `mapstructure:"reconnect" json:"reconnect" validate:"required"`
}

// ===============================================================================
// Database Related Config

// DatabaseConfig defines parameters for the notification store
type DatabaseConfig struct {
	// URI is the postgres connection URI
	URI string `mapstructure:"uri" json:"uri" validate:"required,uri"`
	// SchemaTimeout is the max duration for schema bootstrap in seconds
	SchemaTimeout int `mapstructure:"schema_timeout_sec" json:"schema_timeout_sec" validate:"gte=1"`
}

// ===============================================================================
// Realtime Gateway Related Config

// GatewayConfig defines the websocket gateway parameters
type GatewayConfig struct {
	// DriverKey is the shared access key for driver connections. Empty
	// disables the key check for the role.
	DriverKey string `mapstructure:"driver_key" json:"-"`
	// CustomerKey is the shared access key for customer connections
	CustomerKey string `mapstructure:"customer_key" json:"-"`
	// AdminJWTSecret signs the HS256 tokens presented by admin connections
	AdminJWTSecret string `mapstructure:"admin_jwt_secret" json:"-" validate:"required"`
	// IdleTimeout closes connections with no inbound frames after this many
	// seconds. Zero disables the idle check.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the per-frame write deadline in seconds
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=1"`
}

// ===============================================================================
// Fan-out Related Config

// FanoutConfig defines message fan-out parameters
type FanoutConfig struct {
	// TaskBuffer is the depth of the fan-out task queue
	TaskBuffer int `mapstructure:"task_buffer" json:"task_buffer" validate:"gte=1"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout. Must stay zero while the server
	// carries long-lived websocket sessions.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config for the gateway server
type SystemConfig struct {
	// Channel are the shared event channel config parameters
	Channel ChannelConfig `mapstructure:"channel" json:"channel" validate:"required"`
	// Database are the notification store config parameters
	Database DatabaseConfig `mapstructure:"database" json:"database" validate:"required"`
	// Gateway are the websocket gateway config parameters
	Gateway GatewayConfig `mapstructure:"gateway" json:"gateway" validate:"required"`
	// Fanout are the message fan-out config parameters
	Fanout FanoutConfig `mapstructure:"fanout" json:"fanout" validate:"required"`
	// API are the REST API / server config parameters
	API HTTPConfig `mapstructure:"api" json:"api" validate:"required"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default event channel settings
	viper.SetDefault("channel.url", "redis://127.0.0.1:6379/0")
	viper.SetDefault("channel.name", "rtgate.notifications")
	viper.SetDefault("channel.connect_timeout_sec", 30)
	viper.SetDefault("channel.reconnect.initial_interval_msec", 250)
	viper.SetDefault("channel.reconnect.max_interval_sec", 15)

	// Default notification store settings
	viper.SetDefault("database.uri", "postgres://postgres@127.0.0.1:5432/rtgate")
	viper.SetDefault("database.schema_timeout_sec", 30)

	// Default gateway settings
	viper.SetDefault("gateway.driver_key", "")
	viper.SetDefault("gateway.customer_key", "")
	viper.SetDefault("gateway.admin_jwt_secret", "change-this-secret-in-production")
	viper.SetDefault("gateway.idle_timeout_sec", 0)
	viper.SetDefault("gateway.write_timeout_sec", 10)

	// Default fan-out settings
	viper.SetDefault("fanout.task_buffer", 64)

	// Default API server settings
	viper.SetDefault("api.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("api.server_config.listen_port", 3000)
	viper.SetDefault("api.server_config.read_timeout_sec", 60)
	viper.SetDefault("api.server_config.write_timeout_sec", 0)
	viper.SetDefault("api.server_config.idle_timeout_sec", 600)
	viper.SetDefault("api.logging_config.request_id_header", "Rtgate-Request-ID")
	viper.SetDefault(
		"api.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
}
