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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/roadassist/rtgate/apis"
	"github.com/roadassist/rtgate/bridge"
	"github.com/roadassist/rtgate/common"
	"github.com/roadassist/rtgate/gateway"
	"github.com/roadassist/rtgate/lifecycle"
	"github.com/roadassist/rtgate/metrics"
	"github.com/roadassist/rtgate/registry"
	"github.com/roadassist/rtgate/storage"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// connectionGaugeRefreshInterval cadence of the registry gauge reconcile loop
const connectionGaugeRefreshInterval = time.Second * 15

// restLogWrapper route HTTP access log lines through the app logger
type restLogWrapper string

func (r restLogWrapper) Write(p []byte) (n int, err error) {
	log.Debugf("%s", p)
	return len(p), nil
}

// RunGatewayServer run the realtime gateway server until the runtime
// context cancels
func RunGatewayServer(
	runtimeContext context.Context,
	config *common.SystemConfig,
	instance string,
	source bridge.EventSource,
	channelReady func(ctxt context.Context) error,
	channelCloser lifecycle.ResourceCloser,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "gateway",
		"instance":  instance,
	}

	connRegistry, err := registry.GetNewConnectionRegistryInstance(instance)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define connection registry")
		return err
	}

	eventBridge, err := bridge.GetNewEventBridgeInstance(
		instance,
		source,
		connRegistry,
		bridge.ReconnectParams{
			InitialInterval: time.Millisecond * time.Duration(config.Channel.Reconnect.InitialInterval),
			MaxInterval:     time.Second * time.Duration(config.Channel.Reconnect.MaxInterval),
		},
		config.Fanout.TaskBuffer,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define event bridge")
		return err
	}

	store, err := storage.GetNewNotificationStoreInstance(runtimeContext, config.Database)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define notification store")
		return err
	}

	controller, err := lifecycle.GetNewControllerInstance(store, eventBridge, channelCloser)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define lifecycle controller")
		return err
	}
	if err := controller.Startup(runtimeContext); err != nil {
		log.WithError(err).WithFields(logTags).Error("Gateway startup failed")
		return err
	}

	auth, err := gateway.GetNewAuthenticatorInstance(config.Gateway)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define authenticator")
		return err
	}
	sessions, err := gateway.GetNewSessionManagerInstance(
		instance, connRegistry, auth, nil, config.Gateway,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define session manager")
		return err
	}

	httpHandler, err := apis.GetAPIRestGatewayHandler(
		sessions, eventBridge, store, connRegistry, channelReady, &config.API,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define HTTP handler")
		return err
	}

	// -------------------------------------------------------------------
	// Reconcile the connection gauges on an interval

	gaugeTimer, err := common.GetIntervalTimerInstance("connection-gauges", runtimeContext, wg)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define gauge refresh timer")
		return err
	}
	if err := gaugeTimer.Start(connectionGaugeRefreshInterval, func() error {
		for _, role := range common.AllRoles() {
			metrics.ActiveConnections.WithLabelValues(role.String()).Set(
				float64(connRegistry.Count(role)),
			)
		}
		return nil
	}, false); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start gauge refresh timer")
		return err
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	router := mux.NewRouter()

	wsRouter := apis.RegisterPathPrefix(router, "/v1/ws", map[string]http.HandlerFunc{
		"get": httpHandler.ConnectionStatsHandler(),
	})
	_ = apis.RegisterPathPrefix(wsRouter, "/{role}", map[string]http.HandlerFunc{
		"get": httpHandler.WebsocketSessionHandler(),
	})

	_ = apis.RegisterPathPrefix(router, "/v1/notify", map[string]http.HandlerFunc{
		"post": httpHandler.NotifyHandler(),
	})
	_ = apis.RegisterPathPrefix(router, "/v1/notifications", map[string]http.HandlerFunc{
		"get": httpHandler.ListNotificationsHandler(),
	})

	// Health check
	_ = apis.RegisterPathPrefix(router, "/alive", map[string]http.HandlerFunc{
		"get": httpHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(router, "/ready", map[string]http.HandlerFunc{
		"get": httpHandler.ReadyHandler(),
	})

	router.Path("/metrics").Handler(promhttp.Handler())

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(restLogWrapper("rest"), next)
	})

	serverListen := fmt.Sprintf(
		"%s:%d", config.API.Server.ListenOn, config.API.Server.Port,
	)
	httpSrv := &http.Server{
		Addr: serverListen,
		// write timeout must stay off while websocket sessions are live
		ReadTimeout: time.Second * time.Duration(config.API.Server.ReadTimeout),
		IdleTimeout: time.Second * time.Duration(config.API.Server.IdleTimeout),
		Handler:     h2c.NewHandler(router, &http2.Server{}),
	}

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started gateway server on http://%s", serverListen)

	// ============================================================================

	<-runtimeContext.Done()

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}
	_ = gaugeTimer.Stop()

	// Stop the subscriber, drop live sessions, release pooled resources
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		connRegistry.CloseAll(ctx)
		if err := controller.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during gateway shutdown")
			return err
		}
	}

	return nil
}
