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

package apis

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/roadassist/rtgate/bridge"
	"github.com/roadassist/rtgate/common"
	"github.com/roadassist/rtgate/gateway"
	"github.com/roadassist/rtgate/registry"
	"github.com/roadassist/rtgate/storage"
)

// defaultNotificationListLimit when the history query gives no limit
const defaultNotificationListLimit = 50

// APIRestGatewayHandler REST handler for the realtime gateway
type APIRestGatewayHandler struct {
	goutils.RestAPIHandler
	sessions     gateway.SessionManager
	eventBridge  bridge.EventBridge
	store        storage.NotificationStore
	registry     registry.ConnectionRegistry
	channelReady func(ctxt context.Context) error
	upgrader     websocket.Upgrader
}

// GetAPIRestGatewayHandler define APIRestGatewayHandler.
//
// channelReady may be nil if the channel client exposes no health probe.
func GetAPIRestGatewayHandler(
	sessions gateway.SessionManager,
	eventBridge bridge.EventBridge,
	store storage.NotificationStore,
	connRegistry registry.ConnectionRegistry,
	channelReady func(ctxt context.Context) error,
	httpConfig *common.HTTPConfig,
) (APIRestGatewayHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "realtime-gateway",
	}
	return APIRestGatewayHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range httpConfig.Logging.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		},
		sessions:     sessions,
		eventBridge:  eventBridge,
		store:        store,
		registry:     connRegistry,
		channelReady: channelReady,
		upgrader: websocket.Upgrader{
			// browser clients connect cross-origin from the mobile web app
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// =======================================================================
// Realtime endpoint

// WebsocketSession godoc
// @Summary Open a realtime notification session
// @Description Upgrades to websocket; credentials are carried in the query string
// @tags Gateway
// @Param role path string true "Connection role: driver, customer, or admin"
// @Param key query string false "Shared access key for driver / customer roles"
// @Param token query string false "Signed token for the admin role"
// @Param subject query string false "Subject ID for targeted delivery"
// @Success 101 {string} string "protocol switch"
// @Failure 400 {string} string "error"
// @Router /v1/ws/{role} [get]
func (h APIRestGatewayHandler) WebsocketSession(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	vars := mux.Vars(r)
	roleTag := vars["role"]

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied to the client
		log.WithError(err).WithFields(localLogTags).Warn("Websocket upgrade failed")
		return
	}
	_ = h.sessions.HandleSession(r.Context(), wsConn, roleTag, r.URL.Query())
}

// WebsocketSessionHandler Wrapper around WebsocketSession
func (h APIRestGatewayHandler) WebsocketSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.WebsocketSession(w, r)
	}
}

// =======================================================================
// Notification publish / history

// APIRestReqNotify request body for publishing a notification
type APIRestReqNotify struct {
	// Target selects the receiving connections
	Target bridge.MessageTarget `json:"target" validate:"required"`
	// Payload is the opaque notification body
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// APIRestRespNotifyAccepted response for an accepted notification
type APIRestRespNotifyAccepted struct {
	goutils.RestAPIBaseResponse
	// ID is the persisted notification ID
	ID string `json:"id"`
}

// Notify godoc
// @Summary Publish a notification
// @Description Validate, persist, then publish one notification onto the shared channel
// @tags Gateway
// @Accept json
// @Produce json
// @Param Rtgate-Request-ID header string false "User provided request ID to match against logs"
// @Param notification body APIRestReqNotify true "Notification to publish"
// @Success 200 {object} APIRestRespNotifyAccepted "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,500 {string} Rtgate-Request-ID "Request ID to match against logs"
// @Router /v1/notify [post]
func (h APIRestGatewayHandler) Notify(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	var params APIRestReqNotify
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	message := bridge.BroadcastMessage{Target: params.Target, Payload: params.Payload}
	if err := message.Validate(); err != nil {
		msg := "Invalid notification target"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	if len(params.Payload) == 0 {
		msg := "Notification carries no payload"
		log.WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	var targetRole *string
	if message.Target.Role != "" {
		targetRole = &message.Target.Role
	}
	id, err := h.store.Insert(
		r.Context(),
		string(message.Target.Scope),
		targetRole,
		message.Target.SubjectID,
		params.Payload,
	)
	if err != nil {
		msg := "Failed to persist notification"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	if err := h.eventBridge.Publish(r.Context(), message); err != nil {
		msg := "Failed to publish notification"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespNotifyAccepted{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		}, ID: id,
	}
}

// NotifyHandler Wrapper around Notify
func (h APIRestGatewayHandler) NotifyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Notify(w, r)
	}
}

// -----------------------------------------------------------------------

// APIRestRespNotifications response for listing recent notifications
type APIRestRespNotifications struct {
	goutils.RestAPIBaseResponse
	// Notifications the recently accepted notifications, newest first
	Notifications []storage.NotificationRecord `json:"notifications"`
}

// ListNotifications godoc
// @Summary List recent notifications
// @Description Fetch the most recently accepted notifications, newest first
// @tags Gateway
// @Produce json
// @Param Rtgate-Request-ID header string false "User provided request ID to match against logs"
// @Param limit query int false "Max entries to return"
// @Success 200 {object} APIRestRespNotifications "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,500 {string} Rtgate-Request-ID "Request ID to match against logs"
// @Router /v1/notifications [get]
func (h APIRestGatewayHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	limit := defaultNotificationListLimit
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed < 1 {
			msg := "Invalid limit parameter"
			log.WithFields(localLogTags).Error(msg)
			respCode = http.StatusBadRequest
			respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
			return
		}
		limit = parsed
	}

	records, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		msg := "Failed to fetch notifications"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespNotifications{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		}, Notifications: records,
	}
}

// ListNotificationsHandler Wrapper around ListNotifications
func (h APIRestGatewayHandler) ListNotificationsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ListNotifications(w, r)
	}
}

// -----------------------------------------------------------------------

// APIRestRespConnectionStats response for the live connection counts
type APIRestRespConnectionStats struct {
	goutils.RestAPIBaseResponse
	// Connections live connection count per role
	Connections map[string]int `json:"connections"`
}

// ConnectionStats godoc
// @Summary Live connection counts
// @Description Report the number of registered connections per role on this process
// @tags Gateway
// @Produce json
// @Param Rtgate-Request-ID header string false "User provided request ID to match against logs"
// @Success 200 {object} APIRestRespConnectionStats "success"
// @Header 200 {string} Rtgate-Request-ID "Request ID to match against logs"
// @Router /v1/ws [get]
func (h APIRestGatewayHandler) ConnectionStats(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	counts := map[string]int{}
	for _, role := range common.AllRoles() {
		counts[role.String()] = h.registry.Count(role)
	}
	resp := APIRestRespConnectionStats{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		}, Connections: counts,
	}
	if err := h.WriteRESTResponse(w, http.StatusOK, resp, nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// ConnectionStatsHandler Wrapper around ConnectionStats
func (h APIRestGatewayHandler) ConnectionStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ConnectionStats(w, r)
	}
}

// =======================================================================
// Health checks

// Alive godoc
// @Summary For gateway REST API liveness check
// @Description Will return success to indicate gateway REST API module is live
// @tags Gateway
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /alive [get]
func (h APIRestGatewayHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestGatewayHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// -----------------------------------------------------------------------

// Ready godoc
// @Summary For gateway REST API readiness check
// @Description Will return success if the notification store is reachable
// @tags Gateway
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /ready [get]
func (h APIRestGatewayHandler) Ready(w http.ResponseWriter, r *http.Request) {
	msg := "not ready"
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	if err := h.store.Ready(r.Context()); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Notification store not ready")
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, msg)
		return
	}
	if h.channelReady != nil {
		if err := h.channelReady(r.Context()); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Channel client not ready")
			respCode = http.StatusInternalServerError
			respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, msg)
			return
		}
	}
	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// ReadyHandler Wrapper around Ready
func (h APIRestGatewayHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}
