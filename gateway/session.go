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

package gateway

import (
	"context"
	"net/url"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"
	"github.com/roadassist/rtgate/common"
	"github.com/roadassist/rtgate/metrics"
	"github.com/roadassist/rtgate/registry"
)

// SessionState the lifecycle state of one websocket session
type SessionState int

// The session lifecycle states
const (
	// StateConnecting the socket is upgraded but the role is not yet known
	StateConnecting SessionState = iota
	// StateAuthenticating the role is known and credentials are being checked
	StateAuthenticating
	// StateOpen the session is registered and relaying frames
	StateOpen
	// StateClosing teardown has begun
	StateClosing
	// StateClosed the session is fully torn down
	StateClosed
)

// String implement Stringer
func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// FrameHandler application hook for inbound text frames other than the
// keep-alive probe. Returning an error logs the failure; it never tears
// the session down.
type FrameHandler func(ctxt context.Context, conn *registry.Connection, payload []byte) error

// SessionManager drives upgraded websocket connections through
// authentication, registration, and the read loop
type SessionManager interface {
	// HandleSession run one upgraded connection to completion. Blocks
	// until the peer disconnects or the context cancels; the connection
	// is unregistered and closed on every exit path.
	HandleSession(
		ctxt context.Context, wsConn *websocket.Conn, roleTag string, query url.Values,
	) error
}

// sessionManagerImpl implements SessionManager
type sessionManagerImpl struct {
	common.Component
	registry     registry.ConnectionRegistry
	auth         Authenticator
	frameHandler FrameHandler
	idleTimeout  time.Duration
	writeTimeout time.Duration
}

// GetNewSessionManagerInstance get instance of SessionManager.
//
// frameHandler may be nil, in which case inbound frames are logged and
// dropped.
func GetNewSessionManagerInstance(
	instance string,
	connRegistry registry.ConnectionRegistry,
	auth Authenticator,
	frameHandler FrameHandler,
	config common.GatewayConfig,
) (SessionManager, error) {
	logTags := log.Fields{
		"module": "gateway", "component": "session-manager", "instance": instance,
	}
	instanceImpl := &sessionManagerImpl{
		Component:    common.Component{LogTags: logTags},
		registry:     connRegistry,
		auth:         auth,
		frameHandler: frameHandler,
		idleTimeout:  time.Second * time.Duration(config.IdleTimeout),
		writeTimeout: time.Second * time.Duration(config.WriteTimeout),
	}
	if instanceImpl.frameHandler == nil {
		instanceImpl.frameHandler = instanceImpl.logAndDropFrame
	}
	return instanceImpl, nil
}

// HandleSession run one upgraded connection to completion
func (m *sessionManagerImpl) HandleSession(
	ctxt context.Context, wsConn *websocket.Conn, roleTag string, query url.Values,
) error {
	m.noteState(StateConnecting, m.LogTags)

	role, err := common.ParseRole(roleTag)
	if err != nil {
		log.WithError(err).WithFields(m.LogTags).Warnf("Rejecting connection for role '%s'", roleTag)
		m.refuse(wsConn, "unknown role")
		return err
	}
	logTags := log.Fields{}
	for key, value := range m.LogTags {
		logTags[key] = value
	}
	logTags["role"] = role.String()

	m.noteState(StateAuthenticating, logTags)
	if err := m.auth.Authenticate(ctxt, role, query); err != nil {
		metrics.AuthFailures.WithLabelValues(role.String()).Inc()
		log.WithError(err).WithFields(logTags).Warn("Connection failed authentication")
		m.refuse(wsConn, "authentication failed")
		return ErrAuthenticationFailed
	}

	var subjectID *string
	if subject := query.Get("subject"); subject != "" {
		subjectID = &subject
	}

	conn := registry.NewConnection(newWSTransport(wsConn, m.writeTimeout), role, subjectID)
	logTags["connection"] = conn.ID
	if err := m.registry.Register(ctxt, conn); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to register connection")
		m.refuse(wsConn, "registration failed")
		return err
	}
	// teardown runs on every exit path
	defer func() {
		m.registry.Unregister(ctxt, conn)
		_ = conn.Close()
		m.noteState(StateClosed, logTags)
		log.WithFields(logTags).Info("Session closed")
	}()

	m.noteState(StateOpen, logTags)
	log.WithFields(logTags).Info("Session open")
	err = m.readLoop(ctxt, wsConn, conn, logTags)
	m.noteState(StateClosing, logTags)
	return err
}

// readLoop consume inbound frames until the peer disconnects
func (m *sessionManagerImpl) readLoop(
	ctxt context.Context,
	wsConn *websocket.Conn,
	conn *registry.Connection,
	logTags log.Fields,
) error {
	// clear any deadline inherited from the HTTP server's read timeout
	if m.idleTimeout == 0 {
		if err := wsConn.SetReadDeadline(time.Time{}); err != nil {
			return err
		}
	}
	for {
		if m.idleTimeout > 0 {
			if err := wsConn.SetReadDeadline(time.Now().Add(m.idleTimeout)); err != nil {
				return err
			}
		}
		msgType, data, err := wsConn.ReadMessage()
		if err != nil {
			// peer disconnects are expected, not failures
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
			) {
				log.WithError(err).WithFields(logTags).Debug("Session read ended")
			}
			return nil
		}
		switch msgType {
		case websocket.TextMessage:
			if string(data) == "ping" {
				if err := conn.Send(ctxt, []byte("pong")); err != nil {
					log.WithError(err).WithFields(logTags).Warn("Unable to answer keep-alive probe")
					return nil
				}
				continue
			}
			if err := m.frameHandler(ctxt, conn, data); err != nil {
				log.WithError(err).WithFields(logTags).Warn("Frame handler reported failure")
			}
		case websocket.BinaryMessage:
			log.WithFields(logTags).Warn("Binary frame received, closing session")
			_ = wsConn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(
					websocket.CloseUnsupportedData, "binary frames not supported",
				),
				time.Now().Add(m.writeTimeout),
			)
			return nil
		}
	}
}

// refuse close an unregistered connection with a policy violation frame
func (m *sessionManagerImpl) refuse(wsConn *websocket.Conn, reason string) {
	_ = wsConn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(m.writeTimeout),
	)
	_ = wsConn.Close()
}

func (m *sessionManagerImpl) noteState(state SessionState, logTags log.Fields) {
	log.WithFields(logTags).Debugf("Session state %s", state)
}

// logAndDropFrame default frame handler
func (m *sessionManagerImpl) logAndDropFrame(
	ctxt context.Context, conn *registry.Connection, payload []byte,
) error {
	log.WithFields(m.LogTags).WithField("connection", conn.ID).Debugf(
		"Dropping unhandled inbound frame of %dB", len(payload),
	)
	return nil
}
