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
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/roadassist/rtgate/common"
	"github.com/roadassist/rtgate/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sessionTestServer wires a session manager behind an upgrading handler
func sessionTestServer(
	t *testing.T, connRegistry registry.ConnectionRegistry, frameHandler FrameHandler,
) *httptest.Server {
	auth, err := GetNewAuthenticatorInstance(testGatewayConfig())
	require.Nil(t, err)
	mgr, err := GetNewSessionManagerInstance(
		uuid.New().String(), connRegistry, auth, frameHandler, testGatewayConfig(),
	)
	require.Nil(t, err)

	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = mgr.HandleSession(r.Context(), wsConn, r.URL.Query().Get("role"), r.URL.Query())
	}))
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
}

func TestSessionLifecycle(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)
	utCtxt := context.Background()

	connRegistry, err := registry.GetNewConnectionRegistryInstance(uuid.New().String())
	require.Nil(t, err)
	srv := sessionTestServer(t, connRegistry, nil)
	defer srv.Close()

	// Case 0: authenticated driver is registered
	client, _, err := websocket.DefaultDialer.Dial(
		wsURL(srv, "role=driver&key=driver-secret&subject=d-9"), nil,
	)
	require.Nil(t, err)
	assert.Eventually(func() bool {
		return connRegistry.Count(common.RoleDriver) == 1
	}, time.Second, time.Millisecond*10)

	// Case 1: keep-alive probe answered without registry involvement
	assert.Nil(client.WriteMessage(websocket.TextMessage, []byte("ping")))
	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	_, reply, err := client.ReadMessage()
	assert.Nil(err)
	assert.Equal("pong", string(reply))

	// Case 2: registry delivery reaches the dialed peer
	assert.Eventually(func() bool {
		subject := "d-9"
		return connRegistry.SendTo(utCtxt, common.RoleDriver, &subject, []byte(`{"k":1}`)) == 1
	}, time.Second, time.Millisecond*10)
	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	_, delivered, err := client.ReadMessage()
	assert.Nil(err)
	assert.Equal(`{"k":1}`, string(delivered))

	// Case 3: peer disconnect unregisters the session
	assert.Nil(client.Close())
	assert.Eventually(func() bool {
		return connRegistry.Count(common.RoleDriver) == 0
	}, time.Second, time.Millisecond*10)
}

func TestSessionRejection(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	connRegistry, err := registry.GetNewConnectionRegistryInstance(uuid.New().String())
	require.Nil(t, err)
	srv := sessionTestServer(t, connRegistry, nil)
	defer srv.Close()

	expectPolicyClose := func(query string) {
		client, _, err := websocket.DefaultDialer.Dial(wsURL(srv, query), nil)
		require.Nil(t, err)
		defer func() {
			_ = client.Close()
		}()
		_ = client.SetReadDeadline(time.Now().Add(time.Second))
		_, _, err = client.ReadMessage()
		assert.True(websocket.IsCloseError(err, websocket.ClosePolicyViolation), "query %s", query)
	}

	// Case 0: unknown role is refused
	expectPolicyClose("role=pilot")

	// Case 1: wrong driver key is refused
	expectPolicyClose("role=driver&key=wrong")

	// Case 2: admin with no token is refused
	expectPolicyClose("role=admin")

	// nothing was ever registered
	for _, role := range common.AllRoles() {
		assert.Equal(0, connRegistry.Count(role))
	}
}

func TestSessionAdminToken(t *testing.T) {
	assert := assert.New(t)
	connRegistry, err := registry.GetNewConnectionRegistryInstance(uuid.New().String())
	require.Nil(t, err)
	srv := sessionTestServer(t, connRegistry, nil)
	defer srv.Close()

	token := signTestToken(t, testGatewayConfig().AdminJWTSecret, time.Minute)
	client, _, err := websocket.DefaultDialer.Dial(
		wsURL(srv, fmt.Sprintf("role=admin&token=%s", token)), nil,
	)
	require.Nil(t, err)
	defer func() {
		_ = client.Close()
	}()
	assert.Eventually(func() bool {
		return connRegistry.Count(common.RoleAdmin) == 1
	}, time.Second, time.Millisecond*10)
}

func TestSessionInboundFrames(t *testing.T) {
	assert := assert.New(t)
	connRegistry, err := registry.GetNewConnectionRegistryInstance(uuid.New().String())
	require.Nil(t, err)

	var handlerLock sync.Mutex
	var seenFrames []string
	handler := func(ctxt context.Context, conn *registry.Connection, payload []byte) error {
		handlerLock.Lock()
		defer handlerLock.Unlock()
		seenFrames = append(seenFrames, string(payload))
		return nil
	}
	srv := sessionTestServer(t, connRegistry, handler)
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial(
		wsURL(srv, "role=customer&key=customer-secret"), nil,
	)
	require.Nil(t, err)
	defer func() {
		_ = client.Close()
	}()

	// Case 0: non-probe text frames reach the frame handler
	assert.Nil(client.WriteMessage(websocket.TextMessage, []byte(`{"loc":[1,2]}`)))
	assert.Eventually(func() bool {
		handlerLock.Lock()
		defer handlerLock.Unlock()
		return len(seenFrames) == 1 && seenFrames[0] == `{"loc":[1,2]}`
	}, time.Second, time.Millisecond*10)

	// Case 1: binary frames end the session
	assert.Nil(client.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}))
	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := client.ReadMessage(); err != nil {
			assert.True(websocket.IsCloseError(err, websocket.CloseUnsupportedData))
			break
		}
	}
	assert.Eventually(func() bool {
		return connRegistry.Count(common.RoleCustomer) == 0
	}, time.Second, time.Millisecond*10)
}
