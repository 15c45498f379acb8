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
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/roadassist/rtgate/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGatewayConfig() common.GatewayConfig {
	return common.GatewayConfig{
		DriverKey:      "driver-secret",
		CustomerKey:    "customer-secret",
		AdminJWTSecret: "unit-test-signing-key",
		WriteTimeout:   2,
	}
}

func signTestToken(t *testing.T, secret string, expiresIn time.Duration) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin-1",
		"exp": time.Now().Add(expiresIn).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.Nil(t, err)
	return signed
}

func TestAuthenticatorSharedKeys(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	uut, err := GetNewAuthenticatorInstance(testGatewayConfig())
	require.Nil(t, err)

	// Case 0: correct key passes
	assert.Nil(uut.Authenticate(
		utCtxt, common.RoleDriver, url.Values{"key": []string{"driver-secret"}},
	))
	assert.Nil(uut.Authenticate(
		utCtxt, common.RoleCustomer, url.Values{"key": []string{"customer-secret"}},
	))

	// Case 1: wrong key and missing key fail
	assert.Equal(ErrAuthenticationFailed, uut.Authenticate(
		utCtxt, common.RoleDriver, url.Values{"key": []string{"customer-secret"}},
	))
	assert.Equal(ErrAuthenticationFailed, uut.Authenticate(
		utCtxt, common.RoleCustomer, url.Values{},
	))

	// Case 2: empty configured key disables the check
	openConfig := testGatewayConfig()
	openConfig.DriverKey = ""
	open, err := GetNewAuthenticatorInstance(openConfig)
	require.Nil(t, err)
	assert.Nil(open.Authenticate(utCtxt, common.RoleDriver, url.Values{}))
	assert.NotNil(open.Authenticate(utCtxt, common.RoleCustomer, url.Values{}))
}

func TestAuthenticatorAdminToken(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	config := testGatewayConfig()
	uut, err := GetNewAuthenticatorInstance(config)
	require.Nil(t, err)

	// Case 0: valid token passes
	assert.Nil(uut.Authenticate(utCtxt, common.RoleAdmin, url.Values{
		"token": []string{signTestToken(t, config.AdminJWTSecret, time.Minute)},
	}))

	// Case 1: wrong signing key fails
	assert.Equal(ErrAuthenticationFailed, uut.Authenticate(utCtxt, common.RoleAdmin, url.Values{
		"token": []string{signTestToken(t, "some-other-key", time.Minute)},
	}))

	// Case 2: expired token fails
	assert.Equal(ErrAuthenticationFailed, uut.Authenticate(utCtxt, common.RoleAdmin, url.Values{
		"token": []string{signTestToken(t, config.AdminJWTSecret, -time.Minute)},
	}))

	// Case 3: missing and garbage tokens fail
	assert.Equal(ErrAuthenticationFailed, uut.Authenticate(
		utCtxt, common.RoleAdmin, url.Values{},
	))
	assert.Equal(ErrAuthenticationFailed, uut.Authenticate(
		utCtxt, common.RoleAdmin, url.Values{"token": []string{"not.a.token"}},
	))
}
