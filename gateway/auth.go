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
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"

	"github.com/apex/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/roadassist/rtgate/common"
)

// ErrAuthenticationFailed returned when a connection fails its role's
// credential check
var ErrAuthenticationFailed = errors.New("connection authentication failed")

// Authenticator verifies the credentials a new connection presents for
// its role before the connection is registered
type Authenticator interface {
	// Authenticate check the credential carried in the request query
	// against the role's configured scheme
	Authenticate(ctxt context.Context, role common.Role, query url.Values) error
}

// authenticatorImpl implements Authenticator
type authenticatorImpl struct {
	common.Component
	driverKey      string
	customerKey    string
	adminJWTSecret []byte
}

// GetNewAuthenticatorInstance get instance of Authenticator
func GetNewAuthenticatorInstance(config common.GatewayConfig) (Authenticator, error) {
	logTags := log.Fields{
		"module": "gateway", "component": "authenticator",
	}
	if len(config.AdminJWTSecret) == 0 {
		return nil, fmt.Errorf("admin JWT secret must not be empty")
	}
	return &authenticatorImpl{
		Component:      common.Component{LogTags: logTags},
		driverKey:      config.DriverKey,
		customerKey:    config.CustomerKey,
		adminJWTSecret: []byte(config.AdminJWTSecret),
	}, nil
}

// Authenticate check the credential carried in the request query against
// the role's configured scheme. Drivers and customers present a per-role
// shared key; admins present a signed HS256 token. An empty configured
// shared key disables the check for that role.
func (a *authenticatorImpl) Authenticate(
	ctxt context.Context, role common.Role, query url.Values,
) error {
	switch role {
	case common.RoleDriver:
		return a.checkSharedKey(a.driverKey, query.Get("key"))
	case common.RoleCustomer:
		return a.checkSharedKey(a.customerKey, query.Get("key"))
	case common.RoleAdmin:
		return a.checkAdminToken(query.Get("token"))
	}
	return fmt.Errorf("role '%s' has no authentication scheme", role)
}

func (a *authenticatorImpl) checkSharedKey(expected, presented string) error {
	if expected == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) != 1 {
		return ErrAuthenticationFailed
	}
	return nil
}

func (a *authenticatorImpl) checkAdminToken(tokenString string) error {
	if tokenString == "" {
		return ErrAuthenticationFailed
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.adminJWTSecret, nil
	})
	if err != nil {
		log.WithError(err).WithFields(a.LogTags).Debug("Admin token rejected")
		return ErrAuthenticationFailed
	}
	if !token.Valid {
		return ErrAuthenticationFailed
	}
	return nil
}
