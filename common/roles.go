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

import (
	"errors"
	"fmt"
)

// ErrInvalidRole returned when a wire-level role tag is outside the
// supported set
var ErrInvalidRole = errors.New("unknown client role")

// Role is the category of a realtime client. The set is closed; routing
// and authentication dispatch on these variants only.
type Role string

// The supported realtime client roles
const (
	RoleDriver   Role = "driver"
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// AllRoles returns every supported role
func AllRoles() []Role {
	return []Role{RoleDriver, RoleCustomer, RoleAdmin}
}

// ParseRole converts a wire-level role tag into a Role
func ParseRole(tag string) (Role, error) {
	switch Role(tag) {
	case RoleDriver:
		return RoleDriver, nil
	case RoleCustomer:
		return RoleCustomer, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("%w '%s'", ErrInvalidRole, tag)
}

// String implements Stringer
func (r Role) String() string {
	return string(r)
}
