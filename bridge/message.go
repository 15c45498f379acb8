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

package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/roadassist/rtgate/common"
)

// TargetScope names how wide a broadcast message fans out
type TargetScope string

// The supported target scopes
const (
	// ScopeAll targets every registered connection
	ScopeAll TargetScope = "all"
	// ScopeRole targets every connection under one role
	ScopeRole TargetScope = "role"
	// ScopeSubject targets one subject's connections within a role
	ScopeSubject TargetScope = "subject"
)

// MessageTarget selects the connections a broadcast message is for
type MessageTarget struct {
	// Scope is the fan-out width
	Scope TargetScope `json:"scope" validate:"required,oneof=all role subject"`
	// Role is the targeted role. Required unless Scope is "all".
	Role string `json:"role,omitempty"`
	// SubjectID is the targeted subject. Required when Scope is "subject".
	SubjectID *string `json:"subject_id,omitempty"`
}

// BroadcastMessage is the record carried on the shared event channel.
// Extra fields on the wire are ignored.
type BroadcastMessage struct {
	// Target selects the receiving connections
	Target MessageTarget `json:"target" validate:"required"`
	// Payload is the opaque notification body forwarded verbatim
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// Validate check a broadcast message beyond its struct tags
func (m BroadcastMessage) Validate() error {
	switch m.Target.Scope {
	case ScopeAll:
		return nil
	case ScopeRole:
		_, err := common.ParseRole(m.Target.Role)
		return err
	case ScopeSubject:
		if _, err := common.ParseRole(m.Target.Role); err != nil {
			return err
		}
		if m.Target.SubjectID == nil || *m.Target.SubjectID == "" {
			return fmt.Errorf("subject scope requires a subject_id")
		}
		return nil
	}
	return fmt.Errorf("unknown target scope '%s'", m.Target.Scope)
}

// ParseBroadcastMessage decode one channel message
func ParseBroadcastMessage(data []byte) (BroadcastMessage, error) {
	var parsed BroadcastMessage
	if err := json.Unmarshal(data, &parsed); err != nil {
		return BroadcastMessage{}, err
	}
	if len(parsed.Payload) == 0 {
		return BroadcastMessage{}, fmt.Errorf("broadcast message carries no payload")
	}
	if err := parsed.Validate(); err != nil {
		return BroadcastMessage{}, err
	}
	return parsed, nil
}
