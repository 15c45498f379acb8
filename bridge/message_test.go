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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseBroadcastMessage(t *testing.T) {
	assert := assert.New(t)

	// Case 0: role scoped message
	{
		msg, err := ParseBroadcastMessage(
			[]byte(`{"target":{"scope":"role","role":"driver"},"payload":{"event":"surge"}}`),
		)
		assert.Nil(err)
		assert.Equal(ScopeRole, msg.Target.Scope)
		assert.Equal("driver", msg.Target.Role)
		assert.Nil(msg.Target.SubjectID)
	}

	// Case 1: subject scoped message
	{
		msg, err := ParseBroadcastMessage(
			[]byte(`{"target":{"scope":"subject","role":"customer","subject_id":"c-12"},"payload":"eta"}`),
		)
		assert.Nil(err)
		assert.Equal(ScopeSubject, msg.Target.Scope)
		assert.Equal("c-12", *msg.Target.SubjectID)
	}

	// Case 2: all scoped message needs no role
	{
		msg, err := ParseBroadcastMessage(
			[]byte(`{"target":{"scope":"all"},"payload":{"event":"maintenance"}}`),
		)
		assert.Nil(err)
		assert.Equal(ScopeAll, msg.Target.Scope)
	}

	// Case 3: unknown extra fields are ignored
	{
		msg, err := ParseBroadcastMessage(
			[]byte(`{"target":{"scope":"all","region":"uk"},"payload":"x","trace_id":"abc"}`),
		)
		assert.Nil(err)
		assert.Equal(ScopeAll, msg.Target.Scope)
	}

	// Case 4: malformed inputs are rejected
	for _, input := range []string{
		`not json`,
		`{"target":{"scope":"role"},"payload":"x"}`,
		`{"target":{"scope":"role","role":"pilot"},"payload":"x"}`,
		`{"target":{"scope":"subject","role":"driver"},"payload":"x"}`,
		`{"target":{"scope":"subject","role":"driver","subject_id":""},"payload":"x"}`,
		`{"target":{"scope":"everyone"},"payload":"x"}`,
		`{"target":{"scope":"all"}}`,
	} {
		_, err := ParseBroadcastMessage([]byte(input))
		assert.NotNil(err, "input %s", input)
	}
}
