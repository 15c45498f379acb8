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

package storage

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/roadassist/rtgate/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requires a live postgres; set RTGATE_TEST_DATABASE_URI to run
func TestNotificationStore(t *testing.T) {
	assert := assert.New(t)
	databaseURI := os.Getenv("RTGATE_TEST_DATABASE_URI")
	if databaseURI == "" {
		t.Skip("RTGATE_TEST_DATABASE_URI not set")
	}
	utCtxt := context.Background()

	uut, err := GetNewNotificationStoreInstance(utCtxt, common.DatabaseConfig{
		URI: databaseURI, SchemaTimeout: 10,
	})
	require.Nil(t, err)
	defer uut.Close()

	// Case 0: schema bootstrap is idempotent
	assert.Nil(uut.EnsureSchema(utCtxt))
	assert.Nil(uut.EnsureSchema(utCtxt))
	assert.Nil(uut.Ready(utCtxt))

	// Case 1: insert then read back in recency order
	role := "driver"
	subject := "d-4"
	firstID, err := uut.Insert(utCtxt, "role", &role, nil, json.RawMessage(`{"n":1}`))
	assert.Nil(err)
	secondID, err := uut.Insert(utCtxt, "subject", &role, &subject, json.RawMessage(`{"n":2}`))
	assert.Nil(err)
	assert.NotEqual(firstID, secondID)

	records, err := uut.ListRecent(utCtxt, 2)
	assert.Nil(err)
	require.Len(t, records, 2)
	assert.Equal(secondID, records[0].ID)
	assert.Equal("subject", records[0].TargetScope)
	assert.Equal("d-4", *records[0].TargetSubject)
	assert.Equal(firstID, records[1].ID)
	assert.Nil(records[1].TargetSubject)
}
