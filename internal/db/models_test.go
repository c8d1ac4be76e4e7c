package db

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONBScan(t *testing.T) {
	var j JSONB

	require.NoError(t, j.Scan([]byte(`{"a":1}`)))
	assert.Equal(t, JSONB(`{"a":1}`), j)

	require.NoError(t, j.Scan(`{"b":2}`))
	assert.Equal(t, JSONB(`{"b":2}`), j)

	require.NoError(t, j.Scan(nil))
	assert.Nil(t, j)

	assert.Error(t, j.Scan(42))
}

func TestJSONBValue(t *testing.T) {
	v, err := JSONB(`{"a":1}`).Value()
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), v)

	v, err = JSONB(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestJSONBMarshalJSON(t *testing.T) {
	out, err := json.Marshal(struct {
		Params JSONB `json:"params"`
	}{Params: JSONB(`{"scan_type":"port-scan"}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"params":{"scan_type":"port-scan"}}`, string(out))

	out, err = json.Marshal(struct {
		Params JSONB `json:"params"`
	}{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"params":null}`, string(out))
}

func TestIsTerminalStatus(t *testing.T) {
	assert.True(t, IsTerminalStatus(JobStatusCompleted))
	assert.True(t, IsTerminalStatus(JobStatusFailed))
	assert.True(t, IsTerminalStatus(JobStatusCancelled))
	assert.False(t, IsTerminalStatus(JobStatusPending))
	assert.False(t, IsTerminalStatus(JobStatusRunning))
	assert.False(t, IsTerminalStatus(""))
}

func TestTargetConversionRoundTrip(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	stored := TargetStrings(ids)
	require.Len(t, stored, 3)

	parsed, err := TargetUUIDs(stored)
	require.NoError(t, err)
	assert.Equal(t, ids, parsed, "submission order survives the round trip")
}

func TestTargetUUIDsRejectsMalformed(t *testing.T) {
	_, err := TargetUUIDs(pq.StringArray{uuid.New().String(), "not-a-uuid"})
	assert.Error(t, err)
}
