package observability

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactJSONNestedStructures(t *testing.T) {
	in := map[string]any{
		"api_key": "secret123",
		"user": map[string]any{
			"name":     "alice",
			"password": "hunter2",
		},
		"items": []any{
			map[string]any{"token": "tok"},
			"plain",
		},
		"note": "keepme",
	}
	b, err := json.Marshal(in)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(RedactJSON(b), &m))

	assert.Equal(t, "[REDACTED]", m["api_key"])
	assert.Equal(t, "[REDACTED]", m["user"].(map[string]any)["password"])
	assert.Equal(t, "alice", m["user"].(map[string]any)["name"])
	assert.Equal(t, "[REDACTED]", m["items"].([]any)[0].(map[string]any)["token"])
	assert.Equal(t, "keepme", m["note"])
}

func TestRedactJSONHeaderStyleKeys(t *testing.T) {
	b := []byte(`{"X-Api-Key":"k","Ocp-Apim-Subscription-Key":"s","Content-Type":"application/json"}`)

	var m map[string]any
	require.NoError(t, json.Unmarshal(RedactJSON(b), &m))

	assert.Equal(t, "[REDACTED]", m["X-Api-Key"])
	assert.Equal(t, "[REDACTED]", m["Ocp-Apim-Subscription-Key"])
	assert.Equal(t, "application/json", m["Content-Type"])
}

func TestRedactJSONEmptyAndInvalid(t *testing.T) {
	assert.Nil(t, RedactJSON(nil))

	raw := json.RawMessage("notjson")
	assert.Equal(t, "notjson", string(RedactJSON(raw)))
}
