package broker

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPEndpoints(t *testing.T) {
	b := New(100, Options{})
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	post := func(path string, body any) *http.Response {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(buf))
		require.NoError(t, err)
		return resp
	}

	// Lock.
	resp := post("/lock", lockRequest{AppID: "app", EstimatedTokens: 60})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var lock LockResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lock))
	resp.Body.Close()
	require.True(t, lock.Allowed)
	require.NotEmpty(t, lock.RequestID)

	// Denied lock carries a stable reason string.
	resp = post("/lock", lockRequest{AppID: "app", EstimatedTokens: 60})
	var denied LockResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&denied))
	resp.Body.Close()
	assert.False(t, denied.Allowed)
	assert.Equal(t, "rate_limit_exceeded", denied.Reason)

	// Commit.
	resp = post("/commit", commitRequest{AppID: "app", RequestID: lock.RequestID, PromptTokens: 30, CompletionTokens: 20})
	var ok okResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ok))
	resp.Body.Close()
	assert.True(t, ok.OK)

	// Status.
	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	assert.Equal(t, 50, st.UsedTokens)
	assert.Equal(t, 0, st.LockedTokens)
	assert.Equal(t, 50, st.AvailableTokens)

	// Malformed body.
	resp, err = http.Post(srv.URL+"/lock", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
