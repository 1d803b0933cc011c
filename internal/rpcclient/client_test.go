package rpcclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDaemon(t *testing.T, handler http.HandlerFunc) (*httptest.Server, DaemonConfig) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return srv, DaemonConfig{ID: "d0", Host: u.Hostname(), Port: port, User: "u", Password: "p"}
}

func TestClient_CallSuccess(t *testing.T) {
	_, daemon := newTestDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"blocks":100},"error":null,"id":1}`))
	})

	c := NewClient(Config{Daemons: []DaemonConfig{daemon}})
	results := c.Call(context.Background(), "getinfo", nil)

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	var out map[string]int
	require.NoError(t, json.Unmarshal(results[0].Result, &out))
	assert.Equal(t, 100, out["blocks"])
}

func TestClient_CallSalvagesNaN(t *testing.T) {
	_, daemon := newTestDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"difficulty":-nan,"blocks":100},"error":null,"id":1}`))
	})

	c := NewClient(Config{Daemons: []DaemonConfig{daemon}})
	results := c.Call(context.Background(), "getmininginfo", nil)

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
}

func TestClient_Unauthorized(t *testing.T) {
	_, daemon := newTestDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	c := NewClient(Config{Daemons: []DaemonConfig{daemon}})
	results := c.Call(context.Background(), "getinfo", nil)

	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrUnauthorized)
}

func TestClient_CheckOnline(t *testing.T) {
	_, ok := newTestDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{},"error":null,"id":1}`))
	})

	c := NewClient(Config{Daemons: []DaemonConfig{ok}})
	assert.Equal(t, EventOnline, c.CheckOnline(context.Background()))
}

func TestClient_Batch(t *testing.T) {
	_, daemon := newTestDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"result":1,"error":null,"id":0},{"result":2,"error":null,"id":1}]`))
	})

	c := NewClient(Config{Daemons: []DaemonConfig{daemon}})
	results, err := c.Batch(context.Background(), []BatchCall{
		{Method: "getblockcount"},
		{Method: "getdifficulty"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "1", string(results[0].Result))
	assert.Equal(t, "2", string(results[1].Result))
}
