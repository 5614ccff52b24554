package debugsrv

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.skia.org/snapped/internal/debugger"
)

func TestServer_GetState_ReturnsDummyState(t *testing.T) {
	d := debugger.NewDummy()
	s := New(d)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var state map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.NotEmpty(t, state)
}

func TestServer_GetSnapshot_OK(t *testing.T) {
	d := debugger.NewDummy()
	s := New(d)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_GetSymbols_OK(t *testing.T) {
	d := debugger.NewDummy()
	s := New(d)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/symbols")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_PublishTopologyEvent_DoesNotPanic(t *testing.T) {
	d := debugger.NewDummy()
	s := New(d)
	assert.NotPanics(t, func() {
		s.PublishTopologyEvent(TopologyEvent{Kind: "attached", ChildID: 1, Descriptor: "host-0-1"})
	})
}
