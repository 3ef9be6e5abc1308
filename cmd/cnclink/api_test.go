package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAPI(t *testing.T) *httptest.Server {
	t.Helper()
	lg := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(newAPI(newController(lg), lg))
	t.Cleanup(srv.Close)
	return srv
}

func TestJSONSafe(t *testing.T) {
	vars := jsonSafe(map[string]any{
		"xmin":  math.Inf(1),
		"ymin":  math.Inf(-1),
		"bad":   math.NaN(),
		"mx":    1.5,
		"state": "Idle",
	})
	assert.Nil(t, vars["xmin"])
	assert.Nil(t, vars["ymin"])
	assert.Nil(t, vars["bad"])
	assert.Equal(t, 1.5, vars["mx"])
	assert.Equal(t, "Idle", vars["state"])

	_, err := json.Marshal(vars)
	assert.NoError(t, err)
}

func TestAPI_State(t *testing.T) {
	srv := testAPI(t)

	resp, err := http.Get(srv.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var msg struct {
		Conn string         `json:"conn"`
		Vars map[string]any `json:"vars"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
	assert.Equal(t, "disconnected", msg.Conn)
	assert.Equal(t, "N/A", msg.Vars["state"])
	assert.Nil(t, msg.Vars["xmin"])
}

func TestAPI_History(t *testing.T) {
	srv := testAPI(t)

	resp, err := http.Get(srv.URL + "/api/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestAPI_NotConnected(t *testing.T) {
	srv := testAPI(t)

	resp, err := http.Post(srv.URL+"/api/run?wait=1", "text/plain", strings.NewReader("G0 X1\n"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/files/sd/a.nc", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_Connect_BadRequest(t *testing.T) {
	srv := testAPI(t)

	resp, err := http.Post(srv.URL+"/api/connect?kind=bluetooth&addr=x", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/connect?kind=usb", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Program(t *testing.T) {
	srv := testAPI(t)

	resp, err := http.Post(srv.URL+"/api/program", "text/plain",
		strings.NewReader("G21 G90\nG0 X0 Y0\nG1 X10 Y5 F100\n"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sum programSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sum))
	assert.Equal(t, 3, sum.Lines)
	assert.NotZero(t, sum.Points)
	assert.Empty(t, sum.Issues)
	assert.NotNil(t, sum.Margins)
}
