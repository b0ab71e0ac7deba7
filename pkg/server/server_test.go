package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/dplang/pkg/runtime"
	"github.com/thomasrohde/dplang/pkg/server"
)

const script = `-- INPUT x:number --
-- OUTPUT y:number, prev:number --
-- ERROR --
exit
-- ERROR_END --
if x > 0:
    return [10 / x, x[-1]]
`

type reply struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func startServer(t *testing.T) (*server.Server, string) {
	t.Helper()
	prog, err := runtime.New().Compile(script, "stream.dp")
	require.NoError(t, err)
	srv := server.New(prog, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	hello := read(t, conn)
	require.Equal(t, "hello", hello.Type)
	var p server.HelloPayload
	require.NoError(t, json.Unmarshal(hello.Payload, &p))
	assert.Equal(t, []string{"x"}, p.Inputs)
	assert.Equal(t, []string{"y", "prev"}, p.Outputs)
	assert.NotEmpty(t, p.Connection)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) reply {
	t.Helper()
	var r reply
	require.NoError(t, conn.ReadJSON(&r))
	return r
}

func sendRow(t *testing.T, conn *websocket.Conn, row string) reply {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "row", "payload": json.RawMessage(row)}))
	return read(t, conn)
}

func TestStreamRows(t *testing.T) {
	_, url := startServer(t)
	conn := dial(t, url)

	r := sendRow(t, conn, `{"x": 2}`)
	require.Equal(t, "output", r.Type)
	assert.JSONEq(t, `{"index": 0, "row": {"y": 5, "prev": null}}`, string(r.Payload))

	r = sendRow(t, conn, `{"x": -1}`)
	assert.Equal(t, "skip", r.Type)

	r = sendRow(t, conn, `{"x": 4}`)
	assert.JSONEq(t, `{"index": 2, "row": {"y": 2.5, "prev": -1}}`, string(r.Payload))
}

func TestConnectionsAreIndependent(t *testing.T) {
	_, url := startServer(t)
	a := dial(t, url)
	b := dial(t, url)

	sendRow(t, a, `{"x": 1}`)
	r := sendRow(t, b, `{"x": 5}`)
	assert.JSONEq(t, `{"index": 0, "row": {"y": 2, "prev": null}}`, string(r.Payload))
}

func TestExitHaltsStream(t *testing.T) {
	_, url := startServer(t)
	conn := dial(t, url)

	r := sendRow(t, conn, `{"x": "abc"}`)
	assert.Equal(t, "halted", r.Type)
	r = sendRow(t, conn, `{"x": 1}`)
	assert.Equal(t, "halted", r.Type)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "reset"}))
	assert.Equal(t, "reset", read(t, conn).Type)
	r = sendRow(t, conn, `{"x": 1}`)
	assert.Equal(t, "output", r.Type)
}

func TestProtocolErrors(t *testing.T) {
	_, url := startServer(t)
	conn := dial(t, url)

	r := sendRow(t, conn, `[1, 2]`)
	require.Equal(t, "error", r.Type)
	var p server.ErrorPayload
	require.NoError(t, json.Unmarshal(r.Payload, &p))
	assert.Equal(t, "invalid_payload", p.Code)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "dance"}))
	r = read(t, conn)
	require.NoError(t, json.Unmarshal(r.Payload, &p))
	assert.Equal(t, "unknown_type", p.Code)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", read(t, conn).Type)
}

func TestHealthz(t *testing.T) {
	srv, _ := startServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok", "connections": 0}`, rec.Body.String())
}
