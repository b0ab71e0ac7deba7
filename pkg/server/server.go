// Package server streams rows to a compiled DPLang program over
// websockets. Every connection gets its own interpreter instance, so each
// connection is an independent stream with its own history.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/thomasrohde/dplang/pkg/evaluator"
	"github.com/thomasrohde/dplang/pkg/runtime"
)

const (
	readTimeout  = 120 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is a client request: "row", "reset" or "ping".
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is a server reply: "output", "skip", "error", "halted",
// "reset", "pong" or "hello".
type Response struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// OutputPayload carries the output row for one input row.
type OutputPayload struct {
	Index int             `json:"index"`
	Row   json.RawMessage `json:"row"`
}

// ErrorPayload describes a failed request.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// HelloPayload is sent when a connection opens.
type HelloPayload struct {
	Connection string   `json:"connection"`
	Inputs     []string `json:"inputs"`
	Outputs    []string `json:"outputs"`
}

// Server serves one program.
type Server struct {
	prog   *runtime.Program
	logger zerolog.Logger
	active atomic.Int64
}

// New creates a server for prog.
func New(prog *runtime.Program, logger zerolog.Logger) *Server {
	return &Server{prog: prog, logger: logger.With().Str("component", "server").Logger()}
}

// Active returns the number of open connections.
func (s *Server) Active() int64 { return s.active.Load() }

// Handler returns the HTTP routes: /ws for streams and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "ok", "connections": s.Active()})
	})
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info().Str("addr", addr).Msg("listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// ServeHTTP upgrades the request and runs the connection's stream.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.handleConnection(conn)
}

func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()
	s.active.Add(1)
	defer s.active.Add(-1)

	id := uuid.New().String()
	log := s.logger.With().Str("conn", id).Logger()
	in := s.prog.NewInstance()
	log.Info().Str("remote", conn.RemoteAddr().String()).Str("run_id", in.RunID()).Msg("connection opened")

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	inputs := make([]string, 0)
	for _, p := range s.prog.Script().Inputs() {
		inputs = append(inputs, p.Name)
	}
	s.send(conn, Response{Type: "hello", Payload: HelloPayload{Connection: id, Inputs: inputs, Outputs: s.prog.OutputNames()}})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Msg("websocket read error")
			}
			stats := in.Stats()
			log.Info().Int("rows", stats.Rows).Int("emitted", stats.Emitted).Msg("connection closed")
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		switch msg.Type {
		case "ping":
			s.send(conn, Response{Type: "pong"})
		case "reset":
			in.Reset()
			s.send(conn, Response{Type: "reset"})
		case "row":
			s.handleRow(conn, in, msg.Payload)
		default:
			s.sendError(conn, "unknown_type", "unknown message type: "+msg.Type, 0)
		}
	}
}

func (s *Server) handleRow(conn *websocket.Conn, in *runtime.Interpreter, payload json.RawMessage) {
	row, err := decodeRow(payload)
	if err != nil {
		s.sendError(conn, "invalid_payload", err.Error(), 0)
		return
	}

	index := in.Stats().Rows
	out, err := in.ExecuteOne(row)
	switch {
	case errors.Is(err, runtime.ErrHalted):
		s.send(conn, Response{Type: "halted"})
	case err != nil:
		var re *evaluator.RuntimeError
		if errors.As(err, &re) {
			s.sendError(conn, re.Code, re.Message, re.Line())
			return
		}
		s.sendError(conn, "runtime_error", err.Error(), 0)
	case out == nil:
		s.send(conn, Response{Type: "skip", Payload: OutputPayload{Index: index}})
	default:
		b, err := evaluator.RowToJSON(out)
		if err != nil {
			s.sendError(conn, "encode_error", err.Error(), 0)
			return
		}
		s.send(conn, Response{Type: "output", Payload: OutputPayload{Index: index, Row: b}})
	}
}

func decodeRow(payload json.RawMessage) (evaluator.Row, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	row := make(evaluator.Row, len(obj))
	for k, v := range obj {
		row[k] = evaluator.FromAny(v)
	}
	return row, nil
}

func (s *Server) send(conn *websocket.Conn, resp Response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(resp); err != nil {
		s.logger.Debug().Err(err).Str("type", resp.Type).Msg("websocket write failed")
	}
}

func (s *Server) sendError(conn *websocket.Conn, code, message string, line int) {
	s.send(conn, Response{Type: "error", Payload: ErrorPayload{Code: code, Message: message, Line: line}})
}
