package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"taintgrid.ai/internal/metrics"
	"taintgrid.ai/internal/protocol"
)

// Host is the slice of the simulation host a connection needs.
type Host interface {
	Submit(ctx context.Context, op protocol.OpMsg) (protocol.ResultMsg, error)
	SessionID() string
	CurrentTick() uint64
	TickRateHz() int
}

type Server struct {
	host    Host
	log     *log.Logger
	metrics *metrics.Metrics

	// Digest reports the active tuning digest for WELCOME and /v1/status.
	Digest func() string

	upgrader websocket.Upgrader
}

func NewServer(h Host, logger *log.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[ws] ", log.LstdFlags)
	}
	return &Server{
		host:    h,
		log:     logger,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) digest() string {
	if s.Digest == nil {
		return ""
	}
	return s.Digest()
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		client, ok := s.handshake(conn)
		if !ok {
			return
		}
		s.metrics.ConnOpened()
		defer s.metrics.ConnClosed()
		s.log.Printf("client connected: %s (%s)", client, r.RemoteAddr)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan []byte, 64)
		writeErr := make(chan error, 1)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop. Ops are submitted one at a time so results keep the
		// order the client sent them in.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			res, stop := s.serveOp(ctx, msg)
			if stop {
				break
			}
			b, err := json.Marshal(res)
			if err != nil {
				s.log.Printf("marshal result: %v", err)
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		s.log.Printf("client disconnected: %s", client)
	}
}

// serveOp decodes one frame and runs it through the host. stop reports that
// the connection should end.
func (s *Server) serveOp(ctx context.Context, msg []byte) (res protocol.ResultMsg, stop bool) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return protocol.Fail("", protocol.ErrProtoBadRequest, "bad json"), false
	}
	if base.Type != protocol.TypeOp {
		return protocol.Fail("", protocol.ErrProtoBadRequest, "expected OP"), false
	}
	var op protocol.OpMsg
	if err := json.Unmarshal(msg, &op); err != nil {
		return protocol.Fail("", protocol.ErrProtoBadRequest, "bad OP: "+err.Error()), false
	}

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	res, err = s.host.Submit(callCtx, op)
	switch {
	case err == nil:
		return res, false
	case errors.Is(err, context.DeadlineExceeded):
		return protocol.Fail(op.ID, protocol.ErrBusy, "host did not answer in time"), false
	case ctx.Err() != nil:
		return protocol.ResultMsg{}, true
	default:
		return protocol.Fail(op.ID, protocol.ErrClosed, err.Error()), false
	}
}

func (s *Server) handshake(conn *websocket.Conn) (client string, ok bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", false
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", false
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", false
	}
	if hello.Client == "" {
		hello.Client = "client"
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       s.host.SessionID(),
		Tick:            s.host.CurrentTick(),
		TickRateHz:      s.host.TickRateHz(),
		TuningDigest:    s.digest(),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", false
	}
	return hello.Client, true
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
