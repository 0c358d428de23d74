package ws

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"taintgrid.ai/internal/protocol"
)

type StatusResponse struct {
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	Tick            uint64 `json:"tick"`
	TickRateHz      int    `json:"tick_rate_hz"`
	TuningDigest    string `json:"tuning_digest,omitempty"`
}

// StatusHandler serves the session header as JSON. Only loopback clients are
// answered.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := StatusResponse{
			ProtocolVersion: protocol.Version,
			SessionID:       s.host.SessionID(),
			Tick:            s.host.CurrentTick(),
			TickRateHz:      s.host.TickRateHz(),
			TuningDigest:    s.digest(),
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
