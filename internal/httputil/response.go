package httputil

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	svcerrors "github.com/R3E-Network/marketpulse/internal/errors"
)

// WriteJSON writes data as a JSON body with status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes {"error": msg} with status.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// WriteServiceError answers with the status and code carried by err.
func WriteServiceError(w http.ResponseWriter, err error) {
	status := svcerrors.HTTPStatusOf(err)
	body := map[string]interface{}{"error": err.Error()}
	if se, ok := svcerrors.As(err); ok {
		body["error"] = se.Message
		body["code"] = se.Code
		if len(se.Details) > 0 {
			body["details"] = se.Details
		}
	}
	WriteJSON(w, status, body)
}

// BadRequest answers 400 with msg.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteError(w, http.StatusBadRequest, msg)
}

// InternalError answers 500 with msg.
func InternalError(w http.ResponseWriter, msg string) {
	WriteError(w, http.StatusInternalServerError, msg)
}

// TrustedProxies lists the peers allowed to report the client address
// through X-Forwarded-For or X-Real-IP.
type TrustedProxies []*net.IPNet

// ParseTrustedProxies accepts IP addresses and CIDR ranges.
func ParseTrustedProxies(entries []string) (TrustedProxies, error) {
	var out TrustedProxies
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", entry)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		out = append(out, network)
	}
	return out, nil
}

func (p TrustedProxies) contains(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, network := range p {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the caller address. Forwarding headers are read only when
// the peer is trusted; X-Forwarded-For is walked from the right, skipping
// trusted hops.
func (p TrustedProxies) ClientIP(r *http.Request) string {
	peer := peerIP(r)
	if len(p) == 0 || !p.contains(peer) {
		return peer
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		hops := strings.Split(fwd, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !p.contains(hop) || i == 0 {
				return hop
			}
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}
	return peer
}

func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
