package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"net"

	"github.com/tendant/immigration-portal/pkg/domain"
)

// clientFingerprint identifies the device a refresh token was issued to.
type clientFingerprint struct {
	IP        string
	UserAgent string
}

// fingerprintFor reads the client from opts, preferring the explicit IP and
// User-Agent over the raw request. Ports are dropped so a new connection from
// the same host still matches. ok is false when opts carry no client details.
func fingerprintFor(opts IssueOpts) (fp clientFingerprint, ok bool) {
	ip, ua := opts.IP, opts.UserAgent
	if opts.Request != nil {
		if ip == "" {
			ip = opts.Request.RemoteAddr
		}
		if ua == "" {
			ua = opts.Request.UserAgent()
		}
	}
	if ip == "" && ua == "" {
		return clientFingerprint{}, false
	}
	return clientFingerprint{IP: hostOnly(ip), UserAgent: ua}, true
}

// Hash is the SHA-256 of IP and User-Agent.
func (f clientFingerprint) Hash() string {
	sum := sha256.Sum256([]byte(f.IP + "|" + f.UserAgent))
	return hex.EncodeToString(sum[:])
}

func (f clientFingerprint) stamp(m *domain.SessionMetadata) {
	m.FingerprintHash = f.Hash()
	m.FingerprintIP = f.IP
	m.FingerprintUA = f.UserAgent
}

// changed names what differs from the fingerprint recorded in m, or returns
// "" when they match. Sessions issued without a fingerprint always match.
func (f clientFingerprint) changed(m domain.SessionMetadata) string {
	switch {
	case m.FingerprintHash == "" || m.FingerprintHash == f.Hash():
		return ""
	case m.FingerprintIP != f.IP:
		return "ip"
	case m.FingerprintUA != f.UserAgent:
		return "user_agent"
	default:
		return "hash"
	}
}

func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
