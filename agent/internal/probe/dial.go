package probe

import (
	"context"
	"crypto/tls"
	"math"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/presencewatch/presencewatch/agent/internal/config"
)

// dialProber times a TCP connect, or a TCP connect plus TLS handshake when
// tls is set.
type dialProber struct {
	target  config.Target
	timeout time.Duration
	tls     *tls.Config
}

func (p *dialProber) Probe(ctx context.Context) (*Sample, error) {
	addr := dialAddress(p.target.Endpoint, p.tls != nil)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	s := newSample(p.target, start)

	if p.tls == nil {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return s.fail("tcp connect %q: %w", p.target.ID, err), nil
		}
		s.RTT = time.Since(start)
		conn.Close()
		return s, nil
	}

	d := &tls.Dialer{NetDialer: &net.Dialer{}, Config: p.tls}
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return s.fail("tls handshake %q: %w", p.target.ID, err), nil
	}
	s.RTT = time.Since(start)
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	if certs := conn.ConnectionState().PeerCertificates; len(certs) > 0 {
		daysLeft := certs[0].NotAfter.Sub(time.Now()).Hours() / 24
		s.Extra["cert_days_left"] = math.Floor(daysLeft)
	}
	return s, nil
}

// dialAddress turns an endpoint into host:port. URLs are accepted for
// convenience; a missing port defaults to 443 for tls and 80 otherwise.
func dialAddress(endpoint string, secure bool) string {
	host := endpoint
	if strings.Contains(endpoint, "://") {
		if u, err := url.Parse(endpoint); err == nil {
			host = u.Host
			if u.Scheme == "https" {
				secure = true
			}
		}
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		port := "80"
		if secure {
			port = "443"
		}
		host = net.JoinHostPort(host, port)
	}
	return host
}
