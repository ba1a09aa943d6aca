package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/presencewatch/presencewatch/agent/internal/config"
)

// Sample is the outcome of one probe of one target.
type Sample struct {
	TargetID   string
	TargetType string
	ProbedAt   time.Time

	// RTT is the measured round-trip time. Zero when Err is set.
	RTT time.Duration

	// Extra holds probe-specific readings such as "http_status" or
	// "cert_days_left".
	Extra map[string]float64

	// Err is non-nil if the target did not answer in time or answered with
	// something unusable.
	Err error
}

// RTTMillis returns RTT in fractional milliseconds.
func (s *Sample) RTTMillis() float64 {
	return float64(s.RTT) / float64(time.Millisecond)
}

// Prober is implemented by every target type.
type Prober interface {
	Probe(ctx context.Context) (*Sample, error)
}

// Closer is implemented by probers that hold a long-lived connection.
type Closer interface {
	Close()
}

// New returns the Prober for the target's type. timeout bounds every
// individual probe.
func New(t config.Target, timeout time.Duration) (Prober, error) {
	switch t.Type {
	case "http", "prometheus":
		client, err := buildHTTPClient(t, timeout)
		if err != nil {
			return nil, fmt.Errorf("probe %q: build http client: %w", t.ID, err)
		}
		if t.Type == "http" {
			return &httpProber{target: t, client: client}, nil
		}
		return &promProber{target: t, client: client}, nil
	case "tcp":
		return &dialProber{target: t, timeout: timeout}, nil
	case "tls":
		cfg, err := buildTLSConfig(t)
		if err != nil {
			return nil, fmt.Errorf("probe %q: %w", t.ID, err)
		}
		return &dialProber{target: t, timeout: timeout, tls: cfg}, nil
	case "mqtt":
		return newMQTTProber(t, timeout, dialMQTT), nil
	default:
		return nil, fmt.Errorf("probe: unsupported type %q", t.Type)
	}
}

func newSample(t config.Target, now time.Time) *Sample {
	return &Sample{
		TargetID:   t.ID,
		TargetType: t.Type,
		ProbedAt:   now.UTC(),
		Extra:      make(map[string]float64),
	}
}

// fail marks s as failed.
func (s *Sample) fail(format string, args ...any) *Sample {
	s.RTT = 0
	s.Err = fmt.Errorf(format, args...)
	return s
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildTLSConfig returns the client TLS settings for t, loading the client
// certificate and CA bundle when auth mode is mtls.
func buildTLSConfig(t config.Target) (*tls.Config, error) {
	cfg := &tls.Config{
		InsecureSkipVerify: t.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
		ServerName:         t.TLS.ServerName,
	}
	if t.Auth.Mode != "mtls" {
		return cfg, nil
	}

	cert, err := tls.LoadX509KeyPair(t.Auth.CertFile, t.Auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}
	cfg.Certificates = []tls.Certificate{cert}

	if t.Auth.CAFile != "" {
		caPEM, err := os.ReadFile(t.Auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs found in ca file %q", t.Auth.CAFile)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// buildHTTPClient constructs an http.Client for the target's auth and TLS
// settings. Keep-alives are disabled so every probe pays for a fresh
// connection, the same cost a dormant device has to wake up for.
func buildHTTPClient(t config.Target, timeout time.Duration) (*http.Client, error) {
	tlsCfg, err := buildTLSConfig(t)
	if err != nil {
		return nil, err
	}
	transport := &authRoundTripper{
		base: &http.Transport{
			TLSClientConfig:   tlsCfg,
			DisableKeepAlives: true,
		},
		auth: t.Auth,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}
