package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/presencewatch/presencewatch/agent/internal/config"
)

// errReconnecting is reported while the client's auto-reconnect is running.
var errReconnecting = errors.New("broker connection lost, reconnecting")

// mqttConn is the subset of mqtt.Client the echo probe needs.
type mqttConn interface {
	Connect() mqtt.Token
	IsConnected() bool
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// mqttProber publishes a nonce to the request topic and times its echo on
// the reply topic. The device (or a bridge in front of it) is expected to
// republish the payload unchanged.
type mqttProber struct {
	target  config.Target
	timeout time.Duration
	dial    func(*mqtt.ClientOptions) mqttConn

	mu      sync.Mutex
	conn    mqttConn
	pending map[string]chan time.Time
}

func newMQTTProber(t config.Target, timeout time.Duration, dial func(*mqtt.ClientOptions) mqttConn) *mqttProber {
	return &mqttProber{
		target:  t,
		timeout: timeout,
		dial:    dial,
		pending: make(map[string]chan time.Time),
	}
}

func dialMQTT(opts *mqtt.ClientOptions) mqttConn {
	return mqtt.NewClient(opts)
}

func (p *mqttProber) Probe(ctx context.Context) (*Sample, error) {
	s := newSample(p.target, time.Now())

	conn, err := p.connection()
	if err != nil {
		return s.fail("mqtt connect %q: %w", p.target.ID, err), nil
	}

	nonce := uuid.NewString()
	arrived := make(chan time.Time, 1)
	p.mu.Lock()
	p.pending[nonce] = arrived
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, nonce)
		p.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	tok := conn.Publish(p.target.MQTT.RequestTopic, p.target.MQTT.QoS, false, nonce)
	if !tok.WaitTimeout(p.timeout) {
		return s.fail("mqtt publish %q: timed out", p.target.ID), nil
	}
	if err := tok.Error(); err != nil {
		return s.fail("mqtt publish %q: %w", p.target.ID, err), nil
	}

	select {
	case at := <-arrived:
		s.RTT = at.Sub(start)
		return s, nil
	case <-ctx.Done():
		return s.fail("mqtt echo %q: %w", p.target.ID, ctx.Err()), nil
	}
}

// Close disconnects from the broker.
func (p *mqttProber) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Disconnect(250)
		p.conn = nil
	}
}

// connection returns the live broker connection, dialling on first use.
func (p *mqttProber) connection() (mqttConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		if !p.conn.IsConnected() {
			return nil, errReconnecting
		}
		return p.conn, nil
	}

	clientID := p.target.MQTT.ClientID
	if clientID == "" {
		clientID = "presencewatch-" + p.target.ID
	}
	opts := mqtt.NewClientOptions().
		AddBroker(p.target.Endpoint).
		SetClientID(clientID).
		SetConnectTimeout(p.timeout).
		SetAutoReconnect(true).
		SetOnConnectHandler(p.resubscriber())
	if p.target.Auth.Username != "" {
		opts.SetUsername(p.target.Auth.Username).SetPassword(p.target.Auth.Password())
	}

	conn := p.dial(opts)
	if err := wait(conn.Connect(), p.timeout); err != nil {
		return nil, err
	}
	if err := wait(conn.Subscribe(p.target.MQTT.ReplyTopic, p.target.MQTT.QoS, p.onReply), p.timeout); err != nil {
		conn.Disconnect(0)
		return nil, fmt.Errorf("subscribe %s: %w", p.target.MQTT.ReplyTopic, err)
	}
	slog.Info("probe: mqtt connected", "target", p.target.ID, "broker", p.target.Endpoint)
	p.conn = conn
	return conn, nil
}

// resubscriber returns the on-connect handler for one client. The first
// connect is covered by the explicit subscribe in connection, which reports
// its error; later ones are auto-reconnects, and subscriptions do not survive
// a clean-session reconnect.
func (p *mqttProber) resubscriber() mqtt.OnConnectHandler {
	var connects atomic.Int32
	return func(c mqtt.Client) {
		if connects.Add(1) == 1 {
			return
		}
		slog.Info("probe: mqtt reconnected, resubscribing", "target", p.target.ID)
		c.Subscribe(p.target.MQTT.ReplyTopic, p.target.MQTT.QoS, p.onReply)
	}
}

// onReply matches an echoed payload against the outstanding nonces. Replies
// that arrive after their probe gave up are ignored.
func (p *mqttProber) onReply(_ mqtt.Client, msg mqtt.Message) {
	at := time.Now()
	nonce := string(msg.Payload())

	p.mu.Lock()
	ch, ok := p.pending[nonce]
	p.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- at:
	default:
	}
}

func wait(tok mqtt.Token, timeout time.Duration) error {
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("timed out after %s", timeout)
	}
	return tok.Error()
}
