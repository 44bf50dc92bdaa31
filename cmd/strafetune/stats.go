package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// ============================================================================
// Counter-strafe statistics
// ============================================================================

// Quality labels for a completed counter-strafe.
const (
	qualityPerfect = "PERF"
	qualityGood    = "GOOD"
	qualityFast    = "FAST"
	qualityLate    = "LATE"
)

// counterQuality grades a counter-phase duration. PERF is a subset of the
// GOOD window and wins.
func counterQuality(d time.Duration) string {
	ms := d.Milliseconds()
	switch {
	case ms >= 65 && ms <= 95:
		return qualityPerfect
	case ms >= 60 && ms <= 120:
		return qualityGood
	case ms < 60:
		return qualityFast
	default:
		return qualityLate
	}
}

// CounterStrafeRecord is the published form of one counter-strafe.
type CounterStrafeRecord struct {
	Session    string    `json:"session"`
	Axis       string    `json:"axis"`
	Key        string    `json:"key"`
	DurationMS float64   `json:"duration_ms"`
	Quality    string    `json:"quality"`
	Weapon     string    `json:"weapon,omitempty"`
	At         time.Time `json:"at"`
}

// SessionStats are the running totals for one daemon session.
type SessionStats struct {
	Session string        `json:"session"`
	Total   uint64        `json:"total"`
	Perfect uint64        `json:"perfect"`
	Good    uint64        `json:"good"`
	Fast    uint64        `json:"fast"`
	Late    uint64        `json:"late"`
	Sum     time.Duration `json:"-"`
}

// Average returns the mean counter-strafe duration.
func (s SessionStats) Average() time.Duration {
	if s.Total == 0 {
		return 0
	}
	return s.Sum / time.Duration(s.Total)
}

func (s *SessionStats) add(rec BroadcastCounterStrafe) {
	s.Total++
	s.Sum += rec.Duration
	switch rec.Quality {
	case qualityPerfect:
		s.Perfect++
	case qualityGood:
		s.Good++
	case qualityFast:
		s.Fast++
	default:
		s.Late++
	}
}

// Publisher sends one stats payload somewhere.
type Publisher interface {
	Publish(topic string, payload []byte) error
	Close()
}

// StatsRecorder consumes counter-strafe broadcasts, keeps session totals and
// optionally publishes each record.
type StatsRecorder struct {
	session string
	topic   string
	pub     Publisher
	logger  *slog.Logger

	mu    sync.Mutex
	stats SessionStats
}

// newSessionID returns a fresh session UUID.
func newSessionID() string {
	return uuid.NewString()
}

// NewStatsRecorder returns a recorder for session. pub may be nil.
func NewStatsRecorder(session string, pub Publisher, topic string, logger *slog.Logger) *StatsRecorder {
	if logger == nil {
		logger = discardLogger()
	}
	id := session
	if id == "" {
		id = newSessionID()
	}
	return &StatsRecorder{
		session: id,
		topic:   topic,
		pub:     pub,
		logger:  logger,
		stats:   SessionStats{Session: id},
	}
}

// Session returns the session UUID.
func (r *StatsRecorder) Session() string { return r.session }

// Summary returns a copy of the running totals.
func (r *StatsRecorder) Summary() SessionStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Run reads broadcasts until ctx is canceled or src is closed.
func (r *StatsRecorder) Run(ctx context.Context, src <-chan StateBroadcast) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-src:
			if !ok {
				return
			}
			cs, ok := b.(BroadcastCounterStrafe)
			if !ok {
				continue
			}
			r.record(cs)
		}
	}
}

func (r *StatsRecorder) record(cs BroadcastCounterStrafe) {
	r.mu.Lock()
	r.stats.add(cs)
	r.mu.Unlock()

	if r.pub == nil {
		return
	}
	payload, err := json.Marshal(CounterStrafeRecord{
		Session:    r.session,
		Axis:       cs.Axis,
		Key:        cs.Direction,
		DurationMS: durationMS(cs.Duration),
		Quality:    cs.Quality,
		Weapon:     cs.Weapon,
		At:         cs.At,
	})
	if err != nil {
		r.logger.Warn("stats marshal failed", "error", err)
		return
	}
	if err := r.pub.Publish(r.topic, payload); err != nil {
		r.logger.Warn("stats publish failed", "error", err, "topic", r.topic)
	}
}

// LogSummary writes the session totals at info level.
func (r *StatsRecorder) LogSummary() {
	s := r.Summary()
	if s.Total == 0 {
		r.logger.Info("session summary", "session", s.Session, "counter_strafes", 0)
		return
	}
	pct := func(n uint64) string {
		return fmt.Sprintf("%.0f%%", float64(n)*100/float64(s.Total))
	}
	r.logger.Info("session summary",
		"session", s.Session,
		"counter_strafes", s.Total,
		"avg_ms", durationMS(s.Average()),
		"perfect", pct(s.Perfect),
		"good", pct(s.Good),
		"fast", pct(s.Fast),
		"late", pct(s.Late))
}

// ============================================================================
// MQTT publisher
// ============================================================================

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = time.Second
)

type mqttPublisher struct {
	client mqtt.Client
	logger *slog.Logger
}

// newMQTTPublisher connects to broker (e.g. tcp://localhost:1883). A broker
// that is not reachable yet is not an error; the client keeps retrying in the
// background.
func newMQTTPublisher(broker string, session string, logger *slog.Logger) (*mqttPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID("strafetune-" + session)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("connected to MQTT broker", "broker", broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "error", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		logger.Warn("MQTT broker not reachable yet; retrying in background", "broker", broker)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}

	return &mqttPublisher{client: client, logger: logger}, nil
}

func (p *mqttPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	return token.Error()
}

func (p *mqttPublisher) Close() {
	p.client.Disconnect(250)
}
