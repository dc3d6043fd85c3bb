package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Severity classifies how urgently an alert needs attention, matching
// monitoring/alerts.py's AlertSeverity.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Comparator selects how a rule compares the observed value to its
// threshold.
type Comparator string

const (
	CompareGT  Comparator = "gt"
	CompareLT  Comparator = "lt"
	CompareEQ  Comparator = "eq"
	CompareNE  Comparator = "ne"
	CompareGTE Comparator = "gte"
	CompareLTE Comparator = "lte"
)

// Rule defines one alerting condition (spec §4.15 "alert rule
// evaluation"), grounded on AlertRule's evaluate() dispatch table.
type Rule struct {
	ID          string
	Name        string
	Description string
	Severity    Severity
	MetricName  string
	Comparator  Comparator
	Threshold   float64
	// CooldownPeriod prevents the same rule from re-firing faster than
	// this interval.
	CooldownPeriod time.Duration
}

func (r Rule) evaluate(value float64) bool {
	switch r.Comparator {
	case CompareGT:
		return value > r.Threshold
	case CompareLT:
		return value < r.Threshold
	case CompareEQ:
		return value == r.Threshold
	case CompareNE:
		return value != r.Threshold
	case CompareGTE:
		return value >= r.Threshold
	case CompareLTE:
		return value <= r.Threshold
	default:
		return false
	}
}

// Alert is one firing instance of a Rule.
type Alert struct {
	RuleID    string
	Name      string
	Severity  Severity
	Value     float64
	Threshold float64
	FiredAt   time.Time
	Message   string
}

// Notifier delivers a fired alert somewhere.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts through the structured logger, grounded on
// alerts.py's LogNotifier.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alerts").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	event := n.logger.Warn()
	if alert.Severity == SeverityCritical {
		event = n.logger.Error()
	}
	event.
		Str("rule_id", alert.RuleID).
		Str("severity", string(alert.Severity)).
		Float64("value", alert.Value).
		Float64("threshold", alert.Threshold).
		Msg(alert.Message)
	return nil
}

// AMQPNotifier publishes alerts onto a RabbitMQ exchange, repurposing the
// teacher's AMQP dependency (otherwise used for command dispatch in
// client/server.go) as alerts.py's WebhookNotifier equivalent — a
// message-bus-based alert sink instead of an HTTP webhook. The gateway's
// own client transport is HTTP; this notifier is the module's only AMQP user.
type AMQPNotifier struct {
	channel  *amqp.Channel
	exchange string
	logger   zerolog.Logger
}

func NewAMQPNotifier(channel *amqp.Channel, exchange string, logger zerolog.Logger) *AMQPNotifier {
	return &AMQPNotifier{channel: channel, exchange: exchange, logger: logger}
}

func (n *AMQPNotifier) Notify(ctx context.Context, alert Alert) error {
	body := fmt.Sprintf(`{"rule_id":%q,"severity":%q,"value":%g,"threshold":%g,"message":%q,"fired_at":%q}`,
		alert.RuleID, alert.Severity, alert.Value, alert.Threshold, alert.Message, alert.FiredAt.Format(time.RFC3339))

	err := n.channel.PublishWithContext(ctx, n.exchange, "alert."+string(alert.Severity), false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        []byte(body),
		Timestamp:   alert.FiredAt,
	})
	if err != nil {
		n.logger.Error().Err(err).Str("rule_id", alert.RuleID).Msg("failed to publish alert")
	}
	return err
}

// ValueSource returns the current value of a named metric, so the
// Manager stays decoupled from how each value is actually computed.
type ValueSource func() float64

// Manager evaluates registered rules on a fixed interval, grounded on
// AlertManager's rule registry and evaluation loop.
type Manager struct {
	mu         sync.Mutex
	rules      map[string]Rule
	sources    map[string]ValueSource
	lastFired  map[string]time.Time
	notifiers  []Notifier

	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewManager builds an alert manager that evaluates rules every interval.
func NewManager(interval time.Duration) *Manager {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Manager{
		rules:     make(map[string]Rule),
		sources:   make(map[string]ValueSource),
		lastFired: make(map[string]time.Time),
		interval:  interval,
	}
}

// AddRule registers rule, sourcing its current value from source.
func (m *Manager) AddRule(rule Rule, source ValueSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.ID] = rule
	m.sources[rule.ID] = source
}

// RemoveRule deregisters a rule by id.
func (m *Manager) RemoveRule(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rules, id)
	delete(m.sources, id)
	delete(m.lastFired, id)
}

// AddNotifier registers a delivery target for fired alerts.
func (m *Manager) AddNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers = append(m.notifiers, n)
}

// Start begins the periodic evaluation loop.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.evaluationLoop()
}

// Stop ends the evaluation loop and waits for it to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	stop := m.stop
	done := m.done
	m.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (m *Manager) evaluationLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.evaluateAll()
		}
	}
}

func (m *Manager) evaluateAll() {
	m.mu.Lock()
	rules := make([]Rule, 0, len(m.rules))
	for _, r := range m.rules {
		rules = append(rules, r)
	}
	sources := m.sources
	m.mu.Unlock()

	for _, rule := range rules {
		source, ok := sources[rule.ID]
		if !ok {
			continue
		}
		value := source()
		if !rule.evaluate(value) {
			continue
		}

		m.mu.Lock()
		last, fired := m.lastFired[rule.ID]
		if fired && rule.CooldownPeriod > 0 && time.Since(last) < rule.CooldownPeriod {
			m.mu.Unlock()
			continue
		}
		m.lastFired[rule.ID] = time.Now()
		notifiers := m.notifiers
		m.mu.Unlock()

		alert := Alert{
			RuleID:    rule.ID,
			Name:      rule.Name,
			Severity:  rule.Severity,
			Value:     value,
			Threshold: rule.Threshold,
			FiredAt:   time.Now(),
			Message:   fmt.Sprintf("%s: %s (value=%.2f, threshold=%.2f)", rule.Name, rule.Description, value, rule.Threshold),
		}
		for _, n := range notifiers {
			_ = n.Notify(context.Background(), alert)
		}
	}
}

// DefaultRules mirrors AlertManager._init_default_rules' baseline
// connection-failure/error-rate/latency/utilization/circuit-breaker
// rules, minus their value sources (the caller wires those from its own
// pool/ratelimit/breaker instances via AddRule).
func DefaultRules() []Rule {
	return []Rule{
		{
			ID: "connection_failure_rate", Name: "High Connection Failure Rate",
			Description: "Connection failure rate is above threshold",
			Severity:    SeverityCritical, Comparator: CompareGT, Threshold: 5.0,
			CooldownPeriod: 5 * time.Minute,
		},
		{
			ID: "error_rate", Name: "High Error Rate",
			Description: "Overall error rate is above threshold",
			Severity:    SeverityWarning, Comparator: CompareGT, Threshold: 10.0,
			CooldownPeriod: 5 * time.Minute,
		},
		{
			ID: "response_time", Name: "High Response Time",
			Description: "Average response time is above threshold",
			Severity:    SeverityWarning, Comparator: CompareGT, Threshold: 5.0,
			CooldownPeriod: 5 * time.Minute,
		},
		{
			ID: "pool_utilization", Name: "High Pool Utilization",
			Description: "Connection pool utilization is above threshold",
			Severity:    SeverityCritical, Comparator: CompareGT, Threshold: 90.0,
			CooldownPeriod: 5 * time.Minute,
		},
		{
			ID: "circuit_open", Name: "Circuit Breaker Open",
			Description: "A circuit breaker has tripped open",
			Severity:    SeverityCritical, Comparator: CompareGTE, Threshold: float64(CircuitStateOpen),
			CooldownPeriod: time.Minute,
		},
		{
			ID: "memory_usage", Name: "High Memory Usage",
			Description: "Process memory usage is above threshold",
			Severity:    SeverityWarning, Comparator: CompareGT, Threshold: 1024.0,
			CooldownPeriod: 5 * time.Minute,
		},
	}
}
