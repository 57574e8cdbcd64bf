package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/clock"

	"github.com/e7canasta/orion-care-sensor/camera-shm/internal/backoff"
)

// MQTTConfig configures the MQTT registry.
type MQTTConfig struct {
	// Broker address, "host:port" or a full URL (tcp://, ssl://, ws://)
	Broker string
	// ClientID must be unique per connection (default "camera-shm-<unix nanos>")
	ClientID string
	// TopicPrefix roots the status topics (default "camera-shm/tasks")
	TopicPrefix string
	// QoS for subscribe and publish (0 is at-most-once)
	QoS byte
	// ConnectTimeout bounds each connection attempt (default 5s)
	ConnectTimeout time.Duration
	// ConnectRetry configures retries of the initial connection
	ConnectRetry backoff.Config
	// Clock drives connect backoff (default clock.WallClock)
	Clock clock.Clock
}

// Validate checks the configuration.
func (c MQTTConfig) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("registry: mqtt broker is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("registry: invalid qos %d (must be 0-2)", c.QoS)
	}
	if strings.ContainsAny(c.TopicPrefix, "+#") {
		return fmt.Errorf("registry: topic prefix %q must not contain wildcards", c.TopicPrefix)
	}
	return nil
}

func (c *MQTTConfig) applyDefaults() {
	if c.ClientID == "" {
		c.ClientID = fmt.Sprintf("camera-shm-%d", time.Now().UnixNano())
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "camera-shm/tasks"
	}
	c.TopicPrefix = strings.TrimSuffix(c.TopicPrefix, "/")
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.ConnectRetry.Initial == 0 {
		c.ConnectRetry = backoff.Config{MaxRetries: 5, Initial: time.Second, Max: 30 * time.Second}
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
}

// MQTT is a Registry and Publisher backed by retained MQTT messages.
//
// Each task has one retained Record on <prefix>/<task_id>/status. Status
// subscribes to a task's topic on first use and answers from a local cache
// fed by the broker, so queries after the first are served without a round
// trip.
//
// Thread-safety: all methods safe for concurrent use.
type MQTT struct {
	cfg    MQTTConfig
	client mqtt.Client

	mu         sync.RWMutex
	subscribed map[string]bool
	cache      map[string]Record
	connected  bool
	errors     uint64
}

// NewMQTT creates an MQTT registry. Call Connect before use.
func NewMQTT(cfg MQTTConfig) (*MQTT, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	m := newMQTT(cfg, nil)

	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetCleanSession(true)

	opts.OnConnect = func(c mqtt.Client) {
		m.onConnect()
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		m.mu.Lock()
		m.connected = false
		m.mu.Unlock()
		slog.Warn("registry: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", cfg.Broker,
		)
	}

	m.client = mqtt.NewClient(opts)
	return m, nil
}

func newMQTT(cfg MQTTConfig, client mqtt.Client) *MQTT {
	return &MQTT{
		cfg:        cfg,
		client:     client,
		subscribed: make(map[string]bool),
		cache:      make(map[string]Record),
	}
}

// Connect establishes the broker connection, retrying with backoff.
func (m *MQTT) Connect(ctx context.Context) error {
	slog.Info("registry: connecting to mqtt broker", "broker", m.cfg.Broker, "client_id", m.cfg.ClientID)

	err := backoff.Retry(ctx, m.cfg.Clock, m.cfg.ConnectRetry, "registry: mqtt connect", func(ctx context.Context) error {
		token := m.client.Connect()
		if !token.WaitTimeout(m.cfg.ConnectTimeout) {
			return fmt.Errorf("mqtt connection timeout")
		}
		return token.Error()
	})
	if err != nil {
		return fmt.Errorf("registry: mqtt connect %s: %w", m.cfg.Broker, err)
	}

	m.onConnect()
	return nil
}

// onConnect marks the client connected and restores subscriptions after an
// automatic reconnect (clean sessions drop them broker-side).
func (m *MQTT) onConnect() {
	m.mu.Lock()
	wasConnected := m.connected
	m.connected = true
	topics := make([]string, 0, len(m.subscribed))
	for id := range m.subscribed {
		topics = append(topics, m.topic(id))
	}
	m.mu.Unlock()

	if wasConnected {
		return
	}
	slog.Info("registry: mqtt connection established", "broker", m.cfg.Broker)

	for _, topic := range topics {
		m.client.Subscribe(topic, m.cfg.QoS, m.handleMessage)
	}
}

// Topic returns the status topic of a task.
func (m *MQTT) Topic(taskID string) string {
	return m.topic(taskID)
}

func (m *MQTT) topic(taskID string) string {
	return m.cfg.TopicPrefix + "/" + taskID + "/status"
}

// Status returns the latest status seen for taskID.
//
// The first call for a task subscribes to its topic; the retained record
// arrives asynchronously, so that call usually reports ok=false.
func (m *MQTT) Status(ctx context.Context, taskID string) (Status, bool, error) {
	if err := ValidateTaskID(taskID); err != nil {
		return "", false, err
	}
	if err := m.ensureSubscribed(ctx, taskID); err != nil {
		return "", false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.cache[taskID]
	return r.Status, ok, nil
}

func (m *MQTT) ensureSubscribed(ctx context.Context, taskID string) error {
	m.mu.RLock()
	done, connected := m.subscribed[taskID], m.connected
	m.mu.RUnlock()

	if done {
		return nil
	}
	if !connected {
		return ErrNotConnected
	}

	topic := m.topic(taskID)
	if err := m.wait(ctx, m.client.Subscribe(topic, m.cfg.QoS, m.handleMessage)); err != nil {
		m.countError()
		return fmt.Errorf("registry: subscribe %s: %w", topic, err)
	}

	m.mu.Lock()
	m.subscribed[taskID] = true
	m.mu.Unlock()

	slog.Debug("registry: subscribed to task status", "task_id", taskID, "topic", topic)
	return nil
}

// handleMessage caches records delivered by the broker. An empty retained
// payload clears the task.
func (m *MQTT) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	taskID, ok := m.taskFromTopic(msg.Topic())
	if !ok {
		slog.Warn("registry: message on unexpected topic", "topic", msg.Topic())
		return
	}

	if len(msg.Payload()) == 0 {
		m.mu.Lock()
		delete(m.cache, taskID)
		m.mu.Unlock()
		return
	}

	r, err := DecodeRecord(msg.Payload())
	if err != nil {
		m.countError()
		slog.Warn("registry: dropping undecodable record", "topic", msg.Topic(), "error", err)
		return
	}

	m.mu.Lock()
	m.cache[taskID] = r
	m.mu.Unlock()

	slog.Debug("registry: status received",
		"task_id", taskID,
		"status", r.Status,
		"retained", msg.Retained(),
	)
}

func (m *MQTT) taskFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, m.cfg.TopicPrefix+"/")
	if !ok {
		return "", false
	}
	taskID, ok := strings.CutSuffix(rest, "/status")
	if !ok || ValidateTaskID(taskID) != nil {
		return "", false
	}
	return taskID, true
}

// Publish records status for taskID as a retained message.
func (m *MQTT) Publish(ctx context.Context, taskID string, status Status) error {
	return m.PublishRecord(ctx, Record{TaskID: taskID, Status: status, UpdatedAt: time.Now().UTC()})
}

// PublishRecord writes r as the retained record of r.TaskID.
func (m *MQTT) PublishRecord(ctx context.Context, r Record) error {
	if err := ValidateTaskID(r.TaskID); err != nil {
		return err
	}
	if !m.isConnected() {
		m.countError()
		return ErrNotConnected
	}

	payload, err := EncodeRecord(r)
	if err != nil {
		return err
	}

	topic := m.topic(r.TaskID)
	if err := m.wait(ctx, m.client.Publish(topic, m.cfg.QoS, true, payload)); err != nil {
		m.countError()
		return fmt.Errorf("registry: publish %s: %w", topic, err)
	}

	slog.Info("registry: status published",
		"task_id", r.TaskID,
		"status", r.Status,
		"topic", topic,
	)
	return nil
}

// Forget clears the retained record of taskID.
func (m *MQTT) Forget(ctx context.Context, taskID string) error {
	if err := ValidateTaskID(taskID); err != nil {
		return err
	}
	if !m.isConnected() {
		return ErrNotConnected
	}
	return m.wait(ctx, m.client.Publish(m.topic(taskID), m.cfg.QoS, true, []byte{}))
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250) // 250ms grace period
		slog.Info("registry: mqtt disconnected")
	}

	m.mu.Lock()
	m.connected = false
	m.subscribed = make(map[string]bool)
	m.mu.Unlock()
	return nil
}

// Errors returns the number of failed broker operations.
func (m *MQTT) Errors() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errors
}

func (m *MQTT) isConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *MQTT) countError() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}

// wait blocks until token completes or ctx is done.
func (m *MQTT) wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
