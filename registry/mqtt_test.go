package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/camera-shm/internal/backoff"
)

// fakeBroker is an in-memory stand-in for a paho client connected to a
// broker that keeps retained messages. Unused Client methods panic through
// the nil embedded interface.
type fakeBroker struct {
	mqtt.Client

	mu         sync.Mutex
	retained   map[string][]byte
	subs       map[string]mqtt.MessageHandler
	connected  bool
	connectErr []error // consumed one per Connect call
	subErr     error
	// retainedDelay > 0 delivers retained messages after SUBACK, as a real
	// broker does
	retainedDelay time.Duration
	lastQoS       byte
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		retained: make(map[string][]byte),
		subs:     make(map[string]mqtt.MessageHandler),
	}
}

func (b *fakeBroker) Connect() mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.connectErr) > 0 {
		err := b.connectErr[0]
		b.connectErr = b.connectErr[1:]
		if err != nil {
			return doneToken{err: err}
		}
	}
	b.connected = true
	return doneToken{}
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) Disconnect(uint) {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
}

func (b *fakeBroker) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	b.mu.Lock()
	if b.subErr != nil {
		err := b.subErr
		b.mu.Unlock()
		return doneToken{err: err}
	}
	b.subs[topic] = cb
	b.lastQoS = qos
	payload, ok := b.retained[topic]
	delay := b.retainedDelay
	b.mu.Unlock()

	if !ok {
		return doneToken{}
	}
	msg := fakeMessage{topic: topic, payload: payload, retained: true}
	if delay > 0 {
		time.AfterFunc(delay, func() { cb(b, msg) })
		return doneToken{}
	}
	cb(b, msg)
	return doneToken{}
}

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	data := payload.([]byte)

	b.mu.Lock()
	b.lastQoS = qos
	if retained {
		if len(data) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = data
		}
	}
	cb := b.subs[topic]
	b.mu.Unlock()

	if cb != nil {
		cb(b, fakeMessage{topic: topic, payload: data})
	}
	return doneToken{}
}

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	topic    string
	payload  []byte
	retained bool
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return m.retained }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func newTestMQTT(t *testing.T, broker *fakeBroker) *MQTT {
	t.Helper()
	cfg := MQTTConfig{Broker: "localhost:1883", Clock: testclock.NewClock(time.Unix(0, 0))}
	cfg.applyDefaults()
	return newMQTT(cfg, broker)
}

func TestMQTTConfigValidate(t *testing.T) {
	assert.Error(t, MQTTConfig{}.Validate())
	assert.Error(t, MQTTConfig{Broker: "b", QoS: 3}.Validate())
	assert.Error(t, MQTTConfig{Broker: "b", TopicPrefix: "tasks/#"}.Validate())
	assert.NoError(t, MQTTConfig{Broker: "b"}.Validate())

	_, err := NewMQTT(MQTTConfig{})
	assert.Error(t, err)
}

func TestMQTTTopic(t *testing.T) {
	m := newTestMQTT(t, newFakeBroker())
	assert.Equal(t, "camera-shm/tasks/abc/status", m.Topic("abc"))

	id, ok := m.taskFromTopic("camera-shm/tasks/abc/status")
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	_, ok = m.taskFromTopic("other/abc/status")
	assert.False(t, ok)
	_, ok = m.taskFromTopic("camera-shm/tasks/abc/result")
	assert.False(t, ok)
}

func TestMQTTRequiresConnect(t *testing.T) {
	m := newTestMQTT(t, newFakeBroker())

	_, _, err := m.Status(context.Background(), "t1")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, m.Publish(context.Background(), "t1", StatusStarted), ErrNotConnected)
}

func TestMQTTPublishThenStatus(t *testing.T) {
	ctx := context.Background()
	broker := newFakeBroker()
	m := newTestMQTT(t, broker)
	require.NoError(t, m.Connect(ctx))

	_, ok, err := m.Status(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok, "nothing published yet")

	require.NoError(t, m.Publish(ctx, "t1", StatusStarted))
	st, ok, err := m.Status(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusStarted, st)

	require.NoError(t, m.Publish(ctx, "t1", StatusRevoked))
	st, _, _ = m.Status(ctx, "t1")
	assert.Equal(t, StatusRevoked, st)
}

// A second client (e.g. `camera-shm status`) sees the retained record on its
// first subscription.
func TestMQTTRetainedRecordVisibleToNewClient(t *testing.T) {
	ctx := context.Background()
	broker := newFakeBroker()

	writer := newTestMQTT(t, broker)
	require.NoError(t, writer.Connect(ctx))
	require.NoError(t, writer.Publish(ctx, "t1", StatusRevoked))

	reader := newTestMQTT(t, broker)
	require.NoError(t, reader.Connect(ctx))

	st, ok, err := reader.Status(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusRevoked, st)
}

// The retained record reaches a new client only after its first query has
// subscribed, so that query reports no status.
func TestMQTTRetainedRecordArrivesAfterSubscribe(t *testing.T) {
	ctx := context.Background()
	broker := newFakeBroker()
	broker.retainedDelay = 5 * time.Millisecond

	admin := newTestMQTT(t, broker)
	require.NoError(t, admin.Connect(ctx))
	require.NoError(t, admin.Publish(ctx, "t1", StatusRevoked))

	fresh := newTestMQTT(t, broker)
	require.NoError(t, fresh.Connect(ctx))

	_, ok, err := fresh.Status(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok, "retained record not delivered yet")

	require.Eventually(t, func() bool {
		st, ok, err := fresh.Status(ctx, "t1")
		return err == nil && ok && st == StatusRevoked
	}, time.Second, time.Millisecond)
}

func TestMQTTKeepsQoSZero(t *testing.T) {
	ctx := context.Background()
	broker := newFakeBroker()
	cfg := MQTTConfig{Broker: "localhost:1883", QoS: 0, Clock: testclock.NewClock(time.Unix(0, 0))}
	cfg.applyDefaults()
	assert.Equal(t, byte(0), cfg.QoS)

	m := newMQTT(cfg, broker)
	require.NoError(t, m.Connect(ctx))
	require.NoError(t, m.Publish(ctx, "t1", StatusStarted))

	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.Equal(t, byte(0), broker.lastQoS)
}

func TestMQTTForgetClearsStatus(t *testing.T) {
	ctx := context.Background()
	m := newTestMQTT(t, newFakeBroker())
	require.NoError(t, m.Connect(ctx))

	require.NoError(t, m.Publish(ctx, "t1", StatusStarted))
	_, ok, _ := m.Status(ctx, "t1")
	require.True(t, ok)

	require.NoError(t, m.Forget(ctx, "t1"))
	_, ok, _ = m.Status(ctx, "t1")
	assert.False(t, ok)
}

func TestMQTTDropsUndecodablePayload(t *testing.T) {
	ctx := context.Background()
	broker := newFakeBroker()
	m := newTestMQTT(t, broker)
	require.NoError(t, m.Connect(ctx))

	_, _, err := m.Status(ctx, "t1")
	require.NoError(t, err)

	broker.Publish(m.Topic("t1"), 1, true, []byte("not msgpack"))

	_, ok, err := m.Status(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), m.Errors())
}

func TestMQTTSubscribeFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	broker := newFakeBroker()
	broker.subErr = errors.New("not authorized")
	m := newTestMQTT(t, broker)
	require.NoError(t, m.Connect(ctx))

	_, _, err := m.Status(ctx, "t1")
	require.Error(t, err)

	broker.mu.Lock()
	broker.subErr = nil
	broker.mu.Unlock()

	_, _, err = m.Status(ctx, "t1")
	assert.NoError(t, err, "subscription is attempted again on the next query")
}

func TestMQTTConnectRetries(t *testing.T) {
	broker := newFakeBroker()
	broker.connectErr = []error{errors.New("refused"), nil}

	clk := testclock.NewClock(time.Unix(0, 0))
	cfg := MQTTConfig{
		Broker:       "localhost:1883",
		Clock:        clk,
		ConnectRetry: backoff.Config{MaxRetries: 3, Initial: time.Second, Max: time.Second},
	}
	cfg.applyDefaults()
	m := newMQTT(cfg, broker)

	done := make(chan error, 1)
	go func() { done <- m.Connect(context.Background()) }()

	require.NoError(t, clk.WaitAdvance(time.Second, time.Second, 1))
	require.NoError(t, <-done)
	assert.True(t, m.isConnected())
}

func TestMQTTClose(t *testing.T) {
	ctx := context.Background()
	broker := newFakeBroker()
	m := newTestMQTT(t, broker)
	require.NoError(t, m.Connect(ctx))

	require.NoError(t, m.Close())
	assert.False(t, broker.IsConnected())

	_, _, err := m.Status(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotConnected)
}
