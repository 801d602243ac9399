package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CallumSergeant/alarm/internal/blocklist"
	"github.com/CallumSergeant/alarm/internal/event"
	"github.com/CallumSergeant/alarm/internal/services"
	"github.com/CallumSergeant/alarm/internal/testutil"
)

type published struct {
	topic    string
	qos      byte
	retained bool
	msg      Message
}

type fakeClient struct {
	mu           sync.Mutex
	connectErr   error
	failNext     int
	connected    bool
	disconnected bool
	sent         []published
}

func (c *fakeClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected = true
	return nil
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext > 0 {
		c.failNext--
		return errors.New("broker unavailable")
	}
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return err
	}
	c.sent = append(c.sent, published{topic: topic, qos: qos, retained: retained, msg: m})
	return nil
}

func (c *fakeClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) messages() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.sent...)
}

type fixture struct {
	notifier *Notifier
	client   *fakeClient
	store    *blocklist.Store
	bus      *event.Bus
}

func newFixture(t *testing.T, client *fakeClient) *fixture {
	t.Helper()
	st := testutil.NewMigratedStore(t)
	bus := event.NewBus(zap.NewNop())
	clock := testutil.NewClock()
	store := blocklist.NewStore(services.NewSQLiteBlockedIPRepository(st.DB()), bus, nil, zap.NewNop(), clock.Now)
	cfg := Config{Broker: "tcp://broker:1883", Topic: "alarm/blocklist", QoS: 1}
	return &fixture{
		notifier: New(cfg, client, bus, zap.NewNop()),
		client:   client,
		store:    store,
		bus:      bus,
	}
}

func TestNotifier_PropagatesBansAndToggles(t *testing.T) {
	f := newFixture(t, &fakeClient{})
	ctx := context.Background()
	require.NoError(t, f.notifier.Start(ctx))

	_, err := f.store.ReportBan(ctx, "203.0.113.5", "Distributed brute-force attack")
	require.NoError(t, err)
	_, err = f.store.ReportBan(ctx, "203.0.113.5", "again")
	require.NoError(t, err)
	_, err = f.store.Toggle(ctx, "203.0.113.5")
	require.NoError(t, err)

	require.NoError(t, f.notifier.Stop(ctx))

	sent := f.client.messages()
	require.Len(t, sent, 2, "an unchanged ban must not be propagated")
	assert.Equal(t, "alarm/blocklist", sent[0].topic)
	assert.Equal(t, byte(1), sent[0].qos)
	assert.Equal(t, ActionBan, sent[0].msg.Action)
	assert.Equal(t, "203.0.113.5", sent[0].msg.IPAddress)
	assert.Equal(t, "Distributed brute-force attack", sent[0].msg.Reason)
	assert.True(t, sent[0].msg.CurrentlyBanned)
	assert.Equal(t, ActionUnban, sent[1].msg.Action)
	assert.False(t, sent[1].msg.CurrentlyBanned)
	assert.True(t, f.client.disconnected)
}

func TestNotifier_ConnectFailure(t *testing.T) {
	f := newFixture(t, &fakeClient{connectErr: errors.New("connection refused")})
	err := f.notifier.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tcp://broker:1883")
}

func TestNotifier_PublishFailureDoesNotStopWorker(t *testing.T) {
	f := newFixture(t, &fakeClient{failNext: 1})
	ctx := context.Background()
	require.NoError(t, f.notifier.Start(ctx))

	_, err := f.store.ReportBan(ctx, "198.51.100.1", "first")
	require.NoError(t, err)
	_, err = f.store.ReportBan(ctx, "198.51.100.2", "second")
	require.NoError(t, err)
	require.NoError(t, f.notifier.Stop(ctx))

	sent := f.client.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "198.51.100.2", sent[0].msg.IPAddress)
}

func TestNotifier_IgnoresEventsAfterStop(t *testing.T) {
	f := newFixture(t, &fakeClient{})
	ctx := context.Background()
	require.NoError(t, f.notifier.Start(ctx))
	require.NoError(t, f.notifier.Stop(ctx))

	_, err := f.store.ReportBan(ctx, "198.51.100.9", "late")
	require.NoError(t, err)
	assert.ErrorIs(t, f.notifier.enqueue(Message{IPAddress: "198.51.100.9"}), errClosed)
	assert.Empty(t, f.client.messages())
}

func TestNotifier_IgnoresForeignPayload(t *testing.T) {
	f := newFixture(t, &fakeClient{})
	ctx := context.Background()
	require.NoError(t, f.notifier.Start(ctx))

	require.NoError(t, f.bus.Publish(ctx, event.Event{Topic: event.TopicBlocklistBanned, Payload: "10.0.0.1"}))
	require.NoError(t, f.notifier.Stop(ctx))
	assert.Empty(t, f.client.messages())
}
