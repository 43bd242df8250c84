package listener

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weatherstation/internal/config"
	"github.com/i474232898/weatherstation/internal/store"
	"github.com/i474232898/weatherstation/internal/weather"
)

type token struct {
	err  error
	done chan struct{}
}

func completed(err error) *token {
	done := make(chan struct{})
	close(done)
	return &token{err: err, done: done}
}

func (t *token) Wait() bool                     { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Done() <-chan struct{}          { return t.done }
func (t *token) Error() error                   { return t.err }

type subscription struct {
	topic string
	qos   byte
}

type fakeTransport struct {
	mu            sync.Mutex
	connectErrs   []error
	connects      int
	subscriptions []subscription
	disconnects   []uint
	subscribeErr  error
}

// Connect fails with the queued errors first, then succeeds.
func (f *fakeTransport) Connect() mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return completed(err)
	}
	return completed(nil)
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) Disconnect(quiesce uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, quiesce)
}

func (f *fakeTransport) Subscribe(topic string, qos byte, _ mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions = append(f.subscriptions, subscription{topic: topic, qos: qos})
	return completed(f.subscribeErr)
}

func (f *fakeTransport) subscribed() []subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]subscription(nil), f.subscriptions...)
}

var (
	broker  = config.BrokerConfig{Host: "localhost", Port: 1883, ClientID: "ws", OutdoorWeatherUID: "Hq2", QoS: 1}
	mapping = weather.SensorMapping{"0": "Garden", "1": "Roof"}
)

func newTestListener(t *testing.T) (*Listener, *fakeTransport, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	tr := &fakeTransport{}
	return newListener(tr, broker, mapping, NewMailbox(), logger), tr, hook
}

func entriesAt(hook *test.Hook, level logrus.Level) int {
	n := 0
	for _, e := range hook.AllEntries() {
		if e.Level == level {
			n++
		}
	}
	return n
}

func errorEntries(hook *test.Hook) int {
	return entriesAt(hook, logrus.ErrorLevel)
}

func TestMailboxLastWriteWins(t *testing.T) {
	m := NewMailbox()

	_, ok := m.Poll()
	require.False(t, ok)

	first := weather.Snapshot{Readings: []weather.Reading{{Name: "Garden", Temperature: 1}}}
	second := weather.Snapshot{Readings: []weather.Reading{{Name: "Garden", Temperature: 2}}}
	m.Put(first)
	m.Put(second)

	got, ok := m.Poll()
	require.True(t, ok)
	assert.Equal(t, second, got)

	_, ok = m.Poll()
	assert.False(t, ok, "poll consumes the snapshot")
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "tinkerforge/bricklet/outdoor_weather/Hq2/sensor_data", Topic("Hq2"))
}

func TestConnectionStates(t *testing.T) {
	l, tr, hook := newTestListener(t)
	require.Equal(t, Disconnected, l.State())

	require.NoError(t, l.Start(context.Background()))
	assert.Equal(t, Connecting, l.State())
	assert.Error(t, l.Start(context.Background()), "second start")

	l.onConnect(nil)
	require.Eventually(t, func() bool { return l.State() == Subscribed }, time.Second, 5*time.Millisecond)

	l.onConnectionLost(nil, errors.New("EOF"))
	assert.Equal(t, Connecting, l.State())

	l.onConnect(nil)
	require.Eventually(t, func() bool { return l.State() == Subscribed }, time.Second, 5*time.Millisecond)

	want := subscription{topic: "tinkerforge/bricklet/outdoor_weather/Hq2/sensor_data", qos: 1}
	assert.Equal(t, []subscription{want, want}, tr.subscribed(), "every connect subscribes again")

	l.Stop()
	assert.Equal(t, Disconnected, l.State())
	assert.Equal(t, []uint{250}, tr.disconnects)
	assert.True(t, logged(hook, "Disconnected from broker"))
}

func TestSubscribeFailureKeepsConnecting(t *testing.T) {
	l, tr, hook := newTestListener(t)
	tr.subscribeErr = errors.New("not authorized")

	require.NoError(t, l.Start(context.Background()))
	l.onConnect(nil)

	require.Eventually(t, func() bool { return errorEntries(hook) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Connecting, l.State())
}

func TestRunDecodesIntoMailbox(t *testing.T) {
	l, _, _ := newTestListener(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	l.deliver([]byte(`{"0":{"temperature":215,"humidity":40},"7":{"temperature":100,"humidity":10}}`))

	var got weather.Snapshot
	require.Eventually(t, func() bool {
		snap, ok := l.mailbox.Poll()
		got = snap
		return ok
	}, time.Second, 5*time.Millisecond)

	require.Len(t, got.Readings, 1)
	assert.Equal(t, "Garden", got.Readings[0].Name)
	assert.InDelta(t, 21.5, got.Readings[0].Temperature, 1e-9)
	assert.InDelta(t, 40.0, got.Readings[0].Humidity, 1e-9)
}

func TestDeliverDropsWhenInboxFull(t *testing.T) {
	l, _, hook := newTestListener(t)

	for i := 0; i < inboxSize+1; i++ {
		l.deliver([]byte(`{}`))
	}

	assert.Len(t, l.inbox, inboxSize)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestMalformedPayloadStoresNothing(t *testing.T) {
	l, tr, hook := newTestListener(t)
	require.NoError(t, l.Start(context.Background()))
	l.onConnect(nil)
	require.Eventually(t, func() bool { return l.State() == Subscribed }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	l.deliver([]byte("not json"))
	require.Eventually(t, func() bool { return errorEntries(hook) == 1 }, time.Second, 5*time.Millisecond)

	db, err := store.Open(filepath.Join(t.TempDir(), "weatherstation.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.EnsureSchema(ctx))

	logger, _ := test.NewNullLogger()
	host := NewHost(l.mailbox, db, config.ListenerConfig{PollInterval: 5 * time.Millisecond, PollAttempts: 3}, logger)
	saved, err := host.SaveLatest(ctx)
	require.NoError(t, err)
	assert.False(t, saved)

	for _, name := range []string{"Garden", "Roof"} {
		measures, err := db.QueryMeasuresSince(ctx, name, weather.Epoch)
		require.NoError(t, err)
		assert.Empty(t, measures)
	}

	assert.Equal(t, Subscribed, l.State(), "still connected")
	assert.Empty(t, tr.disconnects)
	assert.Equal(t, 1, errorEntries(hook))
}

func TestUnreachableBrokerIsLoggedAndRetried(t *testing.T) {
	l, tr, hook := newTestListener(t)
	l.retryInterval = 5 * time.Millisecond
	tr.connectErrs = []error{
		errors.New("dial tcp 127.0.0.1:1883: connect: connection refused"),
		errors.New("dial tcp 127.0.0.1:1883: connect: connection refused"),
	}

	require.NoError(t, l.Start(context.Background()))
	require.Eventually(t, func() bool { return tr.connectCount() == 3 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return entriesAt(hook, logrus.WarnLevel) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Connecting, l.State())

	l.Stop()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, tr.connectCount(), "no attempts after a successful connect")
}

func TestStopBeforeSubscribedStopsRetrying(t *testing.T) {
	l, tr, hook := newTestListener(t)
	l.retryInterval = 5 * time.Millisecond
	refused := errors.New("connection refused")
	tr.connectErrs = []error{refused, refused, refused, refused, refused, refused, refused, refused}

	require.NoError(t, l.Start(context.Background()))
	require.Eventually(t, func() bool { return tr.connectCount() >= 1 }, time.Second, 5*time.Millisecond)
	l.Stop()
	attempts := tr.connectCount()
	time.Sleep(30 * time.Millisecond)

	assert.LessOrEqual(t, tr.connectCount(), attempts+1, "retries end with Stop")
	assert.False(t, logged(hook, "Disconnected from broker"), "no disconnect notice without a connection")
}

func logged(hook *test.Hook, msg string) bool {
	for _, e := range hook.AllEntries() {
		if e.Message == msg {
			return true
		}
	}
	return false
}
