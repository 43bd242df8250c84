package listener

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/i474232898/weatherstation/internal/config"
	"github.com/i474232898/weatherstation/internal/weather"
)

const (
	keepAlive     = 60 * time.Second
	connectRetry  = 5 * time.Second
	inboxSize     = 16
	quiesceMillis = 250
)

// State of the broker connection.
type State int32

const (
	Disconnected State = iota
	Connecting
	Subscribed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// transport is the part of mqtt.Client the listener uses.
type transport interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Topic returns the sensor_data topic of an outdoor weather bricklet.
func Topic(uid string) string {
	return fmt.Sprintf("tinkerforge/bricklet/outdoor_weather/%s/sensor_data", uid)
}

// Listener subscribes to the bricklet topic and keeps the latest decoded
// snapshot in its mailbox.
type Listener struct {
	client  transport
	topic   string
	qos     byte
	mapping weather.SensorMapping
	mailbox *Mailbox
	inbox   chan []byte
	state   atomic.Int32
	stop    chan struct{}
	log     logrus.FieldLogger
	now     func() time.Time

	retryInterval time.Duration
}

// New builds a listener on a paho client. Nothing is sent before Start.
func New(cfg config.BrokerConfig, mapping weather.SensorMapping, mailbox *Mailbox, log logrus.FieldLogger) *Listener {
	l := newListener(nil, cfg, mapping, mailbox, log)

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(cfg.ClientID + "-" + uuid.NewString()).
		SetKeepAlive(keepAlive).
		SetAutoReconnect(true).
		SetOnConnectHandler(l.onConnect).
		SetConnectionLostHandler(l.onConnectionLost).
		SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
			l.setState(Connecting)
		})
	l.client = mqtt.NewClient(opts)

	return l
}

func newListener(client transport, cfg config.BrokerConfig, mapping weather.SensorMapping, mailbox *Mailbox, log logrus.FieldLogger) *Listener {
	return &Listener{
		client:  client,
		topic:   Topic(cfg.OutdoorWeatherUID),
		qos:     cfg.QoS,
		mapping: mapping,
		mailbox: mailbox,
		inbox:   make(chan []byte, inboxSize),
		log:     log.WithField("component", "listener"),
		now:     time.Now,

		retryInterval: connectRetry,
	}
}

func (l *Listener) State() State {
	return State(l.state.Load())
}

func (l *Listener) setState(s State) {
	if old := State(l.state.Swap(int32(s))); old != s {
		l.log.Debugf("Connection %s -> %s", old, s)
	}
}

// Start connects in the background. An unreachable broker is logged and
// retried until Stop; it never fails Start.
func (l *Listener) Start(ctx context.Context) error {
	if l.State() != Disconnected {
		return errors.New("listener already started")
	}
	l.setState(Connecting)

	l.stop = make(chan struct{})
	go l.connect(ctx, l.stop)
	return nil
}

// connect retries the first connection until it succeeds. After that the
// transport's auto-reconnect takes over.
func (l *Listener) connect(ctx context.Context, stop <-chan struct{}) {
	for attempt := 1; ; attempt++ {
		token := l.client.Connect()
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-token.Done():
		}

		err := token.Error()
		if err == nil {
			return
		}
		l.log.WithError(err).Warnf("Could not connect to broker (attempt %d), retrying in %s", attempt, l.retryInterval)

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-time.After(l.retryInterval):
		}
	}
}

// Stop disconnects from the broker.
func (l *Listener) Stop() {
	state := l.State()
	if state == Disconnected {
		return
	}
	close(l.stop)
	l.client.Disconnect(quiesceMillis)
	l.setState(Disconnected)

	if state == Subscribed {
		l.log.Info("Disconnected from broker")
		return
	}
	l.log.Debug("Stopped listener before it subscribed")
}

// Run decodes received payloads until ctx is done.
func (l *Listener) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-l.inbox:
			l.handle(payload)
		}
	}
}

func (l *Listener) handle(payload []byte) {
	snap, err := weather.DecodeSnapshot(payload, l.mapping, l.now())
	if err != nil {
		l.log.WithError(err).Error("Discarding sensor data")
		return
	}
	l.log.WithField("readings", len(snap.Readings)).Debug("Received sensor data")
	l.mailbox.Put(snap)
}

// onConnect runs on every (re)connect; subscriptions do not survive a
// transport reconnect.
func (l *Listener) onConnect(mqtt.Client) {
	l.log.Infof("Connected to broker, subscribing to %s", l.topic)

	token := l.client.Subscribe(l.topic, l.qos, l.onMessage)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			l.log.WithError(err).Errorf("Subscribe to %s failed", l.topic)
			return
		}
		l.setState(Subscribed)
	}()
}

func (l *Listener) onConnectionLost(_ mqtt.Client, err error) {
	l.log.WithError(err).Warn("Connection to broker lost")
	l.setState(Connecting)
}

func (l *Listener) onMessage(_ mqtt.Client, msg mqtt.Message) {
	l.deliver(msg.Payload())
}

// deliver runs on the transport's goroutine and must not block it.
func (l *Listener) deliver(payload []byte) {
	select {
	case l.inbox <- payload:
	default:
		l.log.Warn("Inbox full, dropping sensor data")
	}
}
