package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/CallumSergeant/alarm/internal/event"
	"github.com/CallumSergeant/alarm/internal/module"
	"github.com/CallumSergeant/alarm/pkg/models"
)

const queueSize = 256

// Ban actions carried in Message.Action.
const (
	ActionBan   = "ban"
	ActionUnban = "unban"
)

// Message is the JSON payload published for each blocklist change.
type Message struct {
	Action          string    `json:"action"`
	IPAddress       string    `json:"ip_address"`
	Reason          string    `json:"reason"`
	BannedAt        time.Time `json:"banned_at"`
	CurrentlyBanned bool      `json:"currently_banned"`
}

// Subscriber is the part of the event bus the notifier needs.
type Subscriber interface {
	Subscribe(topic string, h event.Handler) func()
}

// Compile-time interface guard.
var _ module.Module = (*Notifier)(nil)

// Notifier forwards blocklist events to an MQTT topic. Events are queued and
// published by a single worker so bus publishers never wait on the broker.
type Notifier struct {
	cfg    Config
	client Client
	bus    Subscriber
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	queue  chan Message
	unsubs []func()
	wg     sync.WaitGroup
}

// New creates a Notifier. Nothing connects until Start.
func New(cfg Config, client Client, bus Subscriber, logger *zap.Logger) *Notifier {
	return &Notifier{
		cfg:    cfg,
		client: client,
		bus:    bus,
		logger: logger,
		queue:  make(chan Message, queueSize),
	}
}

func (n *Notifier) Name() string { return "notify" }

// Start connects to the broker and begins forwarding events.
func (n *Notifier) Start(_ context.Context) error {
	if err := n.client.Connect(); err != nil {
		return fmt.Errorf("connect to %s: %w", n.cfg.Broker, err)
	}

	n.wg.Add(1)
	go n.run()

	n.unsubs = append(n.unsubs,
		n.bus.Subscribe(event.TopicBlocklistBanned, n.handle),
		n.bus.Subscribe(event.TopicBlocklistUnbanned, n.handle),
	)
	n.logger.Info("ban propagation started",
		zap.String("broker", n.cfg.Broker),
		zap.String("topic", n.cfg.Topic),
	)
	return nil
}

// Stop unsubscribes, drains the queue and disconnects.
func (n *Notifier) Stop(_ context.Context) error {
	for _, unsub := range n.unsubs {
		unsub()
	}
	n.unsubs = nil

	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	n.wg.Wait()
	n.client.Disconnect()
	return nil
}

func (n *Notifier) handle(_ context.Context, e event.Event) {
	b, ok := e.Payload.(models.BlockedIP)
	if !ok {
		n.logger.Warn("unexpected blocklist event payload", zap.String("topic", e.Topic))
		return
	}
	action := ActionUnban
	if e.Topic == event.TopicBlocklistBanned {
		action = ActionBan
	}
	if err := n.enqueue(Message{
		Action:          action,
		IPAddress:       b.IPAddress,
		Reason:          b.Reason,
		BannedAt:        b.BannedAt,
		CurrentlyBanned: b.CurrentlyBanned,
	}); err != nil {
		n.logger.Warn("ban notification dropped", zap.String("ip", b.IPAddress), zap.Error(err))
	}
}

func (n *Notifier) enqueue(msg Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return errClosed
	}
	select {
	case n.queue <- msg:
		return nil
	default:
		return fmt.Errorf("queue full (%d)", queueSize)
	}
}

func (n *Notifier) run() {
	defer n.wg.Done()
	for msg := range n.queue {
		payload, err := json.Marshal(msg)
		if err != nil {
			n.logger.Error("failed to encode ban notification", zap.Error(err))
			continue
		}
		if err := n.client.Publish(n.cfg.Topic, n.cfg.QoS, n.cfg.Retain, payload); err != nil {
			n.logger.Warn("failed to publish ban notification",
				zap.String("ip", msg.IPAddress),
				zap.String("action", msg.Action),
				zap.Error(err),
			)
			continue
		}
		n.logger.Debug("ban notification published",
			zap.String("ip", msg.IPAddress),
			zap.String("action", msg.Action),
		)
	}
}
