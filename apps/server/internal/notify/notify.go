// Package notify carries "something changed, reload" events per table.
// Events never carry payloads; subscribers reload what they show.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"jantaku-lite/apps/server/internal/config"
)

type Resource string

const (
	ResourceTable   Resource = "table"
	ResourceSeats   Resource = "seats"
	ResourceRounds  Resource = "rounds"
	ResourceBonuses Resource = "bonuses"
)

type Event struct {
	TableID  uint64   `json:"table_id"`
	Resource Resource `json:"resource"`
}

// Hub fans events out to every subscriber of the event's table.
type Hub interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, tableID uint64) (*Subscription, error)
	Close() error
}

// subscriptionBuffer is small on purpose: a full buffer means a reload is
// already pending, so further events can be dropped.
const subscriptionBuffer = 8

type Subscription struct {
	tableID uint64
	cancel  func()

	mu     sync.Mutex
	closed bool
	ch     chan Event
}

func newSubscription(tableID uint64, cancel func()) *Subscription {
	return &Subscription{tableID: tableID, ch: make(chan Event, subscriptionBuffer), cancel: cancel}
}

func (s *Subscription) TableID() uint64 { return s.tableID }

// Events is closed after Close.
func (s *Subscription) Events() <-chan Event { return s.ch }

func (s *Subscription) Close() { s.cancel() }

func (s *Subscription) offer(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
	}
}

func (s *Subscription) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// New builds the hub selected by cfg.Mode.
func New(cfg config.NotifyConfig, logger *slog.Logger) (Hub, error) {
	switch cfg.Mode {
	case config.NotifyModeMemory:
		return NewMemoryHub(), nil
	case config.NotifyModeValkey:
		client, err := NewValkeyClient(cfg)
		if err != nil {
			return nil, err
		}
		return NewValkeyHub(client, cfg.ChannelPrefix, logger), nil
	default:
		return nil, fmt.Errorf("invalid notify mode %q", cfg.Mode)
	}
}

// PublishAll publishes each event and logs failures. Notifications are best
// effort: the committed write already happened.
func PublishAll(ctx context.Context, hub Hub, logger *slog.Logger, events ...Event) {
	for _, ev := range events {
		if err := hub.Publish(ctx, ev); err != nil {
			logger.Warn("notify_publish_failed", "table_id", ev.TableID, "resource", ev.Resource, "err", err)
		}
	}
}
