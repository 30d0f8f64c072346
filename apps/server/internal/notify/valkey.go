package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/valkey-io/valkey-go"

	"jantaku-lite/apps/server/internal/config"
)

// NewValkeyClient connects to the configured Valkey or Redis server.
func NewValkeyClient(cfg config.NotifyConfig) (valkey.Client, error) {
	addr := strings.TrimSpace(cfg.ValkeyAddr)
	if addr == "" {
		return nil, errors.New("valkey addr is empty")
	}
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{addr},
		Password:     cfg.ValkeyPassword,
		SelectDB:     cfg.ValkeyDB,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create valkey client failed: %w", err)
	}
	return client, nil
}

// ValkeyHub relays events through Valkey pub/sub so that every server process
// sees mutations made by the others. One channel per table.
type ValkeyHub struct {
	client valkey.Client
	prefix string
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewValkeyHub takes ownership of client; Close closes it.
func NewValkeyHub(client valkey.Client, prefix string, logger *slog.Logger) *ValkeyHub {
	if prefix == "" {
		prefix = "jantaku"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ValkeyHub{client: client, prefix: prefix, logger: logger, ctx: ctx, cancel: cancel}
}

func (h *ValkeyHub) channel(tableID uint64) string {
	return fmt.Sprintf("%s:table:%d", h.prefix, tableID)
}

func (h *ValkeyHub) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	cmd := h.client.B().Publish().Channel(h.channel(ev.TableID)).Message(string(payload)).Build()
	if err := h.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey publish failed: %w", err)
	}
	return nil
}

// Subscribe starts a background receiver for the table channel. Events
// published before the server registers the subscription are not delivered.
func (h *ValkeyHub) Subscribe(_ context.Context, tableID uint64) (*Subscription, error) {
	if h.ctx.Err() != nil {
		return nil, errors.New("valkey hub closed")
	}
	subCtx, cancel := context.WithCancel(h.ctx)
	sub := newSubscription(tableID, cancel)
	channel := h.channel(tableID)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer sub.shut()

		cmd := h.client.B().Subscribe().Channel(channel).Build()
		err := h.client.Receive(subCtx, cmd, func(msg valkey.PubSubMessage) {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Message), &ev); err != nil {
				h.logger.Warn("notify_decode_failed", "channel", msg.Channel, "err", err)
				return
			}
			sub.offer(ev)
		})
		if err != nil && subCtx.Err() == nil {
			h.logger.Warn("notify_subscription_ended", "channel", channel, "err", err)
		}
	}()
	return sub, nil
}

func (h *ValkeyHub) Close() error {
	h.cancel()
	h.wg.Wait()
	h.client.Close()
	return nil
}
