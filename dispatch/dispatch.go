// Package dispatch routes classified events into the reply pipeline. It
// applies the takeover, expiry and self-echo rules, resolves item context,
// and offloads reply computation to a bounded worker pool so a slow model
// call never delays the socket's receive loop.
package dispatch

import (
	"context"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/flealive/flealive/codec"
	"github.com/flealive/flealive/item"
	"github.com/flealive/flealive/reply"
	"github.com/flealive/flealive/store"
	"github.com/flealive/flealive/takeover"
)

// Sender delivers outbound chat frames on behalf of the dispatcher. gen is
// the socket generation the reply originated on; implementations refuse to
// send when the socket has since been replaced.
type Sender interface {
	Generation() uint64
	SendChat(gen uint64, conversationID, toUserID, text string) error
}

// Notifier receives business notifications: completed orders and manual
// takeover handovers.
type Notifier interface {
	OrderPaid(ctx context.Context, buyerID, buyerURL, itemTitle, price string) error
	Handover(ctx context.Context, message string) error
}

// Config tunes dispatcher behaviour.
type Config struct {
	OwnUserID      string
	TogglePhrases  []string      // owner messages exactly matching one of these toggle takeover
	ExpireWindow   time.Duration // messages older than this are dropped
	Workers        int64         // reply worker pool size; <= 0 uses DefaultWorkers
	ProfileURLBase string        // buyer profile link prefix for notifications
}

// DefaultWorkers is the default reply pool size: available parallelism
// plus headroom for blocking model calls, capped at 32.
func DefaultWorkers() int64 {
	n := int64(runtime.NumCPU() + 4)
	if n > 32 {
		n = 32
	}
	return n
}

// Dispatcher owns the conversation pipeline for one account.
type Dispatcher struct {
	cfg      Config
	registry *takeover.Registry
	items    *item.Cache
	store    store.Store
	engine   reply.Engine
	notifier Notifier
	sender   Sender

	sem *semaphore.Weighted
	wg  sync.WaitGroup
	now func() time.Time
}

// New wires a dispatcher from its collaborators.
func New(cfg Config, registry *takeover.Registry, items *item.Cache, st store.Store, engine reply.Engine, notifier Notifier, sender Sender) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	return &Dispatcher{
		cfg:      cfg,
		registry: registry,
		items:    items,
		store:    st,
		engine:   engine,
		notifier: notifier,
		sender:   sender,
		sem:      semaphore.NewWeighted(workers),
		now:      time.Now,
	}
}

// HandleEvent routes one classified event. Heartbeat acks are consumed by
// the connection before they get here.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev codec.Event) {
	switch ev.Kind {
	case codec.KindChatMessage:
		d.HandleChat(ctx, ev.Chat)
	case codec.KindOrderStatus:
		d.HandleOrder(ctx, ev.Order)
	case codec.KindTypingStatus:
		slog.Debug("counterpart is typing")
	case codec.KindSystemNotice, codec.KindUnrecognized:
		slog.Debug("event dropped", "kind", ev.Kind.String())
	}
}

// HandleChat runs the chat pipeline. Each rule short-circuits the rest.
func (d *Dispatcher) HandleChat(ctx context.Context, msg *codec.ChatMessage) {
	if msg == nil {
		return
	}
	conv := msg.ConversationID

	if d.now().UnixMilli()-msg.CreatedAt > d.cfg.ExpireWindow.Milliseconds() {
		slog.Debug("expired message dropped", "conversation", conv)
		return
	}

	if msg.SenderID == d.cfg.OwnUserID {
		d.handleOwnMessage(ctx, msg)
		return
	}

	slog.Info("customer message",
		"conversation", conv, "sender", msg.SenderName, "item", msg.ItemID, "text", msg.Text)
	if err := d.store.RecordMessage(ctx, conv, store.RoleUser, msg.Text); err != nil {
		slog.Error("record customer message failed", "conversation", conv, "error", err)
	}

	if d.registry.IsActive(conv) {
		slog.Info("conversation under manual takeover, reply suppressed", "conversation", conv)
		return
	}

	if msg.NoPush {
		slog.Debug("non-pushable notice dropped", "conversation", conv)
		return
	}

	info, ok := d.items.Get(ctx, msg.ItemID)
	if !ok {
		slog.Warn("item context unavailable, reply skipped", "conversation", conv, "item", msg.ItemID)
		return
	}

	d.submit(ctx, msg, info)
}

// handleOwnMessage consumes messages sent by the account owner: either a
// takeover toggle or a manually typed reply that only needs recording.
func (d *Dispatcher) handleOwnMessage(ctx context.Context, msg *codec.ChatMessage) {
	conv := msg.ConversationID
	if d.isTogglePhrase(msg.Text) {
		mode := d.registry.Toggle(conv)
		slog.Info("takeover toggled", "conversation", conv, "mode", string(mode))
		if err := d.store.SetHandover(ctx, conv, mode == takeover.ModeManual); err != nil {
			slog.Error("persist handover state failed", "conversation", conv, "error", err)
		}
		if mode == takeover.ModeManual {
			if err := d.notifier.Handover(ctx, "conversation "+conv+" claimed by operator"); err != nil {
				slog.Warn("handover notification failed", "conversation", conv, "error", err)
			}
		}
		return
	}
	if err := d.store.RecordMessage(ctx, conv, store.RoleAssistant, msg.Text); err != nil {
		slog.Error("record owner message failed", "conversation", conv, "error", err)
	}
	slog.Info("owner replied manually", "conversation", conv)
}

func (d *Dispatcher) isTogglePhrase(text string) bool {
	trimmed := strings.TrimSpace(text)
	for _, phrase := range d.cfg.TogglePhrases {
		if trimmed == phrase {
			return true
		}
	}
	return false
}

// submit binds the work to the current socket generation and hands it to
// the pool. The pool bounds concurrent reply computations; submissions
// themselves never block the caller.
func (d *Dispatcher) submit(ctx context.Context, msg *codec.ChatMessage, info item.Info) {
	gen := d.sender.Generation()
	conv := msg.ConversationID

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer d.sem.Release(1)

		history, err := d.store.History(ctx, conv, 0)
		if err != nil {
			slog.Error("load history failed", "conversation", conv, "error", err)
			return
		}

		out, err := d.engine.ComputeReply(ctx, history, info.Context())
		if err != nil {
			slog.Error("reply computation failed", "conversation", conv, "error", err)
			return
		}
		if err := d.store.RecordMessage(ctx, conv, store.RoleAssistant, out); err != nil {
			slog.Error("record reply failed", "conversation", conv, "error", err)
		}

		if d.sender.Generation() != gen {
			slog.Info("socket replaced while computing, reply discarded", "conversation", conv)
			return
		}
		if err := d.sender.SendChat(gen, conv, msg.SenderID, out); err != nil {
			slog.Warn("send reply failed", "conversation", conv, "error", err)
			return
		}
		slog.Info("reply sent", "conversation", conv, "text", out)
	}()
}

// HandleOrder processes an order transition synchronously. Only the
// transition into awaiting-shipment (buyer paid) notifies; the rest are
// logged.
func (d *Dispatcher) HandleOrder(ctx context.Context, o *codec.OrderStatus) {
	if o == nil {
		return
	}
	buyerURL := d.cfg.ProfileURLBase + o.BuyerID

	switch o.StatusLabel {
	case codec.StatusAwaitingPayment:
		slog.Info("order awaiting payment", "buyer", o.BuyerID)
	case codec.StatusClosed:
		slog.Info("order closed", "buyer", o.BuyerID)
	case codec.StatusAwaitingShipment:
		slog.Info("order paid", "buyer", o.BuyerID, "item", o.ItemTitle, "price", o.Price)
		if err := d.notifier.OrderPaid(ctx, o.BuyerID, buyerURL, o.ItemTitle, o.Price); err != nil {
			slog.Error("order notification failed", "buyer", o.BuyerID, "error", err)
		}
	default:
		slog.Debug("order transition ignored", "status", o.StatusLabel)
	}
}

// Wait blocks until all in-flight reply computations finish or the timeout
// expires. Returns true if the pool drained.
func (d *Dispatcher) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
