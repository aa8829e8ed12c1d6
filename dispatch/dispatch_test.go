package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flealive/flealive/codec"
	"github.com/flealive/flealive/item"
	"github.com/flealive/flealive/reply"
	"github.com/flealive/flealive/store"
	"github.com/flealive/flealive/takeover"
)

const ownID = "seller1"

type memStore struct {
	mu       sync.Mutex
	turns    map[string][]reply.Turn
	handover map[string]bool
}

func newMemStore() *memStore {
	return &memStore{turns: make(map[string][]reply.Turn), handover: make(map[string]bool)}
}

func (m *memStore) RecordMessage(ctx context.Context, conv, role, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns[conv] = append(m.turns[conv], reply.Turn{Role: role, Content: text})
	return nil
}

func (m *memStore) History(ctx context.Context, conv string, limit int) ([]reply.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]reply.Turn, len(m.turns[conv]))
	copy(out, m.turns[conv])
	return out, nil
}

func (m *memStore) IsHandover(ctx context.Context, conv string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handover[conv], nil
}

func (m *memStore) SetHandover(ctx context.Context, conv string, h bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handover[conv] = h
	return nil
}

type sent struct {
	gen  uint64
	conv string
	to   string
	text string
}

type fakeSender struct {
	gen   atomic.Uint64
	mu    sync.Mutex
	sends []sent
}

func (s *fakeSender) Generation() uint64 { return s.gen.Load() }

func (s *fakeSender) SendChat(gen uint64, conv, to, text string) error {
	if gen != s.gen.Load() {
		return errors.New("stale generation")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, sent{gen: gen, conv: conv, to: to, text: text})
	return nil
}

func (s *fakeSender) sent() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sent, len(s.sends))
	copy(out, s.sends)
	return out
}

type fakeNotifier struct {
	mu        sync.Mutex
	calls     []sent // reuse fields: conv=buyer, to=title, text=price
	handovers []string
}

func (n *fakeNotifier) OrderPaid(ctx context.Context, buyerID, buyerURL, itemTitle, price string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, sent{conv: buyerID, to: itemTitle, text: price})
	return nil
}

func (n *fakeNotifier) Handover(ctx context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handovers = append(n.handovers, message)
	return nil
}

type staticFetcher struct {
	fail  atomic.Bool
	calls atomic.Int64
}

func (f *staticFetcher) FetchItemInfo(ctx context.Context, itemID string) (item.Info, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return item.Info{}, errors.New("api down")
	}
	return item.Info{Description: "desc " + itemID, SoldPrice: "50"}, nil
}

type harness struct {
	d        *Dispatcher
	store    *memStore
	sender   *fakeSender
	notifier *fakeNotifier
	fetcher  *staticFetcher
	registry *takeover.Registry
	computes atomic.Int64
	engine   reply.Engine
}

func newHarness(t *testing.T, engineFn reply.Func) *harness {
	t.Helper()
	h := &harness{
		store:    newMemStore(),
		sender:   &fakeSender{},
		notifier: &fakeNotifier{},
		fetcher:  &staticFetcher{},
		registry: takeover.NewRegistry(time.Hour),
	}
	h.sender.gen.Store(1)
	if engineFn == nil {
		engineFn = func(ctx context.Context, history []reply.Turn, itemContext string) (string, error) {
			return "auto reply", nil
		}
	}
	h.engine = reply.Func(func(ctx context.Context, history []reply.Turn, itemContext string) (string, error) {
		h.computes.Add(1)
		return engineFn(ctx, history, itemContext)
	})
	h.d = New(Config{
		OwnUserID:      ownID,
		TogglePhrases:  []string{"."},
		ExpireWindow:   5 * time.Minute,
		Workers:        4,
		ProfileURLBase: "https://market.example/u/",
	}, h.registry, item.NewCache(h.fetcher), h.store, h.engine, h.notifier, h.sender)
	return h
}

func chat(conv, sender, text string) *codec.ChatMessage {
	return &codec.ChatMessage{
		ConversationID: conv,
		SenderID:       sender,
		SenderName:     "Buyer " + sender,
		Text:           text,
		CreatedAt:      time.Now().UnixMilli(),
		ItemID:         "item1",
	}
}

func TestReplyFlow(t *testing.T) {
	var gotHistory []reply.Turn
	var gotContext string
	h := newHarness(t, func(ctx context.Context, history []reply.Turn, itemContext string) (string, error) {
		gotHistory = history
		gotContext = itemContext
		return "it is in great shape", nil
	})

	h.d.HandleChat(context.Background(), chat("c1", "buyer1", "how is the condition?"))
	if !h.d.Wait(time.Second) {
		t.Fatal("pool did not drain")
	}

	sends := h.sender.sent()
	if len(sends) != 1 {
		t.Fatalf("sends: got %d, want 1", len(sends))
	}
	if sends[0].conv != "c1" || sends[0].to != "buyer1" || sends[0].text != "it is in great shape" {
		t.Errorf("send: %+v", sends[0])
	}
	if len(gotHistory) != 1 || gotHistory[0].Content != "how is the condition?" {
		t.Errorf("history: %+v", gotHistory)
	}
	if gotContext != "desc item1; current asking price: 50" {
		t.Errorf("item context: %q", gotContext)
	}

	turns, _ := h.store.History(context.Background(), "c1", 0)
	if len(turns) != 2 || turns[1].Role != store.RoleAssistant {
		t.Errorf("transcript: %+v", turns)
	}
}

func TestExpiredDropped(t *testing.T) {
	h := newHarness(t, nil)
	msg := chat("c1", "buyer1", "old news")
	msg.CreatedAt = time.Now().Add(-10 * time.Minute).UnixMilli()

	h.d.HandleChat(context.Background(), msg)
	h.d.Wait(100 * time.Millisecond)

	if h.computes.Load() != 0 {
		t.Error("expired message must not reach the engine")
	}
	if len(h.sender.sent()) != 0 {
		t.Error("expired message must not produce a send")
	}
	turns, _ := h.store.History(context.Background(), "c1", 0)
	if len(turns) != 0 {
		t.Error("expired message must not be recorded")
	}
}

func TestSelfToggleRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.d.HandleChat(ctx, chat("c1", ownID, " . "))
	if !h.registry.IsActive("c1") {
		t.Fatal("first toggle should enter manual mode")
	}
	if on, _ := h.store.IsHandover(ctx, "c1"); !on {
		t.Error("handover flag not persisted on enter")
	}

	h.d.HandleChat(ctx, chat("c1", ownID, "."))
	if h.registry.IsActive("c1") {
		t.Fatal("second toggle should exit manual mode")
	}
	if on, _ := h.store.IsHandover(ctx, "c1"); on {
		t.Error("handover flag not cleared on exit")
	}
	h.notifier.mu.Lock()
	handovers := len(h.notifier.handovers)
	h.notifier.mu.Unlock()
	if handovers != 1 {
		t.Errorf("handover notifications: got %d, want 1", handovers)
	}

	turns, _ := h.store.History(ctx, "c1", 0)
	if len(turns) != 0 {
		t.Errorf("toggle messages must not be recorded, got %+v", turns)
	}
	if h.computes.Load() != 0 {
		t.Error("toggle messages must not reach the engine")
	}
}

func TestOwnManualReplyRecorded(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.d.HandleChat(ctx, chat("c1", ownID, "I'll ship it tomorrow"))
	h.d.Wait(100 * time.Millisecond)

	turns, _ := h.store.History(ctx, "c1", 0)
	if len(turns) != 1 || turns[0].Role != store.RoleAssistant {
		t.Fatalf("owner reply not recorded as assistant: %+v", turns)
	}
	if h.computes.Load() != 0 || len(h.sender.sent()) != 0 {
		t.Error("owner reply must not trigger an automated reply")
	}
}

func TestTakeoverSuppression(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.registry.Enter("c1")

	h.d.HandleChat(ctx, chat("c1", "buyer1", "hello?"))
	h.d.Wait(100 * time.Millisecond)

	if h.computes.Load() != 0 {
		t.Error("takeover must suppress the worker pool")
	}
	// The customer turn is still recorded for the human operator.
	turns, _ := h.store.History(ctx, "c1", 0)
	if len(turns) != 1 || turns[0].Role != store.RoleUser {
		t.Errorf("customer turn missing from transcript: %+v", turns)
	}
}

func TestNoPushDropped(t *testing.T) {
	h := newHarness(t, nil)
	msg := chat("c1", "buyer1", "system blurb")
	msg.NoPush = true

	h.d.HandleChat(context.Background(), msg)
	h.d.Wait(100 * time.Millisecond)

	if h.computes.Load() != 0 || len(h.sender.sent()) != 0 {
		t.Error("non-pushable notice must not produce a reply")
	}
}

func TestItemUnavailableDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.fetcher.fail.Store(true)

	h.d.HandleChat(context.Background(), chat("c1", "buyer1", "price?"))
	h.d.Wait(100 * time.Millisecond)

	if h.computes.Load() != 0 || len(h.sender.sent()) != 0 {
		t.Error("missing item context must skip reply generation")
	}
}

func TestReplyErrorIsolated(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, history []reply.Turn, itemContext string) (string, error) {
		return "", errors.New("model unavailable")
	})

	h.d.HandleChat(context.Background(), chat("c1", "buyer1", "price?"))
	if !h.d.Wait(time.Second) {
		t.Fatal("pool did not drain")
	}
	if len(h.sender.sent()) != 0 {
		t.Error("failed computation must not send")
	}

	// The dispatcher keeps working afterwards.
	h.d.HandleChat(context.Background(), chat("c2", "buyer2", "still there?"))
	h.d.Wait(time.Second)
	if h.computes.Load() != 2 {
		t.Errorf("computes: got %d, want 2", h.computes.Load())
	}
}

func TestStaleSocketDiscard(t *testing.T) {
	block := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, history []reply.Turn, itemContext string) (string, error) {
		<-block
		return "late reply", nil
	})

	h.d.HandleChat(context.Background(), chat("c1", "buyer1", "hello"))

	// Replace the socket while the computation is in flight.
	time.Sleep(10 * time.Millisecond)
	h.sender.gen.Add(1)
	close(block)

	if !h.d.Wait(time.Second) {
		t.Fatal("pool did not drain")
	}
	if len(h.sender.sent()) != 0 {
		t.Error("reply bound to a replaced socket must be discarded")
	}
}

func TestOrderPaidNotifiesExactlyOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.d.HandleOrder(context.Background(), &codec.OrderStatus{
		BuyerID:     "buyer7",
		StatusLabel: codec.StatusAwaitingShipment,
		ItemTitle:   "vintage lens",
		Price:       "120",
	})

	h.notifier.mu.Lock()
	defer h.notifier.mu.Unlock()
	if len(h.notifier.calls) != 1 {
		t.Fatalf("notifications: got %d, want 1", len(h.notifier.calls))
	}
	got := h.notifier.calls[0]
	if got.conv != "buyer7" || got.to != "vintage lens" || got.text != "120" {
		t.Errorf("notification payload: %+v", got)
	}
}

func TestOtherOrderStatusesDoNotNotify(t *testing.T) {
	h := newHarness(t, nil)
	for _, label := range []string{codec.StatusAwaitingPayment, codec.StatusClosed, "something else"} {
		h.d.HandleOrder(context.Background(), &codec.OrderStatus{BuyerID: "b", StatusLabel: label})
	}

	h.notifier.mu.Lock()
	defer h.notifier.mu.Unlock()
	if len(h.notifier.calls) != 0 {
		t.Errorf("notifications: got %d, want 0", len(h.notifier.calls))
	}
}

func TestHandleEventRouting(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	// Non-chat kinds must be absorbed without effect.
	for _, ev := range []codec.Event{
		{Kind: codec.KindTypingStatus},
		{Kind: codec.KindSystemNotice},
		{Kind: codec.KindUnrecognized},
		{Kind: codec.KindChatMessage}, // nil chat pointer
		{Kind: codec.KindOrderStatus}, // nil order pointer
	} {
		h.d.HandleEvent(ctx, ev)
	}

	h.d.HandleEvent(ctx, codec.Event{Kind: codec.KindChatMessage, Chat: chat("c1", "buyer1", "hi")})
	if !h.d.Wait(time.Second) {
		t.Fatal("pool did not drain")
	}
	if len(h.sender.sent()) != 1 {
		t.Errorf("sends: got %d, want 1", len(h.sender.sent()))
	}
}
