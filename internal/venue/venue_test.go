package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"autotrader-v1/internal/model"
)

type recordingHandler struct {
	events []Event
	// onEvent runs inside the handler, like an engine reacting to an event.
	onEvent func(Event)
}

func (h *recordingHandler) record(e Event) {
	h.events = append(h.events, e)
	if h.onEvent != nil {
		h.onEvent(e)
	}
}

func (h *recordingHandler) OnOrderBookUpdate(s model.Snapshot) {
	h.record(Event{Kind: KindBook, Book: s})
}
func (h *recordingHandler) OnTradeTicks(t model.TradeTicks) {
	h.record(Event{Kind: KindTrade, Trade: t})
}
func (h *recordingHandler) OnOrderFilled(id, price, volume int64) {
	h.record(Event{Kind: KindFill, OrderID: id, Price: price, Volume: volume})
}
func (h *recordingHandler) OnOrderStatus(id, filled, remaining, fees int64) {
	h.record(Event{Kind: KindStatus, OrderID: id, TotalFilled: filled, Remaining: remaining, Fees: fees})
}
func (h *recordingHandler) OnHedgeFilled(id, price, volume int64) {
	h.record(Event{Kind: KindHedgeFill, OrderID: id, Price: price, Volume: volume})
}
func (h *recordingHandler) OnError(id int64, msg string) {
	h.record(Event{Kind: KindError, OrderID: id, Message: msg})
}

func (h *recordingHandler) kinds() []Kind {
	out := make([]Kind, len(h.events))
	for i, e := range h.events {
		out[i] = e.Kind
	}
	return out
}

func etfBook(seq, bid, ask int64) model.Snapshot {
	s := model.Snapshot{Instrument: model.ETF, Sequence: seq}
	s.Bids.Prices[0], s.Bids.Volumes[0] = bid, 20
	s.Asks.Prices[0], s.Asks.Volumes[0] = ask, 20
	return s
}

func TestDispatcher_InjectedEventsPrecedeNextPublished(t *testing.T) {
	d := NewDispatcher(8)
	ctx := context.Background()
	d.Publish(ctx, Event{Kind: KindBook, Book: etfBook(1, 9900, 10100)})
	d.Publish(ctx, Event{Kind: KindBook, Book: etfBook(2, 9900, 10100)})

	h := &recordingHandler{}
	h.onEvent = func(e Event) {
		if e.Kind == KindBook && e.Book.Sequence == 1 {
			d.Inject(Event{Kind: KindStatus, OrderID: 7, Remaining: 10})
		}
	}
	if n := d.Drain(h); n != 3 {
		t.Fatalf("expected 3 events, got %d", n)
	}
	want := []Kind{KindBook, KindStatus, KindBook}
	for i, k := range h.kinds() {
		if k != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], k)
		}
	}
}

func TestDispatcher_DropsMarketDataWhenFull(t *testing.T) {
	d := NewDispatcher(2)
	dropped := 0
	d.OnOverflow = func() { dropped++ }
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		d.Publish(ctx, Event{Kind: KindBook, Book: etfBook(i, 9900, 10100)})
	}
	if dropped != 1 {
		t.Errorf("expected 1 dropped, got %d", dropped)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if d.Publish(cancelled, Event{Kind: KindFill, OrderID: 1}) {
		t.Error("expected order event not enqueued on a full inbox after shutdown")
	}
}

func TestDispatcher_RunDeliversUntilCancelled(t *testing.T) {
	d := NewDispatcher(8)
	got := make(chan Event, 4)
	h := &recordingHandler{onEvent: func(e Event) { got <- e }}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx, h)
		close(done)
	}()

	d.Publish(ctx, Event{Kind: KindFill, OrderID: 3, Price: 10000, Volume: 2})
	select {
	case e := <-got:
		if e.OrderID != 3 {
			t.Errorf("expected order 3, got %d", e.OrderID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
	cancel()
	<-done
}

func TestPaperVenue_RestingOrderFillsWhenBookMovesThrough(t *testing.T) {
	d := NewDispatcher(8)
	p := NewPaperVenue(PaperConfig{MaxLiveOrders: 10, MakerFeeBps: -1}, d)
	h := &recordingHandler{}
	ctx := context.Background()

	d.Publish(ctx, Event{Kind: KindBook, Book: etfBook(1, 9900, 10100)})
	d.Drain(h)
	p.InsertOrder(1, model.Buy, 9900, 10, model.Resting)
	d.Drain(h)

	ack := h.events[len(h.events)-1]
	if ack.Kind != KindStatus || ack.Remaining != 10 || ack.TotalFilled != 0 {
		t.Fatalf("expected live ack, got %+v", ack)
	}

	h.events = nil
	d.Publish(ctx, Event{Kind: KindBook, Book: etfBook(2, 9700, 9900)})
	d.Drain(h)

	// The venue matches on the new book; the engine sees the book first.
	want := []Kind{KindBook, KindFill, KindStatus}
	got := h.kinds()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	st := h.events[2]
	if st.TotalFilled != 10 || st.Remaining != 0 || st.Fees != -9 {
		t.Errorf("unexpected terminal status %+v", st)
	}
}

func TestPaperVenue_ImmediateOrderTakesTouch(t *testing.T) {
	d := NewDispatcher(8)
	p := NewPaperVenue(PaperConfig{TakerFeeBps: 2}, d)
	h := &recordingHandler{}
	d.Publish(context.Background(), Event{Kind: KindBook, Book: etfBook(1, 9900, 10100)})
	d.Drain(h)
	h.events = nil

	p.InsertOrder(5, model.Sell, 9900, 30, model.Immediate)
	d.Drain(h)

	if len(h.events) != 2 {
		t.Fatalf("expected fill and status, got %+v", h.events)
	}
	if f := h.events[0]; f.Kind != KindFill || f.Volume != 20 {
		t.Errorf("expected 20 lot fill, got %+v", f)
	}
	if s := h.events[1]; s.TotalFilled != 20 || s.Remaining != 0 || s.Fees != 39 {
		t.Errorf("expected remainder withdrawn, got %+v", s)
	}
}

func TestPaperVenue_RejectsWashAndCancels(t *testing.T) {
	d := NewDispatcher(8)
	p := NewPaperVenue(PaperConfig{}, d)
	h := &recordingHandler{}

	p.InsertOrder(1, model.Buy, 9800, 10, model.Resting)
	p.InsertOrder(2, model.Sell, 9800, 10, model.Resting)
	p.CancelOrder(1)
	p.CancelOrder(1)
	d.Drain(h)

	want := []Kind{KindStatus, KindError, KindStatus}
	got := h.kinds()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if h.events[1].OrderID != 2 {
		t.Errorf("expected order 2 rejected, got %+v", h.events[1])
	}
	if h.events[2].Remaining != 0 {
		t.Errorf("expected cancel status, got %+v", h.events[2])
	}
}

func TestCodec_DecodesBookAndStatus(t *testing.T) {
	raw := `{"type":"book","instrument":1,"sequence":9,"ask_prices":[10100,10200,0,0,0],"ask_volumes":[5,6,0,0,0],"bid_prices":[9900,0,0,0,0],"bid_volumes":[7,0,0,0,0]}`
	e, err := DecodeEvent([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Kind != KindBook || e.Book.Instrument != model.ETF || e.Book.Sequence != 9 {
		t.Errorf("unexpected book %+v", e.Book)
	}
	if e.Book.Asks.Prices[1] != 10200 || e.Book.Bids.Volumes[0] != 7 {
		t.Errorf("unexpected levels %+v", e.Book)
	}

	e, err = DecodeEvent([]byte(`{"type":"order_status","order_id":4,"filled":3,"remaining":7,"fees":-1}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Kind != KindStatus || e.OrderID != 4 || e.TotalFilled != 3 || e.Remaining != 7 || e.Fees != -1 {
		t.Errorf("unexpected status %+v", e)
	}

	if _, err := DecodeEvent([]byte(`{"type":"login"}`)); err == nil {
		t.Error("expected error for unknown frame type")
	}
}

func TestClient_StreamsEventsAndSendsCommands(t *testing.T) {
	commands := make(chan string, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		raw, _ := EncodeEvent(Event{Kind: KindBook, Book: etfBook(1, 9900, 10100)})
		conn.WriteMessage(websocket.TextMessage, raw)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			commands <- string(msg)
		}
	}))
	defer srv.Close()

	d := NewDispatcher(16)
	c, err := NewClient(ClientConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, d)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	up := make(chan bool, 4)
	c.OnConnected = func(v bool) { up <- v }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan Event, 4)
	go c.Start(ctx)
	go d.Run(ctx, &recordingHandler{onEvent: func(e Event) { got <- e }})

	select {
	case e := <-got:
		if e.Kind != KindBook || e.Book.Sequence != 1 {
			t.Errorf("unexpected event %+v", e)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("book not delivered")
	}
	if !<-up {
		t.Fatal("expected connected")
	}

	c.InsertOrder(11, model.Buy, 9900, 10, model.Resting)
	select {
	case cmd := <-commands:
		if !strings.Contains(cmd, `"type":"insert_order"`) || !strings.Contains(cmd, `"order_id":11`) {
			t.Errorf("unexpected command %s", cmd)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("command not received")
	}
}

func TestClient_SendWhileDisconnectedRejects(t *testing.T) {
	d := NewDispatcher(4)
	c, _ := NewClient(ClientConfig{URL: "ws://127.0.0.1:1/venue"}, d)
	h := &recordingHandler{}

	c.SendHedgeOrder(21, model.Sell, 100, 10)
	d.Drain(h)

	if len(h.events) != 1 || h.events[0].Kind != KindError || h.events[0].OrderID != 21 {
		t.Errorf("expected synthetic rejection, got %+v", h.events)
	}
}

type callLog []string

func (c *callLog) InsertOrder(id int64, side model.Side, price, volume int64, lifespan model.Lifespan) {
	*c = append(*c, fmt.Sprintf("insert %d %s %d %d", id, side, price, volume))
}
func (c *callLog) CancelOrder(id int64) { *c = append(*c, fmt.Sprintf("cancel %d", id)) }
func (c *callLog) AmendOrder(id, volume int64) {
	*c = append(*c, fmt.Sprintf("amend %d %d", id, volume))
}
func (c *callLog) SendHedgeOrder(id int64, side model.Side, price, volume int64) {
	*c = append(*c, fmt.Sprintf("hedge %d %s %d %d", id, side, price, volume))
}

func TestCodec_CommandsRoundTripThroughClientFrames(t *testing.T) {
	frames := []frame{
		{Type: frameInsert, OrderID: 1, Side: model.Buy, Price: 9900, Volume: 10, Lifespan: model.Resting},
		{Type: frameCancel, OrderID: 1},
		{Type: frameAmend, OrderID: 2, Volume: 4},
		{Type: frameHedge, OrderID: 3, Side: model.Sell, Price: 100, Volume: 10},
	}
	var calls callLog
	for _, f := range frames {
		raw, err := json.Marshal(f)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		cmd, err := DecodeCommand(raw)
		if err != nil {
			t.Fatalf("decode %s: %v", f.Type, err)
		}
		cmd.Apply(&calls)
	}

	want := []string{
		fmt.Sprintf("insert 1 %s 9900 10", model.Buy),
		"cancel 1",
		"amend 2 4",
		fmt.Sprintf("hedge 3 %s 100 10", model.Sell),
	}
	if len(calls) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d: expected %q, got %q", i, want[i], calls[i])
		}
	}

	if _, err := DecodeCommand([]byte(`{"type":"book"}`)); err == nil {
		t.Error("expected error for an event frame")
	}
}

func TestDispatcher_Saturation(t *testing.T) {
	d := NewDispatcher(4)
	ctx := context.Background()
	d.Publish(ctx, Event{Kind: KindBook})
	if got := d.Saturation(); got != 0.25 {
		t.Errorf("expected 0.25, got %v", got)
	}
	d.Drain(&recordingHandler{})
	if got := d.Saturation(); got != 0 {
		t.Errorf("expected 0 after drain, got %v", got)
	}
}
