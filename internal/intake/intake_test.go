package intake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"equity-auto-trader/internal/broker"
	"equity-auto-trader/internal/domain"
	"equity-auto-trader/internal/engine"
	"equity-auto-trader/internal/storage/memory"
)

type fakeGateway struct {
	mu    sync.Mutex
	price float64
	buys  int
}

func (g *fakeGateway) Buy(_ context.Context, req broker.BuyRequest) (*broker.FillResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.buys++
	qty := int64(req.Notional / g.price)
	return &broker.FillResult{
		OrderID:    "BUY-1",
		Instrument: req.Instrument,
		Side:       broker.SideBuy,
		Quantity:   qty,
		Price:      g.price,
		FilledAt:   time.Unix(1700000000, 0),
	}, nil
}

func (g *fakeGateway) Sell(_ context.Context, req broker.SellRequest) (*broker.FillResult, error) {
	return &broker.FillResult{
		OrderID:    "SELL-1",
		Instrument: req.Instrument,
		Side:       broker.SideSell,
		Quantity:   req.Quantity,
	}, nil
}

type captureNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *captureNotifier) Notify(_ context.Context, e domain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *captureNotifier) rejections() []domain.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.Event
	for _, e := range n.events {
		if e.Type == domain.EventSignalRejected {
			out = append(out, e)
		}
	}
	return out
}

func newTestIntake(t *testing.T, disabled map[string]bool) (*Intake, *fakeGateway, *captureNotifier) {
	t.Helper()
	positions := memory.NewPositionStore()
	signals := memory.NewSignalStore()
	gateway := &fakeGateway{price: 60000}
	notifier := &captureNotifier{}
	eng := engine.New(engine.DefaultRules(), positions, gateway, notifier)
	i := New(Options{
		Engine:          eng,
		Signals:         signals,
		Positions:       positions,
		Notifier:        notifier,
		OrderNotional:   600_000,
		DisabledMarkets: disabled,
	})
	return i, gateway, notifier
}

func buySignal(instrument string) domain.Signal {
	return domain.Signal{
		Action:     domain.SignalActionBuy,
		Instrument: instrument,
		Market:     domain.MarketDomestic,
		ReceivedAt: time.Unix(1700000000, 0),
	}
}

func TestAcceptOpensPosition(t *testing.T) {
	i, gateway, _ := newTestIntake(t, nil)

	pos, err := i.Accept(context.Background(), buySignal("005930"))
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if pos.EntryQty != 10 || pos.Status != domain.StatusActive {
		t.Errorf("position = %+v", pos)
	}
	if gateway.buys != 1 {
		t.Errorf("buys = %d, want 1", gateway.buys)
	}
}

func TestAcceptRejectsNonBuyAction(t *testing.T) {
	i, gateway, notifier := newTestIntake(t, nil)

	sig := buySignal("005930")
	sig.Action = "SELL"
	_, err := i.Accept(context.Background(), sig)

	var rerr *RejectError
	if !errors.As(err, &rerr) || rerr.Reason != domain.RejectMalformed {
		t.Fatalf("error = %v, want Malformed rejection", err)
	}
	if gateway.buys != 0 {
		t.Errorf("buys = %d, want 0", gateway.buys)
	}
	if len(notifier.rejections()) != 1 {
		t.Errorf("rejection events = %d, want 1", len(notifier.rejections()))
	}
}

func TestAcceptRejectsEmptyInstrument(t *testing.T) {
	i, _, _ := newTestIntake(t, nil)

	sig := buySignal("  ")
	_, err := i.Accept(context.Background(), sig)

	var rerr *RejectError
	if !errors.As(err, &rerr) || rerr.Reason != domain.RejectMalformed {
		t.Fatalf("error = %v, want Malformed rejection", err)
	}
}

func TestAcceptRejectsDisabledMarket(t *testing.T) {
	i, gateway, _ := newTestIntake(t, map[string]bool{domain.MarketOverseas: true})

	sig := buySignal("AAPL")
	sig.Market = domain.MarketOverseas
	sig.Exchange = "NASD"
	_, err := i.Accept(context.Background(), sig)

	var rerr *RejectError
	if !errors.As(err, &rerr) || rerr.Reason != domain.RejectTradingDisabled {
		t.Fatalf("error = %v, want TradingDisabled rejection", err)
	}
	if gateway.buys != 0 {
		t.Errorf("buys = %d, want 0", gateway.buys)
	}
}

func TestAcceptRejectsDuplicateWhilePositionOpen(t *testing.T) {
	i, gateway, _ := newTestIntake(t, nil)

	if _, err := i.Accept(context.Background(), buySignal("005930")); err != nil {
		t.Fatalf("first Accept: %v", err)
	}
	_, err := i.Accept(context.Background(), buySignal("005930"))

	var rerr *RejectError
	if !errors.As(err, &rerr) || rerr.Reason != domain.RejectDuplicatePosition {
		t.Fatalf("error = %v, want DuplicatePosition rejection", err)
	}
	if gateway.buys != 1 {
		t.Errorf("buys = %d, want 1", gateway.buys)
	}
}

func TestConcurrentDuplicateSignalsOpenExactlyOne(t *testing.T) {
	i, gateway, _ := newTestIntake(t, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var accepted, rejected int
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := i.Accept(context.Background(), buySignal("005930"))
			mu.Lock()
			defer mu.Unlock()
			var rerr *RejectError
			switch {
			case err == nil:
				accepted++
			case errors.As(err, &rerr) && rerr.Reason == domain.RejectDuplicatePosition:
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if accepted != 1 || rejected != 7 {
		t.Errorf("accepted=%d rejected=%d, want 1 and 7", accepted, rejected)
	}
	if gateway.buys != 1 {
		t.Errorf("buys = %d, want 1", gateway.buys)
	}
}
