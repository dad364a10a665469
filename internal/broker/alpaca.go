package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"kestrel/internal/domain"
	"kestrel/internal/event"
	"kestrel/internal/instrument"
	"kestrel/internal/portfolio"
	"kestrel/internal/util"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// ErrAssetInvalid marks an instrument that failed broker-side validation.
// Only that instrument is affected; the session keeps running.
var ErrAssetInvalid = errors.New("asset failed broker validation")

// accountDebounce is the quiet period for coalescing account-update bursts
// into a single snapshot refresh.
const accountDebounce = 250 * time.Millisecond

// AlpacaBroker relays orders to the Alpaca brokerage and translates its
// asynchronous trade-update callbacks into the engine's event model. All
// portfolio mutations travel through the events channel and are applied by
// the live engine's owner goroutine; the broker itself only reads the
// portfolio.
type AlpacaBroker struct {
	client   *alpaca.Client
	registry *instrument.Registry
	pf       *portfolio.Portfolio
	events   chan<- event.Event
	limiter  *util.RateLimiter
	log      *slog.Logger

	// Serialized monotonic order id allocation.
	idMu        sync.Mutex
	nextOrderID int64
	sessionID   string

	// Per-ticker asset validation cache.
	assetMu sync.Mutex
	assets  map[string]error // nil entry = validated tradable

	// Client order id -> originating instruction identity.
	metaMu sync.Mutex
	meta   map[string]orderMeta

	debounce *util.Debouncer

	mu           sync.Mutex
	connected    bool
	streamCancel context.CancelFunc
}

type orderMeta struct {
	tradeID string
	legID   int
	ticker  string
	action  domain.Action
}

// NewAlpacaBroker creates a live gateway. events receives every order,
// position, account, and execution event the broker produces; the channel's
// consumer owns all portfolio mutations.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string, registry *instrument.Registry, pf *portfolio.Portfolio, events chan<- event.Event, log *slog.Logger) *AlpacaBroker {
	b := &AlpacaBroker{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		registry: registry,
		pf:       pf,
		events:   events,
		limiter:  util.NewRateLimiter(180),
		log:      log.With("broker", "alpaca"),
		assets:   make(map[string]error),
		meta:     make(map[string]orderMeta),
	}
	b.debounce = util.NewDebouncer(accountDebounce, b.flushAccount)
	return b
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string { return "alpaca" }

// Connect runs the strict connection sequence: (1) transport/auth probe,
// (2) order id allocator seeding, (3) account download, (4) open-order
// download, then starts the trade-update stream. Every wait is bounded by
// ctx; a deadline or auth failure fails the handshake and no trading is
// permitted.
func (b *AlpacaBroker) Connect(ctx context.Context) error {
	// 1. Connection acknowledged: a clock round-trip proves transport and
	// credentials. An auth error here means the wrong endpoint or keys;
	// continuing would silently desynchronize state.
	if _, err := await(ctx, "connection ack", b.client.GetClock); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	// 2. Seed the serialized order id allocator.
	b.idMu.Lock()
	b.sessionID = uuid.NewString()[:8]
	b.nextOrderID = 1
	b.idMu.Unlock()

	// 3. Account download. Applied directly: the event loop is not running
	// until the handshake completes.
	acct, err := await(ctx, "account download", b.client.GetAccount)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	b.pf.UpdateAccount(b.translateAccount(acct))

	positions, err := await(ctx, "position download", b.client.GetPositions)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	for i := range positions {
		pos, perr := b.translatePosition(&positions[i])
		if perr != nil {
			b.log.Warn("skipping unknown broker position", "symbol", positions[i].Symbol, "error", perr)
			continue
		}
		b.pf.UpdatePosition(pos.Instrument.Ticker, pos)
	}

	// 4. Open-order download seeds the active set.
	open, err := await(ctx, "open orders", func() ([]alpaca.Order, error) {
		return b.client.GetOrders(alpaca.GetOrdersRequest{Status: "open", Limit: 500})
	})
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	for i := range open {
		b.pf.UpdateOrder(translateOrder(&open[i]))
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	b.client.StreamTradeUpdatesInBackground(streamCtx, b.handleTradeUpdate)

	b.mu.Lock()
	b.connected = true
	b.streamCancel = cancel
	b.mu.Unlock()

	b.log.Info("connected", "openOrders", len(open), "positions", len(positions))
	return nil
}

// Close stops the trade-update stream and marks the connection dead. New
// submissions are refused until Connect completes the full handshake again.
func (b *AlpacaBroker) Close() error {
	b.mu.Lock()
	if b.streamCancel != nil {
		b.streamCancel()
		b.streamCancel = nil
	}
	b.connected = false
	b.mu.Unlock()
	b.debounce.Stop()
	return nil
}

// Connected reports whether the handshake has completed.
func (b *AlpacaBroker) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// NextOrderID allocates one client order id. Allocation is serialized and
// monotonically increasing within the session.
func (b *AlpacaBroker) NextOrderID() string {
	b.idMu.Lock()
	id := b.nextOrderID
	b.nextOrderID++
	session := b.sessionID
	b.idMu.Unlock()
	return fmt.Sprintf("kestrel-%s-%d", session, id)
}

// ValidateAsset checks that the broker recognises ticker as tradable,
// caching the verdict so repeat signals skip the round-trip. A not-found
// answer invalidates only this ticker; an auth error is returned as-is and
// should end the session.
func (b *AlpacaBroker) ValidateAsset(ctx context.Context, ticker string) error {
	b.assetMu.Lock()
	verdict, seen := b.assets[ticker]
	b.assetMu.Unlock()
	if seen {
		return verdict
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	asset, err := await(ctx, "asset lookup", func() (*alpaca.Asset, error) {
		return b.client.GetAsset(ticker)
	})

	switch {
	case isNotFound(err):
		verdict = fmt.Errorf("%w: %s", ErrAssetInvalid, ticker)
	case err != nil:
		// Connectivity/auth failures are not cached: the next attempt may
		// succeed, and auth errors must surface to the caller unchanged.
		return fmt.Errorf("validating %s: %w", ticker, err)
	case !asset.Tradable:
		verdict = fmt.Errorf("%w: %s is not tradable", ErrAssetInvalid, ticker)
	default:
		verdict = nil
	}

	b.assetMu.Lock()
	b.assets[ticker] = verdict
	b.assetMu.Unlock()
	return verdict
}

// PlaceOrder validates the instrument, allocates a client order id, and
// submits the order. The resulting status is delivered through the events
// channel; fills arrive later via the trade-update stream.
func (b *AlpacaBroker) PlaceOrder(ctx context.Context, _ time.Time, tradeID string, legID int, order *domain.Order) error {
	if !b.Connected() {
		return ErrNotConnected
	}
	inst := order.Instrument

	if err := b.ValidateAsset(ctx, inst.Ticker); err != nil {
		return err
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	clientID := b.NextOrderID()
	req := alpaca.PlaceOrderRequest{
		Symbol:        inst.Ticker,
		Qty:           decimalPtr(abs(order.Quantity)),
		Side:          brokerSide(order.Action),
		Type:          brokerOrderType(order.Kind),
		TimeInForce:   alpaca.Day,
		ClientOrderID: clientID,
	}
	if order.Kind == domain.OrderLimit {
		req.LimitPrice = floatPtr(order.LimitPrice)
	}
	if order.Kind == domain.OrderStop {
		req.StopPrice = floatPtr(order.AuxPrice)
	}

	b.metaMu.Lock()
	b.meta[clientID] = orderMeta{tradeID: tradeID, legID: legID, ticker: inst.Ticker, action: order.Action}
	b.metaMu.Unlock()

	placed, err := await(ctx, "place order", func() (*alpaca.Order, error) {
		return b.client.PlaceOrder(req)
	})
	if err != nil {
		b.metaMu.Lock()
		delete(b.meta, clientID)
		b.metaMu.Unlock()
		return fmt.Errorf("placing order for %s: %w", inst.Ticker, err)
	}

	b.log.Info("order submitted",
		"ticker", inst.Ticker,
		"action", order.Action,
		"qty", order.Quantity,
		"orderID", placed.ID,
		"clientOrderID", clientID,
	)
	b.post(event.OrderStatusEvent{Order: translateOrder(placed)})
	return nil
}

// CancelOrder requests cancellation of a working order. The terminal status
// arrives via the trade-update stream.
func (b *AlpacaBroker) CancelOrder(ctx context.Context, orderID string) error {
	if !b.Connected() {
		return ErrNotConnected
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := await(ctx, "cancel order", func() (struct{}, error) {
		return struct{}{}, b.client.CancelOrder(orderID)
	})
	if err != nil {
		return fmt.Errorf("cancelling order %s: %w", orderID, err)
	}
	return nil
}

// RefreshPosition fetches the broker's view of one position and posts the
// update. A not-found answer means the position is closed.
func (b *AlpacaBroker) RefreshPosition(ctx context.Context, ticker string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	bp, err := await(ctx, "position refresh", func() (*alpaca.Position, error) {
		return b.client.GetPosition(ticker)
	})
	if isNotFound(err) {
		b.post(event.PositionEvent{Ticker: ticker})
		return nil
	}
	if err != nil {
		return fmt.Errorf("refreshing position %s: %w", ticker, err)
	}
	pos, err := b.translatePosition(bp)
	if err != nil {
		return err
	}
	b.post(event.PositionEvent{Ticker: ticker, Position: pos})
	return nil
}

// ---------------------------------------------------------------------------
// Stream callbacks
// ---------------------------------------------------------------------------

// handleTradeUpdate runs on the SDK's stream goroutine. It translates the
// callback into events for the owner loop and nudges the account debouncer;
// it never touches the portfolio directly.
func (b *AlpacaBroker) handleTradeUpdate(tu alpaca.TradeUpdate) {
	ao := translateOrder(&tu.Order)
	b.post(event.OrderStatusEvent{Order: ao})

	if tu.Event == "fill" || tu.Event == "partial_fill" {
		if exec, ok := b.translateFill(&tu); ok {
			b.post(event.ExecutionEvent{Execution: exec})
		}
	}

	// Account pushes arrive in bursts around fills; coalesce them into one
	// snapshot refresh after a quiet period.
	b.debounce.Trigger()
}

// flushAccount fetches a fresh account snapshot after the debounce quiet
// period and posts it to the owner loop.
func (b *AlpacaBroker) flushAccount() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	acct, err := await(ctx, "account refresh", b.client.GetAccount)
	if err != nil {
		b.log.Error("account refresh failed", "error", err)
		return
	}
	b.post(event.AccountEvent{Account: b.translateAccount(acct)})
}

func (b *AlpacaBroker) post(evt event.Event) {
	select {
	case b.events <- evt:
	default:
		b.log.Warn("event channel full, dropping event", "kind", evt.Kind())
	}
}

// ---------------------------------------------------------------------------
// Translation
// ---------------------------------------------------------------------------

func (b *AlpacaBroker) translateAccount(a *alpaca.Account) domain.Account {
	var unrealized float64
	for _, pos := range b.pf.Positions() {
		unrealized += pos.UnrealizedPnL
	}
	cash := a.Cash.InexactFloat64()
	margin := a.InitialMargin.InexactFloat64()
	return domain.Account{
		Timestamp:       time.Now(),
		AvailableFunds:  cash,
		RequiredMargin:  margin,
		NetLiquidation:  a.Equity.InexactFloat64(),
		UnrealizedPnL:   unrealized,
		ExcessLiquidity: a.Equity.InexactFloat64() - margin,
		BuyingPower:     a.BuyingPower.InexactFloat64(),
		Currency:        a.Currency,
		CashBalance:     cash,
	}
}

func (b *AlpacaBroker) translatePosition(bp *alpaca.Position) (*domain.Position, error) {
	inst, err := b.registry.Get(bp.Symbol)
	if err != nil {
		return nil, err
	}
	qty := bp.Qty.IntPart()
	side := domain.SideBuy
	if qty < 0 {
		side = domain.SideSell
	}
	pos := &domain.Position{
		Instrument: inst,
		Side:       side,
		Quantity:   qty,
		AvgCost:    bp.AvgEntryPrice.InexactFloat64() * inst.Multiplier(),
	}
	if inst.Leveraged() {
		pos.MarginPerUnit = inst.InitialMargin
	}
	if bp.CurrentPrice != nil {
		pos.MarketPrice = bp.CurrentPrice.InexactFloat64()
	}
	if bp.UnrealizedPL != nil {
		pos.UnrealizedPnL = bp.UnrealizedPL.InexactFloat64()
	} else {
		pos.UnrealizedPnL = pos.ComputeUnrealized()
	}
	return pos, nil
}

func (b *AlpacaBroker) translateFill(tu *alpaca.TradeUpdate) (domain.Execution, bool) {
	b.metaMu.Lock()
	meta, ok := b.meta[tu.Order.ClientOrderID]
	b.metaMu.Unlock()
	if !ok {
		// Fill for an order this session did not place (e.g. manual trade);
		// the position refresh will still reconcile it.
		return domain.Execution{}, false
	}

	var qty int64
	if tu.Qty != nil {
		qty = meta.action.SignQuantity(tu.Qty.IntPart())
	}
	var price float64
	if tu.Price != nil {
		price = tu.Price.InexactFloat64()
	}
	ts := tu.At
	if ts.IsZero() {
		ts = time.Now()
	}
	return domain.Execution{
		Timestamp: ts,
		TradeID:   meta.tradeID,
		LegID:     meta.legID,
		Ticker:    meta.ticker,
		Quantity:  qty,
		Price:     price,
		Value:     price * float64(abs(qty)),
		Action:    meta.action,
	}, true
}

func translateOrder(o *alpaca.Order) domain.ActiveOrder {
	var qty int64
	if o.Qty != nil {
		qty = o.Qty.IntPart()
	}
	if o.Side == alpaca.Sell {
		qty = -qty
	}
	filled := o.FilledQty.IntPart()
	ao := domain.ActiveOrder{
		OrderID:      o.ID,
		ClientID:     o.ClientOrderID,
		Ticker:       o.Symbol,
		Status:       translateStatus(o.Status),
		Quantity:     qty,
		FilledQty:    filled,
		RemainingQty: abs(qty) - filled,
	}
	if o.FilledAvgPrice != nil {
		ao.AvgFillPrice = o.FilledAvgPrice.InexactFloat64()
	}
	return ao
}

func translateStatus(s string) domain.OrderStatus {
	switch s {
	case "pending_new":
		return domain.OrderPendingSubmit
	case "accepted", "pending_cancel", "pending_replace":
		return domain.OrderPreSubmitted
	case "new", "partially_filled", "calculated":
		return domain.OrderSubmitted
	case "filled":
		return domain.OrderFilled
	case "canceled", "expired", "replaced":
		return domain.OrderCancelled
	default: // rejected, stopped, suspended, done_for_day
		return domain.OrderInactive
	}
}

func brokerSide(a domain.Action) alpaca.Side {
	if a.IsBuy() {
		return alpaca.Buy
	}
	return alpaca.Sell
}

func brokerOrderType(k domain.OrderKind) alpaca.OrderType {
	switch k {
	case domain.OrderLimit:
		return alpaca.Limit
	case domain.OrderStop:
		return alpaca.Stop
	default:
		return alpaca.Market
	}
}

func isNotFound(err error) bool {
	var apiErr *alpaca.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

func decimalPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func floatPtr(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

// await runs fn on its own goroutine and honours ctx while waiting, turning
// the SDK's blocking calls into bounded synchronization points.
func await[T any](ctx context.Context, name string, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("%s: %w", name, ctx.Err())
	case r := <-ch:
		return r.v, r.err
	}
}
