// Package engine keeps the order books of every asset and runs the matching
// between them. It owns no money: every lock, unlock and transfer goes through
// the injected credit ledger.
//
// An Engine is not safe for concurrent use. The auction service serialises
// access to it.
package engine

import (
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	. "github.com/research-ag/icrc1-auction/internal/common"
	"github.com/research-ag/icrc1-auction/internal/credit"
)

// Remainder selects what happens to the unfilled part of an immediate order.
type Remainder int

const (
	// RemainderRest leaves it in the immediate book.
	RemainderRest Remainder = iota
	// RemainderDiscard cancels it and releases its funds.
	RemainderDiscard
)

func ParseRemainder(s string) (Remainder, error) {
	switch s {
	case "", "rest":
		return RemainderRest, nil
	case "discard":
		return RemainderDiscard, nil
	}
	return 0, errors.New("unknown immediate remainder policy " + s)
}

type Config struct {
	// QuoteVolumeMinimum is the least quote value a bid may carry.
	QuoteVolumeMinimum uint64
	// ImmediateRemainder applies to immediate orders after crossing.
	ImmediateRemainder Remainder
}

type Engine struct {
	cfg     Config
	credits *credit.Ledger
	log     zerolog.Logger
	now     func() time.Time

	assets   []*Asset // indexed by AssetID, assets[0] is the quote asset
	byLedger map[string]AssetID
	books    map[AssetID][]*OrderBook // indexed by BookKind

	orders  map[OrderID]*Order
	byOwner map[UserID]map[OrderID]*Order
	nextID  OrderID
	session uint64
}

func New(credits *credit.Ledger, quoteLedger string, cfg Config, log zerolog.Logger) *Engine {
	e := &Engine{
		cfg:      cfg,
		credits:  credits,
		log:      log,
		now:      time.Now,
		byLedger: make(map[string]AssetID),
		books:    make(map[AssetID][]*OrderBook),
		orders:   make(map[OrderID]*Order),
		byOwner:  make(map[UserID]map[OrderID]*Order),
	}
	e.assets = append(e.assets, &Asset{ID: QuoteAsset, Ledger: quoteLedger})
	e.byLedger[quoteLedger] = QuoteAsset
	return e
}

func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) SetQuoteVolumeMinimum(v uint64) {
	e.cfg.QuoteVolumeMinimum = v
}

// SetSession records the session number stamped on immediate fills.
func (e *Engine) SetSession(session uint64) {
	e.session = session
}

// RegisterAsset adds a tradable asset with empty books.
func (e *Engine) RegisterAsset(ledger string, minOrderVolume uint64) (AssetID, error) {
	if _, ok := e.byLedger[ledger]; ok {
		return 0, ErrAssetExists
	}
	id := AssetID(len(e.assets))
	e.assets = append(e.assets, &Asset{
		ID:             id,
		Ledger:         ledger,
		MinOrderVolume: minOrderVolume,
		LastSession:    e.session,
	})
	e.byLedger[ledger] = id
	books := make([]*OrderBook, len(BookKinds))
	for _, kind := range BookKinds {
		books[kind] = NewOrderBook(kind)
	}
	e.books[id] = books
	e.log.Info().Str("ledger", ledger).Uint32("asset", uint32(id)).Msg("asset registered")
	return id, nil
}

// SetMinOrderVolume changes the minimum for future asks of asset.
func (e *Engine) SetMinOrderVolume(id AssetID, volume uint64) error {
	if _, err := e.tradable(id); err != nil {
		return err
	}
	e.assets[id].MinOrderVolume = volume
	return nil
}

// Asset returns a copy of the registered asset, including the quote asset.
func (e *Engine) Asset(id AssetID) (Asset, bool) {
	if int(id) >= len(e.assets) {
		return Asset{}, false
	}
	return *e.assets[id], true
}

func (e *Engine) AssetByLedger(ledger string) (Asset, bool) {
	id, ok := e.byLedger[ledger]
	if !ok {
		return Asset{}, false
	}
	return *e.assets[id], true
}

// Assets lists every registered asset ordered by id, the quote asset first.
func (e *Engine) Assets() []Asset {
	out := make([]Asset, len(e.assets))
	for i, a := range e.assets {
		out[i] = *a
	}
	return out
}

// TradableAssets lists the ids of every asset except the quote asset.
func (e *Engine) TradableAssets() []AssetID {
	ids := make([]AssetID, 0, len(e.assets)-1)
	for _, a := range e.assets[1:] {
		ids = append(ids, a.ID)
	}
	return ids
}

// MarkSession stamps the session every asset was last processed in.
func (e *Engine) MarkSession(session uint64) {
	for _, a := range e.assets {
		a.LastSession = session
	}
}

func (e *Engine) tradable(id AssetID) (*Asset, error) {
	if id == QuoteAsset || int(id) >= len(e.assets) {
		return nil, ErrUnknownAsset
	}
	return e.assets[id], nil
}

// Book returns the book of one kind for asset.
func (e *Engine) Book(id AssetID, kind BookKind) (*OrderBook, bool) {
	books, ok := e.books[id]
	if !ok {
		return nil, false
	}
	return books[kind], true
}

// PlaceResult is the outcome of a single placement.
type PlaceResult struct {
	ID OrderID
	// Executed is set when an immediate order traded on arrival.
	Executed bool
	Price    float64
	Volume   uint64
	// Discarded is the unfilled volume dropped under RemainderDiscard.
	Discarded uint64
	// Report holds the immediate clearing, nil for delayed orders.
	Report *ClearingReport
}

// Place validates, funds and rests a new order. Immediate orders are then
// crossed against the immediate book.
func (e *Engine) Place(owner UserID, id AssetID, side Side, kind BookKind, price float64, volume uint64) (PlaceResult, error) {
	oid, err := e.Rest(owner, id, side, kind, price, volume)
	if err != nil {
		return PlaceResult{}, err
	}
	if kind != Immediate {
		return PlaceResult{ID: oid}, nil
	}
	results, report := e.Cross(id, oid)
	result := results[oid]
	result.Report = report
	return result, nil
}

// Rest validates, funds and rests a new order without crossing it.
//
// Checks run in a fixed order: the asset must be tradable, the order must meet
// the minimum, the owner must hold enough available credit and the order must
// not conflict with the owner's other orders on the asset.
func (e *Engine) Rest(owner UserID, id AssetID, side Side, kind BookKind, price float64, volume uint64) (OrderID, error) {
	asset, err := e.tradable(id)
	if err != nil {
		return 0, err
	}
	if err := e.checkMinimum(asset, side, price, volume); err != nil {
		return 0, err
	}
	need := LockAmount(side, volume, price)
	lockAsset := QuoteAsset
	if side == Ask {
		lockAsset = id
	}
	if e.credits.Account(owner, lockAsset).Available < need {
		return 0, ErrNoCredit
	}
	if conflict, ok := e.conflict(owner, id, side, price, nil); ok {
		return 0, &ConflictingOrderError{OrderID: conflict}
	}
	if err := e.credits.Lock(owner, lockAsset, need); err != nil {
		return 0, ErrNoCredit
	}

	order := &Order{
		ID:          e.nextID,
		Owner:       owner,
		Asset:       id,
		Side:        side,
		BookKind:    kind,
		Price:       price,
		Volume:      volume,
		TotalVolume: volume,
		Locked:      need,
		Timestamp:   e.now(),
	}
	e.nextID++
	e.insert(order)
	return order.ID, nil
}

// Cross matches the immediate book of asset after new orders arrived in it
// and applies the remainder policy to those orders. The immediate book holds
// no crossing pair between calls, so only the new orders trade against
// resting liquidity.
func (e *Engine) Cross(asset AssetID, ids ...OrderID) (map[OrderID]PlaceResult, *ClearingReport) {
	results := make(map[OrderID]PlaceResult, len(ids))
	for _, id := range ids {
		results[id] = PlaceResult{ID: id}
	}
	books, ok := e.books[asset]
	if !ok {
		return results, nil
	}
	report := e.clear(asset, Immediate, e.session, []*OrderBook{books[Immediate]}, nil)
	for _, f := range report.Fills {
		if r, ok := results[f.OrderID]; ok {
			r.Executed = true
			r.Price = report.Price
			r.Volume = f.Volume
			results[f.OrderID] = r
		}
	}
	if e.cfg.ImmediateRemainder == RemainderDiscard {
		for _, id := range ids {
			if o, ok := e.orders[id]; ok && o.BookKind == Immediate {
				r := results[id]
				r.Discarded = o.Volume
				results[id] = r
				e.remove(o)
			}
		}
	}
	return results, &report
}

func (e *Engine) checkMinimum(asset *Asset, side Side, price float64, volume uint64) error {
	if volume == 0 || !ValidPrice(price) {
		return ErrTooLowOrder
	}
	if side == Ask {
		if volume < asset.MinOrderVolume {
			return ErrTooLowOrder
		}
		return nil
	}
	if price == 0 || QuoteVolume(volume, price).LessThan(decimal.NewFromUint64(e.cfg.QuoteVolumeMinimum)) {
		return ErrTooLowOrder
	}
	return nil
}

// conflict finds the lowest-id order of owner on asset that sits at the same
// price on the same side or that the new order would cross.
func (e *Engine) conflict(owner UserID, asset AssetID, side Side, price float64, exclude *Order) (OrderID, bool) {
	var (
		found bool
		id    OrderID
	)
	for _, o := range e.byOwner[owner] {
		if o == exclude || o.Asset != asset {
			continue
		}
		clash := false
		switch {
		case o.Side == side:
			clash = o.Price == price
		case side == Bid:
			clash = price >= o.Price
		default:
			clash = price <= o.Price
		}
		if clash && (!found || o.ID < id) {
			found, id = true, o.ID
		}
	}
	return id, found
}

// Replace changes the price and volume of an order. Extra funds are locked
// before anything moves and surplus funds are released afterwards. Reducing
// the volume at an unchanged price keeps the id and queue position; any other
// change re-enters the order under a new id, and a re-entered immediate
// order is crossed like a new one.
func (e *Engine) Replace(owner UserID, id OrderID, price float64, volume uint64) (PlaceResult, error) {
	order, ok := e.orders[id]
	if !ok || order.Owner != owner {
		return PlaceResult{}, ErrUnknownOrder
	}
	asset := e.assets[order.Asset]
	if err := e.checkMinimum(asset, order.Side, price, volume); err != nil {
		return PlaceResult{}, err
	}
	need := LockAmount(order.Side, volume, price)
	lockAsset := order.LockedAsset()
	if need > order.Locked && e.credits.Account(owner, lockAsset).Available < need-order.Locked {
		return PlaceResult{}, ErrNoCredit
	}
	if conflict, ok := e.conflict(owner, order.Asset, order.Side, price, order); ok {
		return PlaceResult{}, &ConflictingOrderError{OrderID: conflict}
	}

	switch {
	case need > order.Locked:
		if err := e.credits.Lock(owner, lockAsset, need-order.Locked); err != nil {
			return PlaceResult{}, ErrNoCredit
		}
	case need < order.Locked:
		e.credits.Unlock(owner, lockAsset, order.Locked-need)
	default:
		e.credits.Touch(owner)
	}
	order.Locked = need

	book := e.books[order.Asset][order.BookKind]
	if price == order.Price && volume <= order.Volume {
		book.Resize(order, volume)
		order.TotalVolume = volume
		return PlaceResult{ID: order.ID}, nil
	}

	book.Remove(order)
	e.forget(order)
	order.ID = e.nextID
	e.nextID++
	order.Price = price
	order.Volume = volume
	order.TotalVolume = volume
	order.Timestamp = e.now()
	e.insert(order)

	if order.BookKind != Immediate {
		return PlaceResult{ID: order.ID}, nil
	}
	results, report := e.Cross(order.Asset, order.ID)
	result := results[order.ID]
	result.Report = report
	return result, nil
}

// Cancel removes an order of owner and releases its funds. The returned copy
// still carries the amount that was locked, so Restore can lock it again.
func (e *Engine) Cancel(owner UserID, id OrderID) (Order, error) {
	order, ok := e.orders[id]
	if !ok || order.Owner != owner {
		return Order{}, ErrUnknownOrder
	}
	o := *order
	e.remove(order)
	return o, nil
}

// CancelAll cancels every order of owner on side, restricted to assets when
// any are given. Cancelled orders are returned by ascending id.
func (e *Engine) CancelAll(owner UserID, side Side, assets ...AssetID) []Order {
	orders := e.Orders(owner, side, assets...)
	for _, o := range orders {
		e.remove(e.orders[o.ID])
	}
	return orders
}

// Restore puts a previously cancelled order back under its old id, locking
// its funds again. Used to undo a failed batch.
func (e *Engine) Restore(order Order) error {
	if _, ok := e.orders[order.ID]; ok {
		return errors.New("engine: order id in use")
	}
	if err := e.credits.Lock(order.Owner, order.LockedAsset(), order.Locked); err != nil {
		return err
	}
	o := order
	e.insert(&o)
	return nil
}

// Order returns a copy of a resting order.
func (e *Engine) Order(id OrderID) (Order, bool) {
	o, ok := e.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Orders returns copies of the orders of owner on side by ascending id,
// restricted to assets when any are given.
func (e *Engine) Orders(owner UserID, side Side, assets ...AssetID) []Order {
	filter := make(map[AssetID]bool, len(assets))
	for _, a := range assets {
		filter[a] = true
	}
	var out []Order
	for _, o := range e.byOwner[owner] {
		if o.Side != side || (len(filter) > 0 && !filter[o.Asset]) {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) insert(order *Order) {
	e.books[order.Asset][order.BookKind].Insert(order)
	e.orders[order.ID] = order
	owned, ok := e.byOwner[order.Owner]
	if !ok {
		owned = make(map[OrderID]*Order)
		e.byOwner[order.Owner] = owned
	}
	owned[order.ID] = order
}

func (e *Engine) forget(order *Order) {
	delete(e.orders, order.ID)
	owned := e.byOwner[order.Owner]
	delete(owned, order.ID)
	if len(owned) == 0 {
		delete(e.byOwner, order.Owner)
	}
}

// remove drops a resting order and releases whatever it still holds.
func (e *Engine) remove(order *Order) {
	e.books[order.Asset][order.BookKind].Remove(order)
	e.forget(order)
	e.credits.Unlock(order.Owner, order.LockedAsset(), order.Locked)
	order.Locked = 0
}
