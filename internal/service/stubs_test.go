package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/order-lifecycle/internal/config"
	"github.com/mmeshcher/order-lifecycle/internal/model"
	"github.com/mmeshcher/order-lifecycle/internal/payment"
)

var errStubNotFound = errors.New("not found")

// callLog фиксирует порядок вызовов между разными заглушками.
type callLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf(format, args...))
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

type memStore struct {
	mu  sync.Mutex
	log *callLog

	nextID int64

	addresses  map[int64]model.Address
	orders     map[int64]model.Order
	items      map[int64][]model.OrderItem
	notes      []model.OrderNote
	recurring  map[int64]model.RecurringPayment
	shipments  map[int64]model.Shipment
	discounts  []model.DiscountUsage
	insertErr  error
	orderSaves int
}

func newMemStore(log *callLog) *memStore {
	return &memStore{
		log:       log,
		addresses: make(map[int64]model.Address),
		orders:    make(map[int64]model.Order),
		items:     make(map[int64][]model.OrderItem),
		recurring: make(map[int64]model.RecurringPayment),
		shipments: make(map[int64]model.Shipment),
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) InsertAddress(_ context.Context, addr *model.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr.ID = s.id()
	s.addresses[addr.ID] = *addr
	return nil
}

func (s *memStore) GetAddressByID(_ context.Context, id int64) (*model.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.addresses[id]
	if !ok {
		return nil, errStubNotFound
	}
	return &addr, nil
}

func (s *memStore) InsertOrder(_ context.Context, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	order.ID = s.id()
	s.orders[order.ID] = *order
	return nil
}

func (s *memStore) UpdateOrder(_ context.Context, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; !ok {
		return errStubNotFound
	}
	s.orderSaves++
	s.orders[order.ID] = *order
	return nil
}

func (s *memStore) GetOrderByID(_ context.Context, id int64) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, errStubNotFound
	}
	return &order, nil
}

func (s *memStore) DeleteOrder(_ context.Context, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order.Deleted = true
	s.orders[order.ID] = *order
	return nil
}

func (s *memStore) InsertOrderItem(_ context.Context, item *model.OrderItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = s.id()
	s.items[item.OrderID] = append(s.items[item.OrderID], *item)
	return nil
}

func (s *memStore) GetOrderItems(_ context.Context, orderID int64) ([]model.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.OrderItem(nil), s.items[orderID]...), nil
}

func (s *memStore) orderIDOfItem(itemID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for orderID, items := range s.items {
		for _, item := range items {
			if item.ID == itemID {
				return orderID
			}
		}
	}
	return 0
}

func (s *memStore) InsertOrderNote(_ context.Context, note *model.OrderNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	note.ID = s.id()
	s.notes = append(s.notes, *note)
	return nil
}

func (s *memStore) GetOrderNotes(_ context.Context, orderID int64) ([]model.OrderNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.OrderNote
	for _, n := range s.notes {
		if n.OrderID == orderID {
			res = append(res, n)
		}
	}
	return res, nil
}

func (s *memStore) noteTexts(orderID int64) []string {
	notes, _ := s.GetOrderNotes(context.Background(), orderID)
	res := make([]string, 0, len(notes))
	for _, n := range notes {
		res = append(res, n.Note)
	}
	return res
}

func (s *memStore) InsertRecurringPayment(_ context.Context, rp *model.RecurringPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rp.ID = s.id()
	s.recurring[rp.ID] = *rp
	return nil
}

func (s *memStore) UpdateRecurringPayment(_ context.Context, rp *model.RecurringPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.recurring[rp.ID]
	if !ok {
		return errStubNotFound
	}
	stored.IsActive = rp.IsActive
	stored.LastPaymentFailed = rp.LastPaymentFailed
	s.recurring[rp.ID] = stored
	if !rp.IsActive {
		s.log.add("recurring payment %d deactivated", rp.ID)
	}
	return nil
}

func (s *memStore) GetRecurringPaymentByID(_ context.Context, id int64) (*model.RecurringPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rp, ok := s.recurring[id]
	if !ok {
		return nil, errStubNotFound
	}
	rp.History = append([]model.RecurringPaymentHistory(nil), rp.History...)
	return &rp, nil
}

func (s *memStore) SearchRecurringPayments(_ context.Context, initialOrderID int64) ([]model.RecurringPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.RecurringPayment
	for _, rp := range s.recurring {
		if rp.InitialOrderID == initialOrderID {
			res = append(res, rp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *memStore) InsertRecurringPaymentHistory(_ context.Context, h *model.RecurringPaymentHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rp, ok := s.recurring[h.RecurringPaymentID]
	if !ok {
		return errStubNotFound
	}
	h.ID = s.id()
	rp.History = append(rp.History, *h)
	s.recurring[rp.ID] = rp
	return nil
}

func (s *memStore) addShipment(shipment model.Shipment) *model.Shipment {
	s.mu.Lock()
	defer s.mu.Unlock()
	shipment.ID = s.id()
	for i := range shipment.Items {
		shipment.Items[i].ShipmentID = shipment.ID
	}
	s.shipments[shipment.ID] = shipment
	return &shipment
}

func (s *memStore) InsertShipment(_ context.Context, shipment *model.Shipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	shipment.ID = s.id()
	for i := range shipment.Items {
		shipment.Items[i].ID = s.id()
		shipment.Items[i].ShipmentID = shipment.ID
	}
	s.shipments[shipment.ID] = *shipment
	return nil
}

func (s *memStore) GetShipmentByID(_ context.Context, id int64) (*model.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shipment, ok := s.shipments[id]
	if !ok {
		return nil, errStubNotFound
	}
	return &shipment, nil
}

func (s *memStore) GetShipmentsByOrderID(_ context.Context, orderID int64) ([]model.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.Shipment
	for _, shipment := range s.shipments {
		if shipment.OrderID == orderID {
			res = append(res, shipment)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *memStore) UpdateShipment(_ context.Context, shipment *model.Shipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shipments[shipment.ID] = *shipment
	return nil
}

func (s *memStore) InsertDiscountUsage(_ context.Context, usage *model.DiscountUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	usage.ID = s.id()
	s.discounts = append(s.discounts, *usage)
	return nil
}

type memCart struct {
	carts map[[2]int64]model.Cart

	warnings     []string
	itemWarnings []string
	addWarnings  map[int64][]string
	discount     decimal.Decimal
	discounts    []model.Discount
	shipping     *decimal.Decimal
	tax          decimal.Decimal
	giftCards    []model.AppliedGiftCard
	redeemed     int
	redeemedAmt  decimal.Decimal
	totalMissing bool
	feeTaxRate   decimal.Decimal
	added        []model.CartItem
	clearCalls   int
	clearPanic   any
}

func newMemCart() *memCart {
	return &memCart{carts: make(map[[2]int64]model.Cart)}
}

func (c *memCart) put(cart model.Cart) {
	c.carts[[2]int64{cart.CustomerID, cart.StoreID}] = cart
}

func (c *memCart) GetCart(_ context.Context, customerID, storeID int64) (model.Cart, error) {
	cart, ok := c.carts[[2]int64{customerID, storeID}]
	if !ok {
		return model.Cart{CustomerID: customerID, StoreID: storeID}, nil
	}
	return cart, nil
}

func (c *memCart) GetCartWarnings(context.Context, model.Cart, string) ([]string, error) {
	return c.warnings, nil
}

func (c *memCart) GetItemWarnings(context.Context, int64, model.CartItem) ([]string, error) {
	return c.itemWarnings, nil
}

func (c *memCart) subtotal(cart model.Cart, inclTax bool) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range cart.Items {
		if inclTax {
			sum = sum.Add(item.SubtotalInclTax)
		} else {
			sum = sum.Add(item.SubtotalExclTax)
		}
	}
	return sum
}

func (c *memCart) GetSubtotal(_ context.Context, cart model.Cart, inclTax bool) (model.CartSubtotal, error) {
	sub := c.subtotal(cart, inclTax)
	return model.CartSubtotal{
		DiscountAmount:          c.discount,
		AppliedDiscounts:        c.discounts,
		SubtotalWithoutDiscount: sub,
		SubtotalWithDiscount:    sub.Sub(c.discount),
	}, nil
}

func (c *memCart) GetShippingTotal(context.Context, model.Cart, bool) (model.CartShipping, error) {
	return model.CartShipping{Amount: c.shipping}, nil
}

func (c *memCart) GetTaxTotal(context.Context, model.Cart) (decimal.Decimal, error) {
	return c.tax, nil
}

func (c *memCart) GetPaymentMethodFee(_ context.Context, _ model.Cart, fee decimal.Decimal, includingTax bool) (decimal.Decimal, error) {
	if !includingTax {
		return fee, nil
	}
	return fee.Add(fee.Mul(c.feeTaxRate)), nil
}

func (c *memCart) GetTotal(_ context.Context, cart model.Cart) (model.CartTotal, error) {
	if c.totalMissing {
		return model.CartTotal{}, nil
	}
	total := c.subtotal(cart, true).Sub(c.discount).Add(c.tax)
	if cart.RequiresShipping() && c.shipping != nil {
		total = total.Add(*c.shipping)
	}
	for _, gc := range c.giftCards {
		total = total.Sub(gc.AmountCanBeUsed)
	}
	total = total.Sub(c.redeemedAmt)
	return model.CartTotal{
		Total:                      &total,
		AppliedDiscounts:           c.discounts,
		AppliedGiftCards:           c.giftCards,
		RedeemedRewardPoints:       c.redeemed,
		RedeemedRewardPointsAmount: c.redeemedAmt,
	}, nil
}

func (c *memCart) AddToCart(_ context.Context, customerID, storeID int64, item model.CartItem) ([]string, error) {
	c.added = append(c.added, item)
	key := [2]int64{customerID, storeID}
	cart := c.carts[key]
	cart.CustomerID, cart.StoreID = customerID, storeID
	cart.Items = append(cart.Items, item)
	c.carts[key] = cart
	return c.addWarnings[item.Product.ID], nil
}

func (c *memCart) ClearCart(_ context.Context, customerID, storeID int64) error {
	c.clearCalls++
	if c.clearPanic != nil {
		panic(c.clearPanic)
	}
	delete(c.carts, [2]int64{customerID, storeID})
	return nil
}

type memCustomers struct {
	customers  map[int64]*model.Customer
	affiliates map[int64]*model.Affiliate
	roles      map[int64][]int64
	resets     int
	addedRoles []int64
}

func newMemCustomers() *memCustomers {
	return &memCustomers{
		customers:  make(map[int64]*model.Customer),
		affiliates: make(map[int64]*model.Affiliate),
		roles:      make(map[int64][]int64),
	}
}

func (c *memCustomers) GetCustomer(_ context.Context, id int64) (*model.Customer, error) {
	customer, ok := c.customers[id]
	if !ok {
		return nil, nil
	}
	cp := *customer
	return &cp, nil
}

func (c *memCustomers) GetAffiliate(_ context.Context, id int64) (*model.Affiliate, error) {
	return c.affiliates[id], nil
}

func (c *memCustomers) ResetCheckoutData(context.Context, int64, int64) error {
	c.resets++
	return nil
}

func (c *memCustomers) GetRolesPurchasedWithProduct(_ context.Context, productID int64) ([]int64, error) {
	return c.roles[productID], nil
}

func (c *memCustomers) AddCustomerRole(_ context.Context, customerID, roleID int64) error {
	c.addedRoles = append(c.addedRoles, roleID)
	if customer, ok := c.customers[customerID]; ok {
		customer.RoleIDs = append(customer.RoleIDs, roleID)
	}
	return nil
}

type memDirectory struct {
	countries  map[string]*model.Country
	currencies map[string]*model.Currency
}

func (d *memDirectory) GetCountry(_ context.Context, code string) (*model.Country, error) {
	return d.countries[code], nil
}

func (d *memDirectory) GetCurrency(_ context.Context, code string) (*model.Currency, error) {
	return d.currencies[code], nil
}

type memProducts struct {
	products map[int64]*model.Product
}

func (p *memProducts) GetProduct(_ context.Context, id int64) (*model.Product, error) {
	return p.products[id], nil
}

type inventoryMove struct {
	productID   int64
	warehouseID int64
	delta       int
	message     string
}

type memInventory struct {
	log      *callLog
	adjusted []inventoryMove
	booked   []inventoryMove
	reversed []model.ShipmentItem
}

func (i *memInventory) AdjustInventory(_ context.Context, productID int64, delta int, _ string, message string) error {
	i.adjusted = append(i.adjusted, inventoryMove{productID: productID, delta: delta, message: message})
	i.log.add("adjust product %d by %d", productID, delta)
	return nil
}

func (i *memInventory) ReverseBookedInventory(_ context.Context, item model.ShipmentItem, _ string) error {
	i.reversed = append(i.reversed, item)
	i.log.add("reverse shipment item %d", item.ID)
	return nil
}

func (i *memInventory) BookReservedInventory(_ context.Context, productID, warehouseID int64, delta int, message string) error {
	i.booked = append(i.booked, inventoryMove{productID: productID, warehouseID: warehouseID, delta: delta, message: message})
	return nil
}

type memRewards struct {
	log     *callLog
	clock   func() time.Time
	nextID  int64
	entries []model.RewardPointsEntry
}

func (r *memRewards) AddHistoryEntry(_ context.Context, entry *model.RewardPointsEntry) error {
	r.nextID++
	entry.ID = r.nextID
	r.entries = append(r.entries, *entry)
	r.log.add("reward points %+d", entry.Points)
	return nil
}

func (r *memRewards) GetHistory(_ context.Context, customerID, storeID int64, orderGUID uuid.UUID) ([]model.RewardPointsEntry, error) {
	var res []model.RewardPointsEntry
	for _, e := range r.entries {
		if e.CustomerID == customerID && e.StoreID == storeID && e.OrderGUID != nil && *e.OrderGUID == orderGUID {
			res = append(res, e)
		}
	}
	return res, nil
}

func (r *memRewards) GetHistoryEntryByID(_ context.Context, id int64) (*model.RewardPointsEntry, error) {
	for _, e := range r.entries {
		if e.ID == id {
			entry := e
			return &entry, nil
		}
	}
	return nil, errStubNotFound
}

func (r *memRewards) DeleteHistoryEntry(_ context.Context, id int64) error {
	for i, e := range r.entries {
		if e.ID == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			r.log.add("reward points entry %d deleted", id)
			return nil
		}
	}
	return errStubNotFound
}

func (r *memRewards) GetRewardPointsBalance(_ context.Context, customerID, storeID int64) (int, error) {
	now := r.clock()
	var balance int
	for _, e := range r.entries {
		if e.CustomerID != customerID || e.StoreID != storeID {
			continue
		}
		if e.CreatedOn.After(now) || (e.EndDate != nil && !e.EndDate.After(now)) {
			continue
		}
		balance += e.Points
	}
	return balance, nil
}

type memGiftCards struct {
	store  *memStore
	nextID int64
	cards  []model.GiftCard
	usage  []model.GiftCardUsage
}

func (g *memGiftCards) InsertGiftCard(_ context.Context, gc *model.GiftCard) error {
	g.nextID++
	gc.ID = g.nextID
	g.cards = append(g.cards, *gc)
	return nil
}

func (g *memGiftCards) UpdateGiftCard(_ context.Context, gc *model.GiftCard) error {
	for i := range g.cards {
		if g.cards[i].ID == gc.ID {
			g.cards[i] = *gc
			return nil
		}
	}
	return errStubNotFound
}

func (g *memGiftCards) InsertUsageHistory(_ context.Context, usage *model.GiftCardUsage) error {
	g.usage = append(g.usage, *usage)
	return nil
}

func (g *memGiftCards) DeleteUsageHistory(_ context.Context, orderID int64) error {
	kept := g.usage[:0]
	for _, u := range g.usage {
		if u.UsedWithOrderID != orderID {
			kept = append(kept, u)
		}
	}
	g.usage = kept
	return nil
}

func (g *memGiftCards) GetAllGiftCards(_ context.Context, purchasedWithOrderID int64, activated *bool) ([]model.GiftCard, error) {
	var res []model.GiftCard
	for _, gc := range g.cards {
		if gc.PurchasedWithOrderItemID == nil || g.store.orderIDOfItem(*gc.PurchasedWithOrderItemID) != purchasedWithOrderID {
			continue
		}
		if activated != nil && gc.IsGiftCardActivated != *activated {
			continue
		}
		res = append(res, gc)
	}
	return res, nil
}

type recNotifier struct {
	mu   sync.Mutex
	log  *callLog
	sent []string
	fail map[string]error
	seq  int
}

func (n *recNotifier) send(kind string) ([]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.fail[kind]; err != nil {
		return nil, err
	}
	n.seq++
	n.sent = append(n.sent, kind)
	if n.log != nil {
		n.log.add("notify %s", kind)
	}
	return []string{fmt.Sprintf("msg-%d", n.seq)}, nil
}

func (n *recNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	var c int
	for _, s := range n.sent {
		if s == kind {
			c++
		}
	}
	return c
}

func (n *recNotifier) SendOrderPlacedStoreOwner(context.Context, *model.Order) ([]string, error) {
	return n.send("placed_store_owner")
}

func (n *recNotifier) SendOrderPlacedCustomer(context.Context, *model.Order, bool) ([]string, error) {
	return n.send("placed_customer")
}

func (n *recNotifier) SendOrderPlacedVendor(context.Context, *model.Order, int64) ([]string, error) {
	return n.send("placed_vendor")
}

func (n *recNotifier) SendOrderPlacedAffiliate(context.Context, *model.Order, int64) ([]string, error) {
	return n.send("placed_affiliate")
}

func (n *recNotifier) SendOrderPaidStoreOwner(context.Context, *model.Order) ([]string, error) {
	return n.send("paid_store_owner")
}

func (n *recNotifier) SendOrderPaidCustomer(context.Context, *model.Order, bool) ([]string, error) {
	return n.send("paid_customer")
}

func (n *recNotifier) SendOrderPaidVendor(context.Context, *model.Order, int64) ([]string, error) {
	return n.send("paid_vendor")
}

func (n *recNotifier) SendOrderPaidAffiliate(context.Context, *model.Order, int64) ([]string, error) {
	return n.send("paid_affiliate")
}

func (n *recNotifier) SendOrderCompletedCustomer(context.Context, *model.Order, bool) ([]string, error) {
	return n.send("completed_customer")
}

func (n *recNotifier) SendOrderCancelledCustomer(context.Context, *model.Order) ([]string, error) {
	return n.send("cancelled_customer")
}

func (n *recNotifier) SendOrderRefundedStoreOwner(context.Context, *model.Order, decimal.Decimal) ([]string, error) {
	return n.send("refunded_store_owner")
}

func (n *recNotifier) SendOrderRefundedCustomer(context.Context, *model.Order, decimal.Decimal) ([]string, error) {
	return n.send("refunded_customer")
}

func (n *recNotifier) SendShipmentSentCustomer(context.Context, *model.Order, *model.Shipment) ([]string, error) {
	return n.send("shipment_sent")
}

func (n *recNotifier) SendShipmentDeliveredCustomer(context.Context, *model.Order, *model.Shipment) ([]string, error) {
	return n.send("shipment_delivered")
}

func (n *recNotifier) SendRecurringPaymentCancelledStoreOwner(context.Context, *model.RecurringPayment, *model.Order) ([]string, error) {
	return n.send("recurring_cancelled_store_owner")
}

func (n *recNotifier) SendRecurringPaymentCancelledCustomer(context.Context, *model.RecurringPayment, *model.Order) ([]string, error) {
	return n.send("recurring_cancelled_customer")
}

func (n *recNotifier) SendRecurringPaymentFailedCustomer(context.Context, *model.RecurringPayment, *model.Order) ([]string, error) {
	return n.send("recurring_failed_customer")
}

func (n *recNotifier) SendGiftCard(context.Context, *model.GiftCard) ([]string, error) {
	return n.send("gift_card")
}

type recEvents struct {
	events []model.OrderEvent
	err    error
}

func (e *recEvents) Publish(_ context.Context, event model.OrderEvent) error {
	e.events = append(e.events, event)
	return e.err
}

func (e *recEvents) types() []string {
	res := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		res = append(res, ev.Type)
	}
	return res
}

// stubGateway отвечает заранее заданными результатами и запоминает вызовы.
type stubGateway struct {
	name string
	caps payment.Capabilities

	processResult   payment.ProcessPaymentResult
	processErr      error
	recurringResult payment.ProcessPaymentResult
	captureResult   payment.CaptureResult
	refundResult    payment.RefundResult
	voidResult      payment.VoidResult
	cancelResult    payment.CancelRecurringResult

	processPanic   any
	recurringPanic any

	calls    []string
	requests []payment.ProcessPaymentRequest
}

func (g *stubGateway) SystemName() string                 { return g.name }
func (g *stubGateway) Capabilities() payment.Capabilities { return g.caps }

func (g *stubGateway) ProcessPayment(_ context.Context, req payment.ProcessPaymentRequest) (payment.ProcessPaymentResult, error) {
	g.calls = append(g.calls, "process")
	g.requests = append(g.requests, req)
	if g.processPanic != nil {
		panic(g.processPanic)
	}
	return g.processResult, g.processErr
}

func (g *stubGateway) ProcessRecurringPayment(_ context.Context, req payment.ProcessPaymentRequest) (payment.ProcessPaymentResult, error) {
	g.calls = append(g.calls, "process_recurring")
	g.requests = append(g.requests, req)
	if g.recurringPanic != nil {
		panic(g.recurringPanic)
	}
	return g.recurringResult, nil
}

func (g *stubGateway) Capture(context.Context, payment.CaptureRequest) (payment.CaptureResult, error) {
	g.calls = append(g.calls, "capture")
	return g.captureResult, nil
}

func (g *stubGateway) Refund(_ context.Context, req payment.RefundRequest) (payment.RefundResult, error) {
	g.calls = append(g.calls, "refund "+req.AmountToRefund.String())
	return g.refundResult, nil
}

func (g *stubGateway) Void(context.Context, payment.VoidRequest) (payment.VoidResult, error) {
	g.calls = append(g.calls, "void")
	return g.voidResult, nil
}

func (g *stubGateway) CancelRecurringPayment(context.Context, payment.CancelRecurringRequest) (payment.CancelRecurringResult, error) {
	g.calls = append(g.calls, "cancel_recurring")
	return g.cancelResult, nil
}

type stubGateways map[string]*stubGateway

func (g stubGateways) Gateway(name string) (payment.Gateway, error) {
	gw, ok := g[name]
	if !ok {
		return nil, payment.ErrUnsupportedGateway
	}
	return gw, nil
}

func (g stubGateways) Capabilities(name string) payment.Capabilities {
	gw, ok := g[name]
	if !ok {
		return payment.Capabilities{}
	}
	return gw.caps
}

type recMetrics struct {
	placed, failed int
	gatewayCalls   []string
	cycles         []string
}

func (m *recMetrics) OrderPlaced()          { m.placed++ }
func (m *recMetrics) OrderPlacementFailed() { m.failed++ }
func (m *recMetrics) GatewayCall(op string, success bool) {
	m.gatewayCalls = append(m.gatewayCalls, fmt.Sprintf("%s:%t", op, success))
}
func (m *recMetrics) RecurringCycle(outcome string) { m.cycles = append(m.cycles, outcome) }

type testEnv struct {
	log       *callLog
	store     *memStore
	cart      *memCart
	customers *memCustomers
	directory *memDirectory
	products  *memProducts
	inventory *memInventory
	rewards   *memRewards
	giftCards *memGiftCards
	notifier  *recNotifier
	events    *recEvents
	gateways  stubGateways
	metrics   *recMetrics
	now       time.Time
	svc       *Service
}

const (
	testStoreID    int64 = 1
	testCustomerID int64 = 42
	testGateway          = "Payments.Stub"
)

func newTestEnv(t *testing.T, settings config.Settings) *testEnv {
	t.Helper()

	log := &callLog{}
	env := &testEnv{
		log:       log,
		store:     newMemStore(log),
		cart:      newMemCart(),
		customers: newMemCustomers(),
		directory: &memDirectory{
			countries: map[string]*model.Country{
				"US": {Code: "US", Name: "United States", AllowsBilling: true, AllowsShipping: true},
				"XX": {Code: "XX", Name: "Nowhere"},
			},
			currencies: map[string]*model.Currency{
				"USD": {Code: "USD", Rate: decimal.NewFromInt(1)},
				"EUR": {Code: "EUR", Rate: decimal.RequireFromString("0.9")},
			},
		},
		products:  &memProducts{products: make(map[int64]*model.Product)},
		inventory: &memInventory{log: log},
		notifier:  &recNotifier{log: log, fail: make(map[string]error)},
		events:    &recEvents{},
		gateways: stubGateways{
			testGateway: {
				name: testGateway,
				caps: payment.Capabilities{SupportCapture: true, SupportRefund: true, SupportPartiallyRefund: true, SupportVoid: true},
				processResult: payment.ProcessPaymentResult{
					NewPaymentStatus:     model.PaymentStatusPaid,
					CaptureTransactionID: "ch_1",
				},
			},
		},
		metrics: &recMetrics{},
		now:     time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	}
	env.giftCards = &memGiftCards{store: env.store}
	env.rewards = &memRewards{log: log, clock: func() time.Time { return env.now }}

	env.customers.customers[testCustomerID] = &model.Customer{
		ID:    testCustomerID,
		Email: "buyer@example.com",
		Checkout: model.CheckoutData{
			BillingAddress:  &model.Address{FirstName: "Ann", Email: "buyer@example.com", CountryCode: "US", City: "Boston"},
			ShippingAddress: &model.Address{FirstName: "Ann", Email: "buyer@example.com", CountryCode: "US", City: "Boston"},
			ShippingOption:  &model.ShippingOption{Name: "Ground", ShippingRateComputationMethodSystemName: "Shipping.Fixed"},
		},
	}

	env.svc = NewService(Deps{
		Orders:       env.store,
		Cart:         env.cart,
		Customers:    env.customers,
		Directory:    env.directory,
		Products:     env.products,
		Inventory:    env.inventory,
		RewardPoints: env.rewards,
		GiftCards:    env.giftCards,
		Notifier:     env.notifier,
		Events:       env.events,
		Payments:     env.gateways,
		Metrics:      env.metrics,
		Logger:       zap.NewNop(),
		Clock:        func() time.Time { return env.now },
	}, settings)
	return env
}

func (e *testEnv) gateway() *stubGateway {
	return e.gateways[testGateway]
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func moneyPtr(s string) *decimal.Decimal {
	d := money(s)
	return &d
}

// cartItem создаёт позицию корзины без налога.
func cartItem(productID int64, qty int, unit string, shippable bool) model.CartItem {
	price := money(unit)
	sub := price.Mul(decimal.NewFromInt(int64(qty)))
	return model.CartItem{
		ID:               productID * 10,
		Product:          model.Product{ID: productID, Name: fmt.Sprintf("product-%d", productID), IsShipEnabled: shippable},
		Quantity:         qty,
		UnitPriceInclTax: price,
		UnitPriceExclTax: price,
		SubtotalInclTax:  sub,
		SubtotalExclTax:  sub,
	}
}

func (e *testEnv) fillCart(items ...model.CartItem) {
	e.cart.put(model.Cart{CustomerID: testCustomerID, StoreID: testStoreID, Items: items})
}

func (e *testEnv) placeRequest() *payment.ProcessPaymentRequest {
	return &payment.ProcessPaymentRequest{
		StoreID:                 testStoreID,
		CustomerID:              testCustomerID,
		OrderGUID:               uuid.New(),
		OrderGUIDGeneratedOn:    e.now,
		PaymentMethodSystemName: testGateway,
	}
}

// seedOrder сохраняет заказ напрямую, минуя оформление.
func (e *testEnv) seedOrder(order model.Order, items ...model.OrderItem) *model.Order {
	ctx := context.Background()
	if order.OrderGUID == uuid.Nil {
		order.OrderGUID = uuid.New()
	}
	if order.CustomerID == 0 {
		order.CustomerID = testCustomerID
	}
	if order.StoreID == 0 {
		order.StoreID = testStoreID
	}
	if order.PaymentMethodSystemName == "" {
		order.PaymentMethodSystemName = testGateway
	}
	if order.CreatedOn.IsZero() {
		order.CreatedOn = e.now
	}
	billing := model.Address{FirstName: "Ann", Email: "buyer@example.com", CountryCode: "US"}
	_ = e.store.InsertAddress(ctx, &billing)
	order.BillingAddressID = billing.ID
	_ = e.store.InsertOrder(ctx, &order)
	order.CustomOrderNumber = fmt.Sprint(order.ID)
	_ = e.store.UpdateOrder(ctx, &order)
	for _, item := range items {
		item.OrderID = order.ID
		_ = e.store.InsertOrderItem(ctx, &item)
	}
	stored, _ := e.store.GetOrderByID(ctx, order.ID)
	return stored
}
