// Package memory is a process-local store. Transactions are serialized by a
// single lock and applied by swapping in a copy of the state, so a failed
// unit of work leaves nothing behind.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-store-orders/internal/addresses"
	"github.com/ariefcatur/go-store-orders/internal/apperr"
	"github.com/ariefcatur/go-store-orders/internal/cart"
	"github.com/ariefcatur/go-store-orders/internal/inventory"
	"github.com/ariefcatur/go-store-orders/internal/orders"
	"github.com/ariefcatur/go-store-orders/internal/outbox"
	"github.com/ariefcatur/go-store-orders/internal/payments"
	"github.com/ariefcatur/go-store-orders/internal/store"
)

var ErrDuplicateID = apperr.Conflict("store.duplicate_id", "record already exists")

type record struct {
	msg       outbox.Message
	published bool
}

// state values are replaced, never mutated in place, so copying the maps
// is enough to isolate a transaction.
type state struct {
	orders    map[string]orders.Snapshot
	payments  map[string]payments.Snapshot
	methods   map[string]payments.MethodSnapshot
	products  map[string]inventory.Product
	variants  map[string]inventory.Variant
	carts     map[string]cart.Cart
	addresses map[string]addresses.Address
	outbox    []record
}

func (s *state) clone() *state {
	return &state{
		orders:    maps.Clone(s.orders),
		payments:  maps.Clone(s.payments),
		methods:   maps.Clone(s.methods),
		products:  maps.Clone(s.products),
		variants:  maps.Clone(s.variants),
		carts:     maps.Clone(s.carts),
		addresses: maps.Clone(s.addresses),
		outbox:    slices.Clone(s.outbox),
	}
}

type Store struct {
	mu           sync.Mutex
	st           *state
	orderOptions []orders.Option
}

func New(opts ...orders.Option) *Store {
	return &Store{
		st: &state{
			orders:    map[string]orders.Snapshot{},
			payments:  map[string]payments.Snapshot{},
			methods:   map[string]payments.MethodSnapshot{},
			products:  map[string]inventory.Product{},
			variants:  map[string]inventory.Variant{},
			carts:     map[string]cart.Cart{},
			addresses: map[string]addresses.Address{},
		},
		orderOptions: opts,
	}
}

// Do must not be called from inside fn.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, r store.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.st.clone()
	if err := fn(ctx, s.repos(tx)); err != nil {
		return err
	}
	s.st = tx
	return nil
}

func (s *Store) repos(tx *state) store.Repositories {
	return store.Repositories{
		Orders:    &orderRepo{st: tx, opts: s.orderOptions},
		Payments:  &paymentRepo{st: tx},
		Methods:   &methodRepo{st: tx},
		Inventory: &inventoryRepo{st: tx},
		Carts:     &cartRepo{st: tx},
		Addresses: &addressRepo{st: tx},
		Outbox:    &outboxRepo{st: tx},
	}
}

// Drain hands out pending outbox messages. The lock is not held while fn
// runs so handlers may open their own units of work.
func (s *Store) Drain(ctx context.Context, limit int, fn func([]outbox.Message) error) (int, error) {
	s.mu.Lock()
	var msgs []outbox.Message
	for _, r := range s.st.outbox {
		if len(msgs) == limit {
			break
		}
		if !r.published {
			msgs = append(msgs, r.msg)
		}
	}
	s.mu.Unlock()

	if len(msgs) == 0 {
		return 0, nil
	}
	if err := fn(msgs); err != nil {
		return 0, err
	}

	done := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		done[m.ID] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Clone(s.st.outbox)
	for i := range out {
		if done[out[i].msg.ID] {
			out[i].published = true
		}
	}
	s.st.outbox = out
	return len(msgs), ctx.Err()
}

// Messages returns every outbox message in append order.
func (s *Store) Messages() []outbox.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Message, len(s.st.outbox))
	for i, r := range s.st.outbox {
		out[i] = r.msg
	}
	return out
}

func (s *Store) seed(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.st.clone()
	fn(next)
	s.st = next
}

func (s *Store) SeedProduct(p inventory.Product) {
	s.seed(func(st *state) { st.products[p.ID] = p })
}

func (s *Store) SeedVariant(v inventory.Variant) {
	s.seed(func(st *state) { st.variants[v.ID] = v })
}

func (s *Store) SeedCart(c cart.Cart) {
	c.Lines = slices.Clone(c.Lines)
	s.seed(func(st *state) { st.carts[c.ID] = c })
}

func (s *Store) SeedAddress(a addresses.Address) {
	s.seed(func(st *state) { st.addresses[a.ID] = a })
}

func (s *Store) SeedOrder(o *orders.Order) {
	snap := o.Snapshot()
	s.seed(func(st *state) { st.orders[snap.ID] = snap })
}

func (s *Store) SeedPayment(p *payments.Payment) {
	snap := p.Snapshot()
	s.seed(func(st *state) { st.payments[snap.ID] = snap })
}

func (s *Store) SeedMethod(m *payments.PaymentMethod) {
	snap := m.Snapshot()
	s.seed(func(st *state) { st.methods[snap.ID] = snap })
}

// Stock reads a variant's on-hand quantity outside any transaction.
func (s *Store) Stock(variantID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.variants[variantID].Stock
}

type orderRepo struct {
	st   *state
	opts []orders.Option
}

func (r *orderRepo) Create(_ context.Context, o *orders.Order) error {
	snap := o.Snapshot()
	if _, ok := r.st.orders[snap.ID]; ok {
		return ErrDuplicateID.WithDetails(map[string]string{"order_id": snap.ID})
	}
	r.st.orders[snap.ID] = snap
	return nil
}

func (r *orderRepo) Update(_ context.Context, o *orders.Order) error {
	snap := o.Snapshot()
	cur, ok := r.st.orders[snap.ID]
	if !ok {
		return orders.ErrNotFound
	}
	if cur.Version != snap.Version {
		return apperr.ErrConcurrentModification.WithDetails(map[string]string{"order_id": snap.ID})
	}
	snap.Version++
	r.st.orders[snap.ID] = snap
	return nil
}

func (r *orderRepo) Get(_ context.Context, id string) (*orders.Order, error) {
	snap, ok := r.st.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return orders.Restore(snap, r.opts...), nil
}

func (r *orderRepo) GetForUpdate(ctx context.Context, id string) (*orders.Order, error) {
	return r.Get(ctx, id)
}

func (r *orderRepo) ListByUser(_ context.Context, userID string, limit int) ([]*orders.Order, error) {
	var snaps []orders.Snapshot
	for _, s := range r.st.orders {
		if s.UserID != "" && s.UserID == userID {
			snaps = append(snaps, s)
		}
	}
	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
		}
		return snaps[i].ID > snaps[j].ID
	})
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[:limit]
	}
	out := make([]*orders.Order, len(snaps))
	for i, s := range snaps {
		out[i] = orders.Restore(s, r.opts...)
	}
	return out, nil
}

// createdBefore orders by creation time, then id for equal times.
func createdBefore(a, b time.Time, idA, idB string) bool {
	if !a.Equal(b) {
		return a.Before(b)
	}
	return idA < idB
}

type paymentRepo struct{ st *state }

func (r *paymentRepo) Create(_ context.Context, p *payments.Payment) error {
	snap := p.Snapshot()
	if _, ok := r.st.payments[snap.ID]; ok {
		return ErrDuplicateID.WithDetails(map[string]string{"payment_id": snap.ID})
	}
	r.st.payments[snap.ID] = snap
	return nil
}

func (r *paymentRepo) Update(_ context.Context, p *payments.Payment) error {
	snap := p.Snapshot()
	cur, ok := r.st.payments[snap.ID]
	if !ok {
		return payments.ErrNotFound
	}
	if cur.Version != snap.Version {
		return apperr.ErrConcurrentModification.WithDetails(map[string]string{"payment_id": snap.ID})
	}
	snap.Version++
	r.st.payments[snap.ID] = snap
	return nil
}

func (r *paymentRepo) Get(_ context.Context, id string) (*payments.Payment, error) {
	snap, ok := r.st.payments[id]
	if !ok {
		return nil, payments.ErrNotFound
	}
	return payments.Restore(snap), nil
}

func (r *paymentRepo) GetByExternalReference(_ context.Context, provider, ref string) (*payments.Payment, error) {
	for _, s := range r.st.payments {
		if ref != "" && s.Provider == provider && s.ExternalReference == ref {
			return payments.Restore(s), nil
		}
	}
	return nil, payments.ErrNotFound
}

func (r *paymentRepo) ListByOrder(_ context.Context, orderID string) ([]*payments.Payment, error) {
	var snaps []payments.Snapshot
	for _, s := range r.st.payments {
		if s.OrderID == orderID {
			snaps = append(snaps, s)
		}
	}
	sort.Slice(snaps, func(i, j int) bool { return createdBefore(snaps[i].CreatedAt, snaps[j].CreatedAt, snaps[i].ID, snaps[j].ID) })
	out := make([]*payments.Payment, len(snaps))
	for i, s := range snaps {
		out[i] = payments.Restore(s)
	}
	return out, nil
}

type methodRepo struct{ st *state }

func (r *methodRepo) Create(_ context.Context, m *payments.PaymentMethod) error {
	snap := m.Snapshot()
	if _, ok := r.st.methods[snap.ID]; ok {
		return ErrDuplicateID.WithDetails(map[string]string{"payment_method_id": snap.ID})
	}
	for _, s := range r.st.methods {
		if s.UserID == snap.UserID && s.Token == snap.Token {
			return payments.ErrDuplicateToken
		}
	}
	r.st.methods[snap.ID] = snap
	return nil
}

func (r *methodRepo) Update(_ context.Context, m *payments.PaymentMethod) error {
	snap := m.Snapshot()
	cur, ok := r.st.methods[snap.ID]
	if !ok {
		return payments.ErrMethodNotFound
	}
	if cur.Version != snap.Version {
		return apperr.ErrConcurrentModification.WithDetails(map[string]string{"payment_method_id": snap.ID})
	}
	snap.Version++
	r.st.methods[snap.ID] = snap
	return nil
}

func (r *methodRepo) Get(_ context.Context, id string) (*payments.PaymentMethod, error) {
	snap, ok := r.st.methods[id]
	if !ok {
		return nil, payments.ErrMethodNotFound
	}
	return payments.RestoreMethod(snap), nil
}

func (r *methodRepo) GetByToken(_ context.Context, userID, token string) (*payments.PaymentMethod, error) {
	for _, s := range r.st.methods {
		if s.UserID == userID && s.Token == token {
			return payments.RestoreMethod(s), nil
		}
	}
	return nil, payments.ErrMethodNotFound
}

func (r *methodRepo) ListByUser(_ context.Context, userID string) ([]*payments.PaymentMethod, error) {
	var snaps []payments.MethodSnapshot
	for _, s := range r.st.methods {
		if s.UserID == userID {
			snaps = append(snaps, s)
		}
	}
	sort.Slice(snaps, func(i, j int) bool { return createdBefore(snaps[i].CreatedAt, snaps[j].CreatedAt, snaps[i].ID, snaps[j].ID) })
	out := make([]*payments.PaymentMethod, len(snaps))
	for i, s := range snaps {
		out[i] = payments.RestoreMethod(s)
	}
	return out, nil
}

type inventoryRepo struct{ st *state }

func (r *inventoryRepo) GetProduct(_ context.Context, id string) (inventory.Product, error) {
	p, ok := r.st.products[id]
	if !ok {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	return p, nil
}

func (r *inventoryRepo) GetVariant(_ context.Context, id string) (inventory.Variant, error) {
	v, ok := r.st.variants[id]
	if !ok {
		return inventory.Variant{}, inventory.ErrVariantNotFound.WithDetails(map[string]string{"variant_id": id})
	}
	v.Attributes = maps.Clone(v.Attributes)
	return v, nil
}

func (r *inventoryRepo) GetVariantForUpdate(ctx context.Context, id string) (inventory.Variant, error) {
	return r.GetVariant(ctx, id)
}

func (r *inventoryRepo) Decrement(_ context.Context, id string, qty int) error {
	v, ok := r.st.variants[id]
	if !ok {
		return inventory.ErrVariantNotFound.WithDetails(map[string]string{"variant_id": id})
	}
	if v.Stock < qty {
		return inventory.ErrInsufficientStock
	}
	v.Stock -= qty
	r.st.variants[id] = v
	return nil
}

func (r *inventoryRepo) Increment(_ context.Context, id string, qty int) error {
	v, ok := r.st.variants[id]
	if !ok {
		return inventory.ErrVariantNotFound.WithDetails(map[string]string{"variant_id": id})
	}
	v.Stock += qty
	r.st.variants[id] = v
	return nil
}

type cartRepo struct{ st *state }

func (r *cartRepo) Get(_ context.Context, id string) (cart.Cart, error) {
	c, ok := r.st.carts[id]
	if !ok {
		return cart.Cart{}, cart.ErrNotFound
	}
	c.Lines = slices.Clone(c.Lines)
	return c, nil
}

func (r *cartRepo) GetByUser(_ context.Context, userID string) (cart.Cart, error) {
	var (
		found cart.Cart
		ok    bool
	)
	for _, c := range r.st.carts {
		if c.UserID == userID && (!ok || c.UpdatedAt.After(found.UpdatedAt)) {
			found, ok = c, true
		}
	}
	if !ok {
		return cart.Cart{}, cart.ErrNotFound
	}
	found.Lines = slices.Clone(found.Lines)
	return found, nil
}

func (r *cartRepo) Clear(_ context.Context, id string) error {
	c, ok := r.st.carts[id]
	if !ok {
		return cart.ErrNotFound
	}
	c.Lines = nil
	r.st.carts[id] = c
	return nil
}

type addressRepo struct{ st *state }

func (r *addressRepo) Get(_ context.Context, id string) (addresses.Address, error) {
	a, ok := r.st.addresses[id]
	if !ok {
		return addresses.Address{}, addresses.ErrNotFound
	}
	return a, nil
}

type outboxRepo struct{ st *state }

func (r *outboxRepo) Append(_ context.Context, msgs ...outbox.Message) error {
	for _, m := range msgs {
		r.st.outbox = append(r.st.outbox, record{msg: m})
	}
	return nil
}
