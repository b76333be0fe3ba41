package inventory

import (
	"context"
	"errors"
	"sort"

	"github.com/ariefcatur/go-store-orders/internal/apperr"
)

// Stock is the part of the store Reserve and Release work against.
type Stock interface {
	GetVariant(ctx context.Context, id string) (Variant, error)
	GetVariantForUpdate(ctx context.Context, id string) (Variant, error)
	Decrement(ctx context.Context, id string, qty int) error
	Increment(ctx context.Context, id string, qty int) error
}

type Line struct {
	VariantID string
	Quantity  int
}

// merge sums quantities per variant and sorts by id so concurrent
// reservations lock rows in the same order.
func merge(lines []Line) ([]Line, error) {
	sum := map[string]int{}
	for _, l := range lines {
		if l.VariantID == "" {
			continue
		}
		if l.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		sum[l.VariantID] += l.Quantity
	}
	out := make([]Line, 0, len(sum))
	for id, qty := range sum {
		out = append(out, Line{VariantID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out, nil
}

// Reserve checks every line before touching any stock. If one or more lines
// cannot be served nothing is decremented and the error lists every
// shortfall. It must run inside the caller's transaction so a decrement
// lost to a concurrent buyer rolls back the ones before it.
func Reserve(ctx context.Context, st Stock, lines []Line) error {
	need, err := merge(lines)
	if err != nil {
		return err
	}

	var short []Shortfall
	for _, l := range need {
		v, err := st.GetVariantForUpdate(ctx, l.VariantID)
		if err != nil {
			return err
		}
		if v.Stock < l.Quantity {
			short = append(short, Shortfall{VariantID: v.ID, SKU: v.SKU, Requested: l.Quantity, Available: v.Stock})
		}
	}
	if len(short) > 0 {
		return ErrInsufficientStock.WithDetails(short)
	}

	for _, l := range need {
		err := st.Decrement(ctx, l.VariantID, l.Quantity)
		if errors.Is(err, ErrInsufficientStock) {
			v, gerr := st.GetVariant(ctx, l.VariantID)
			if gerr != nil {
				return gerr
			}
			return ErrInsufficientStock.WithDetails([]Shortfall{{VariantID: v.ID, SKU: v.SKU, Requested: l.Quantity, Available: v.Stock}})
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Release puts the quantities of lines back on the shelf.
func Release(ctx context.Context, st Stock, lines []Line) error {
	back, err := merge(lines)
	if err != nil {
		return err
	}
	for _, l := range back {
		if err := st.Increment(ctx, l.VariantID, l.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// Shortfalls extracts the shortfall list from a Reserve error.
func Shortfalls(err error) []Shortfall {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		return nil
	}
	s, _ := ae.Details.([]Shortfall)
	return s
}
