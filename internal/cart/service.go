package cart

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/samber/lo"

	"github.com/noah-isme/backend-grocery/internal/common"
	"github.com/noah-isme/backend-grocery/internal/pricing"
	"github.com/noah-isme/backend-grocery/internal/store"
)

var (
	// ErrItemNotFound is returned when the product is not in the cart.
	ErrItemNotFound = common.NewAppError("NOT_FOUND", "cart item not found", http.StatusNotFound, nil)
	// ErrProductNotFound is returned when adding a product that does not exist.
	ErrProductNotFound = common.NewAppError("NOT_FOUND", "product not found", http.StatusNotFound, nil)
	// ErrInvalidAmount is returned for amounts outside [1, MaxAmount].
	ErrInvalidAmount = common.NewAppError("INVALID_INPUT", "amount must be a positive integer", http.StatusBadRequest, nil).
				WithDetails(map[string]string{"field": "amount"})
	// ErrTotalOutOfRange is returned when the priced cart does not fit in Money.
	ErrTotalOutOfRange = common.NewAppError("INVALID_INPUT", "cart total exceeds the supported range", http.StatusBadRequest, nil)
)

// MaxAmount is the largest amount a cart line can hold.
const MaxAmount = math.MaxInt32

var errUnauthorized = common.NewAppError("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized, nil)

// Store is the cart persistence.
type Store interface {
	ListCartLines(ctx context.Context, userID pgtype.UUID) ([]store.CartLine, error)
	AddCartAmount(ctx context.Context, userID, productID pgtype.UUID, delta int32) (int32, error)
	SetCartAmount(ctx context.Context, userID, productID pgtype.UUID, amount int32) error
	IncrementCartAmount(ctx context.Context, userID, productID pgtype.UUID) (int32, error)
	DecrementCartAmount(ctx context.Context, userID, productID pgtype.UUID) (int32, error)
	DeleteCartLine(ctx context.Context, userID, productID pgtype.UUID) (bool, error)
	ClearCart(ctx context.Context, userID pgtype.UUID) error
	GetAddressForUser(ctx context.Context, userID, id pgtype.UUID) (store.Address, error)
}

// Service encapsulates cart operations for authenticated users.
type Service struct {
	Store       Store
	DeliveryFee pricing.Money
}

// Line is a priced cart line.
type Line struct {
	ProductID string    `json:"productId"`
	Name      string    `json:"name"`
	ImageURL  *string   `json:"imageUrl,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
	pricing.LineQuote
}

// Summary holds the order totals of a cart.
type Summary struct {
	Subtotal    pricing.Money `json:"subtotal"`
	Discount    pricing.Money `json:"discount"`
	DeliveryFee pricing.Money `json:"deliveryFee"`
	Total       pricing.Money `json:"total"`
}

// View is the priced cart returned to clients.
type View struct {
	Items     []Line  `json:"items"`
	AddressID *string `json:"addressId,omitempty"`
	Summary   Summary `json:"summary"`
}

// Item is the state of a single line after a mutation. Amount is zero when
// the line was removed.
type Item struct {
	ProductID string `json:"productId"`
	Amount    int32  `json:"amount"`
	Removed   bool   `json:"removed"`
}

func (s *Service) fee() pricing.Money {
	if s.DeliveryFee > 0 {
		return s.DeliveryFee
	}
	return pricing.DefaultDeliveryFee
}

// AddItem adds amount units of a product, incrementing an existing line.
func (s *Service) AddItem(ctx context.Context, userID, productID string, amount int) (Item, error) {
	if amount < 1 || amount > MaxAmount {
		return Item{}, ErrInvalidAmount
	}
	uid, err := store.ParseUUID(userID)
	if err != nil {
		return Item{}, errUnauthorized
	}
	pid, err := store.ParseUUID(productID)
	if err != nil {
		return Item{}, ErrProductNotFound
	}
	total, err := s.Store.AddCartAmount(ctx, uid, pid, int32(amount))
	switch {
	case err == nil:
		return Item{ProductID: productID, Amount: total}, nil
	case store.IsForeignKeyViolation(err):
		return Item{}, ErrProductNotFound
	case store.IsOutOfRange(err):
		return Item{}, ErrInvalidAmount
	default:
		return Item{}, fmt.Errorf("add cart item: %w", err)
	}
}

// Increment raises the amount of an existing line by one.
func (s *Service) Increment(ctx context.Context, userID, productID string) (Item, error) {
	uid, pid, err := parseIDs(userID, productID)
	if err != nil {
		return Item{}, err
	}
	total, err := s.Store.IncrementCartAmount(ctx, uid, pid)
	switch {
	case err == nil:
		return Item{ProductID: productID, Amount: total}, nil
	case errors.Is(err, store.ErrNoRows):
		return Item{}, ErrItemNotFound
	case store.IsOutOfRange(err):
		return Item{}, ErrInvalidAmount
	default:
		return Item{}, fmt.Errorf("increment cart item: %w", err)
	}
}

// Decrement lowers the amount of an existing line by one, removing the line
// when it reaches zero.
func (s *Service) Decrement(ctx context.Context, userID, productID string) (Item, error) {
	uid, pid, err := parseIDs(userID, productID)
	if err != nil {
		return Item{}, err
	}
	total, err := s.Store.DecrementCartAmount(ctx, uid, pid)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, fmt.Errorf("decrement cart item: %w", err)
	}
	return Item{ProductID: productID, Amount: total, Removed: total == 0}, nil
}

// SetAmount overwrites the amount of a line. Amounts of zero or less remove it.
func (s *Service) SetAmount(ctx context.Context, userID, productID string, amount int) (Item, error) {
	if amount > MaxAmount {
		return Item{}, ErrInvalidAmount
	}
	if amount <= 0 {
		if err := s.Remove(ctx, userID, productID); err != nil {
			return Item{}, err
		}
		return Item{ProductID: productID, Removed: true}, nil
	}
	uid, pid, err := parseIDs(userID, productID)
	if err != nil {
		return Item{}, err
	}
	if err := s.Store.SetCartAmount(ctx, uid, pid, int32(amount)); err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, fmt.Errorf("set cart amount: %w", err)
	}
	return Item{ProductID: productID, Amount: int32(amount)}, nil
}

// Remove deletes a line from the cart.
func (s *Service) Remove(ctx context.Context, userID, productID string) error {
	uid, pid, err := parseIDs(userID, productID)
	if err != nil {
		return err
	}
	ok, err := s.Store.DeleteCartLine(ctx, uid, pid)
	if err != nil {
		return fmt.Errorf("remove cart item: %w", err)
	}
	if !ok {
		return ErrItemNotFound
	}
	return nil
}

// Clear empties the cart.
func (s *Service) Clear(ctx context.Context, userID string) error {
	uid, err := store.ParseUUID(userID)
	if err != nil {
		return errUnauthorized
	}
	return s.Store.ClearCart(ctx, uid)
}

// View prices the cart. The delivery fee is charged only when addressID
// names one of the user's addresses.
func (s *Service) View(ctx context.Context, userID, addressID string) (View, error) {
	uid, err := store.ParseUUID(userID)
	if err != nil {
		return View{}, errUnauthorized
	}
	rows, err := s.Store.ListCartLines(ctx, uid)
	if err != nil {
		return View{}, fmt.Errorf("list cart: %w", err)
	}

	view := View{Items: []Line{}}
	applyFee := false
	if addressID != "" {
		if aid, err := store.ParseUUID(addressID); err == nil {
			if _, err := s.Store.GetAddressForUser(ctx, uid, aid); err == nil {
				applyFee = true
				view.AddressID = &addressID
			} else if !errors.Is(err, store.ErrNoRows) {
				return View{}, fmt.Errorf("load address: %w", err)
			}
		}
	}

	items, err := LineItems(rows)
	if err != nil {
		return View{}, err
	}
	quote, err := pricing.QuoteOrder(items, s.fee(), applyFee)
	if errors.Is(err, pricing.ErrOverflow) {
		return View{}, ErrTotalOutOfRange.Wrap(err)
	}
	if err != nil {
		return View{}, fmt.Errorf("price cart: %w", err)
	}
	view.Items = lo.Map(rows, func(row store.CartLine, i int) Line {
		return Line{
			ProductID: store.UUIDString(row.ProductID),
			Name:      row.Name,
			ImageURL:  textPtr(row.ImageURL),
			UpdatedAt: store.TimeValue(row.UpdatedAt),
			LineQuote: quote.Lines[i],
		}
	})
	if len(rows) == 0 {
		quote.DeliveryFee, quote.Total = 0, 0
	}
	view.Summary = Summary{
		Subtotal:    quote.Subtotal,
		Discount:    quote.Discount,
		DeliveryFee: quote.DeliveryFee,
		Total:       quote.Total,
	}
	return view, nil
}

// LineItems converts cart rows into calculator input using the current
// product price and rules.
func LineItems(rows []store.CartLine) ([]pricing.LineItem, error) {
	items := make([]pricing.LineItem, 0, len(rows))
	for _, row := range rows {
		rules, err := pricing.ParseRules(row.DiscountRules)
		if err != nil {
			return nil, fmt.Errorf("rules of product %s: %w", store.UUIDString(row.ProductID), err)
		}
		items = append(items, pricing.LineItem{UnitPrice: row.Price, Quantity: int(row.Amount), Rules: rules})
	}
	return items, nil
}

func parseIDs(userID, productID string) (pgtype.UUID, pgtype.UUID, error) {
	uid, err := store.ParseUUID(userID)
	if err != nil {
		return pgtype.UUID{}, pgtype.UUID{}, errUnauthorized
	}
	pid, err := store.ParseUUID(productID)
	if err != nil {
		return pgtype.UUID{}, pgtype.UUID{}, ErrItemNotFound
	}
	return uid, pid, nil
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}
