package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-grocery/internal/cart"
	"github.com/noah-isme/backend-grocery/internal/common"
	"github.com/noah-isme/backend-grocery/internal/events"
	"github.com/noah-isme/backend-grocery/internal/invoice"
	"github.com/noah-isme/backend-grocery/internal/lock"
	"github.com/noah-isme/backend-grocery/internal/obs"
	"github.com/noah-isme/backend-grocery/internal/pricing"
	"github.com/noah-isme/backend-grocery/internal/ratelimit"
	"github.com/noah-isme/backend-grocery/internal/store"
)

var (
	// ErrEmptyCart is returned when checking out without cart lines.
	ErrEmptyCart = common.NewAppError("EMPTY_CART", "cart is empty", http.StatusBadRequest, nil)
	// ErrAddressNotFound is returned for missing or foreign addresses.
	ErrAddressNotFound = common.NewAppError("NOT_FOUND", "address not found", http.StatusNotFound, nil)
	// ErrRateLimited is returned when the user checks out too often.
	ErrRateLimited = common.NewAppError("RATE_LIMITED", "too many checkout attempts", http.StatusTooManyRequests, nil)
	// ErrBusy is returned when another checkout for the user holds the lock.
	ErrBusy = common.NewAppError("CHECKOUT_IN_PROGRESS", "another checkout is in progress", http.StatusConflict, nil)
)

// Store is the checkout persistence.
type Store interface {
	ListCartLines(ctx context.Context, userID pgtype.UUID) ([]store.CartLine, error)
	GetAddressForUser(ctx context.Context, userID, id pgtype.UUID) (store.Address, error)
	CreateInvoiceTx(ctx context.Context, arg store.CreateInvoiceParams) (store.Invoice, []store.InvoiceItem, error)
}

// Emitter publishes domain events. *events.Bus satisfies it.
type Emitter interface {
	Emit(ctx context.Context, topic string, aggregateID pgtype.UUID, payload any) (store.DomainEvent, error)
}

// Locker serialises checkouts per user.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Limiter throttles checkout attempts per user.
type Limiter interface {
	Allow(ctx context.Context, key string, window time.Duration, max int) (ratelimit.Decision, error)
}

// Input is the checkout request.
type Input struct {
	AddressID string `json:"addressId"`
}

// Service turns a cart into an invoice.
type Service struct {
	Store       Store
	Events      Emitter
	Locker      Locker
	Limiter     Limiter
	Logger      zerolog.Logger
	DeliveryFee pricing.Money
	LockTTL     time.Duration
	RateWindow  time.Duration
	RateMax     int
}

// Checkout prices the user's cart, persists it as an invoice, and empties
// the purchased lines from the cart.
func (s *Service) Checkout(ctx context.Context, userID string, in Input) (invoice.Invoice, error) {
	uid, err := store.ParseUUID(userID)
	if err != nil {
		return invoice.Invoice{}, common.NewAppError("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized, nil)
	}
	aid, err := store.ParseUUID(in.AddressID)
	if err != nil {
		obs.ObserveCheckout("invalid")
		return invoice.Invoice{}, ErrAddressNotFound
	}

	var out invoice.Invoice
	run := func(ctx context.Context) error {
		if s.Limiter != nil {
			decision, err := s.Limiter.Allow(ctx, "checkout:"+userID, s.RateWindow, s.RateMax)
			if err != nil {
				return fmt.Errorf("checkout rate limit: %w", err)
			}
			if !decision.Allowed {
				return ErrRateLimited.WithDetails(map[string]any{"resetAt": decision.ResetAt.UTC()})
			}
		}
		var err error
		out, err = s.checkout(ctx, uid, aid)
		return err
	}
	if s.Locker != nil {
		err = s.Locker.WithLock(ctx, "checkout:"+userID, s.LockTTL, run)
		if errors.Is(err, lock.ErrNotAcquired) {
			err = ErrBusy
		}
	} else {
		err = run(ctx)
	}
	if err != nil {
		obs.ObserveCheckout(outcome(err))
		return invoice.Invoice{}, err
	}
	obs.ObserveCheckout("success")
	obs.ObserveInvoiceTotal(out.Total)
	return out, nil
}

func (s *Service) checkout(ctx context.Context, uid, aid pgtype.UUID) (invoice.Invoice, error) {
	lines, err := s.Store.ListCartLines(ctx, uid)
	if err != nil {
		return invoice.Invoice{}, fmt.Errorf("load cart: %w", err)
	}
	if len(lines) == 0 {
		return invoice.Invoice{}, ErrEmptyCart
	}
	addr, err := s.Store.GetAddressForUser(ctx, uid, aid)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return invoice.Invoice{}, ErrAddressNotFound
		}
		return invoice.Invoice{}, fmt.Errorf("load address: %w", err)
	}

	items, err := cart.LineItems(lines)
	if err != nil {
		return invoice.Invoice{}, err
	}
	quote, err := pricing.QuoteOrder(items, s.fee(), true)
	if errors.Is(err, pricing.ErrOverflow) {
		return invoice.Invoice{}, cart.ErrTotalOutOfRange.Wrap(err)
	}
	if err != nil {
		return invoice.Invoice{}, fmt.Errorf("price cart: %w", err)
	}

	snapshot, err := json.Marshal(invoice.SnapshotAddress(addr))
	if err != nil {
		return invoice.Invoice{}, fmt.Errorf("encode address: %w", err)
	}
	params := store.CreateInvoiceParams{
		UserID:      uid,
		Address:     snapshot,
		Subtotal:    quote.Subtotal,
		Discount:    quote.Discount,
		DeliveryFee: quote.DeliveryFee,
		Total:       quote.Total,
		Items:       make([]store.InvoiceItemParams, 0, len(lines)),
	}
	for i, line := range lines {
		params.Items = append(params.Items, store.InvoiceItemParams{
			ProductID:     line.ProductID,
			Name:          line.Name,
			UnitPrice:     line.Price,
			Amount:        line.Amount,
			DiscountRules: line.DiscountRules,
			Discount:      quote.Lines[i].Discount,
			LineTotal:     quote.Lines[i].Total,
		})
	}

	row, rowItems, err := s.Store.CreateInvoiceTx(ctx, params)
	if err != nil {
		return invoice.Invoice{}, fmt.Errorf("create invoice: %w", err)
	}
	out, err := invoice.Detail(row, rowItems)
	if err != nil {
		return invoice.Invoice{}, err
	}

	if s.Events != nil {
		payload := events.InvoiceCreated{
			InvoiceID:   out.ID,
			UserID:      out.UserID,
			UserEmail:   out.UserEmail,
			ItemCount:   len(rowItems),
			Subtotal:    out.Subtotal,
			Discount:    out.Discount,
			DeliveryFee: out.DeliveryFee,
			Total:       out.Total,
		}
		if _, err := s.Events.Emit(ctx, events.TopicInvoiceCreated, row.ID, payload); err != nil {
			s.Logger.Warn().Err(err).Str("invoice_id", out.ID).Msg("emit invoice.created failed")
		}
	}
	return out, nil
}

func (s *Service) fee() pricing.Money {
	if s.DeliveryFee > 0 {
		return s.DeliveryFee
	}
	return pricing.DefaultDeliveryFee
}

func outcome(err error) string {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case ErrEmptyCart.Code:
			return "empty_cart"
		case ErrRateLimited.Code:
			return "rate_limited"
		case ErrBusy.Code:
			return "busy"
		case ErrAddressNotFound.Code:
			return "invalid"
		}
	}
	return "error"
}
