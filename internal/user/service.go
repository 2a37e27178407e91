package user

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/samber/lo"

	"github.com/noah-isme/backend-grocery/internal/common"
	"github.com/noah-isme/backend-grocery/internal/store"
)

var (
	// ErrAddressNotFound is returned for missing or foreign addresses.
	ErrAddressNotFound = common.NewAppError("NOT_FOUND", "address not found", http.StatusNotFound, nil)

	errUnauthorized = common.NewAppError("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized, nil)
)

// Store is the address book persistence.
type Store interface {
	ListAddressesByUser(ctx context.Context, userID pgtype.UUID, limit, offset int32) ([]store.Address, error)
	CountAddressesByUser(ctx context.Context, userID pgtype.UUID) (int64, error)
	GetAddressForUser(ctx context.Context, userID, id pgtype.UUID) (store.Address, error)
	DeleteAddress(ctx context.Context, userID, id pgtype.UUID) (bool, error)
	SaveAddressTx(ctx context.Context, userID, id pgtype.UUID, arg store.AddressParams) (store.Address, error)
}

// Address represents a user address in API-friendly format.
type Address struct {
	ID           string    `json:"id"`
	Label        string    `json:"label,omitempty"`
	ReceiverName string    `json:"receiverName"`
	Phone        string    `json:"phone"`
	Province     string    `json:"province,omitempty"`
	City         string    `json:"city,omitempty"`
	District     string    `json:"district,omitempty"`
	PostalCode   string    `json:"postalCode,omitempty"`
	Detail       string    `json:"detail"`
	IsDefault    bool      `json:"isDefault"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// AddressInput captures payload for creating or updating an address.
type AddressInput struct {
	Label        string `json:"label" validate:"max=60"`
	ReceiverName string `json:"receiverName" validate:"required,max=120"`
	Phone        string `json:"phone" validate:"required,min=6,max=20"`
	Province     string `json:"province" validate:"max=120"`
	City         string `json:"city" validate:"max=120"`
	District     string `json:"district" validate:"max=120"`
	PostalCode   string `json:"postalCode" validate:"max=10"`
	Detail       string `json:"detail" validate:"required,max=500"`
	IsDefault    bool   `json:"isDefault"`
}

// Service orchestrates address book operations.
type Service struct {
	store    Store
	validate *validator.Validate
}

// NewService constructs a new address service.
func NewService(st Store) *Service {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Service{store: st, validate: v}
}

// List returns paginated addresses for a user, default first.
func (s *Service) List(ctx context.Context, userID string, page, perPage int) ([]Address, int64, error) {
	uid, err := store.ParseUUID(userID)
	if err != nil {
		return nil, 0, errUnauthorized
	}
	page = max(page, 1)
	if perPage <= 0 {
		perPage = 20
	}
	rows, err := s.store.ListAddressesByUser(ctx, uid, int32(perPage), int32(common.Offset(page, perPage)))
	if err != nil {
		return nil, 0, fmt.Errorf("list addresses: %w", err)
	}
	total, err := s.store.CountAddressesByUser(ctx, uid)
	if err != nil {
		return nil, 0, fmt.Errorf("count addresses: %w", err)
	}
	return lo.Map(rows, func(row store.Address, _ int) Address { return convertAddress(row) }), total, nil
}

// Get loads a single address owned by the user.
func (s *Service) Get(ctx context.Context, userID, addressID string) (Address, error) {
	uid, aid, err := parseIDs(userID, addressID)
	if err != nil {
		return Address{}, err
	}
	row, err := s.store.GetAddressForUser(ctx, uid, aid)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return Address{}, ErrAddressNotFound
		}
		return Address{}, fmt.Errorf("load address: %w", err)
	}
	return convertAddress(row), nil
}

// Create inserts a new address for the given user.
func (s *Service) Create(ctx context.Context, userID string, input AddressInput) (Address, error) {
	uid, err := store.ParseUUID(userID)
	if err != nil {
		return Address{}, errUnauthorized
	}
	return s.save(ctx, uid, pgtype.UUID{}, input)
}

// Update replaces an existing address.
func (s *Service) Update(ctx context.Context, userID, addressID string, input AddressInput) (Address, error) {
	uid, aid, err := parseIDs(userID, addressID)
	if err != nil {
		return Address{}, err
	}
	return s.save(ctx, uid, aid, input)
}

// Delete removes an address.
func (s *Service) Delete(ctx context.Context, userID, addressID string) error {
	uid, aid, err := parseIDs(userID, addressID)
	if err != nil {
		return err
	}
	ok, err := s.store.DeleteAddress(ctx, uid, aid)
	if err != nil {
		return fmt.Errorf("delete address: %w", err)
	}
	if !ok {
		return ErrAddressNotFound
	}
	return nil
}

func (s *Service) save(ctx context.Context, uid, aid pgtype.UUID, input AddressInput) (Address, error) {
	input = trimInput(input)
	if err := s.validate.Struct(input); err != nil {
		return Address{}, common.NewAppError("VALIDATION_ERROR", "invalid address payload", http.StatusBadRequest, err).
			WithDetails(validationDetails(err))
	}
	row, err := s.store.SaveAddressTx(ctx, uid, aid, store.AddressParams{
		Label:        store.Text(input.Label),
		ReceiverName: input.ReceiverName,
		Phone:        input.Phone,
		Province:     store.Text(input.Province),
		City:         store.Text(input.City),
		District:     store.Text(input.District),
		PostalCode:   store.Text(input.PostalCode),
		Detail:       input.Detail,
		IsDefault:    input.IsDefault,
	})
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return Address{}, ErrAddressNotFound
		}
		return Address{}, fmt.Errorf("save address: %w", err)
	}
	return convertAddress(row), nil
}

func trimInput(in AddressInput) AddressInput {
	in.Label = strings.TrimSpace(in.Label)
	in.ReceiverName = strings.TrimSpace(in.ReceiverName)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Province = strings.TrimSpace(in.Province)
	in.City = strings.TrimSpace(in.City)
	in.District = strings.TrimSpace(in.District)
	in.PostalCode = strings.TrimSpace(in.PostalCode)
	in.Detail = strings.TrimSpace(in.Detail)
	return in
}

func convertAddress(row store.Address) Address {
	return Address{
		ID:           store.UUIDString(row.ID),
		Label:        store.TextValue(row.Label),
		ReceiverName: row.ReceiverName,
		Phone:        row.Phone,
		Province:     store.TextValue(row.Province),
		City:         store.TextValue(row.City),
		District:     store.TextValue(row.District),
		PostalCode:   store.TextValue(row.PostalCode),
		Detail:       row.Detail,
		IsDefault:    row.IsDefault,
		CreatedAt:    store.TimeValue(row.CreatedAt),
		UpdatedAt:    store.TimeValue(row.UpdatedAt),
	}
}

func parseIDs(userID, addressID string) (pgtype.UUID, pgtype.UUID, error) {
	uid, err := store.ParseUUID(userID)
	if err != nil {
		return pgtype.UUID{}, pgtype.UUID{}, errUnauthorized
	}
	aid, err := store.ParseUUID(addressID)
	if err != nil {
		return pgtype.UUID{}, pgtype.UUID{}, ErrAddressNotFound
	}
	return uid, aid, nil
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = fe.Tag()
	}
	return details
}
