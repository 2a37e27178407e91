package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/lestrrat-go/jwx/v2/jwa"

	"github.com/noah-isme/backend-grocery/internal/common"
	"github.com/noah-isme/backend-grocery/internal/store"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 30 * 24 * time.Hour
	rolesClaim        = "roles"
)

var (
	errInvalidCredentials = common.NewAppError("INVALID_CREDENTIALS", "invalid email or password", http.StatusUnauthorized, nil)
	errInvalidRefresh     = common.NewAppError("UNAUTHORIZED", "invalid refresh token", http.StatusUnauthorized, nil)
	errUnauthorized       = common.NewAppError("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized, nil)
)

// Store is the persistence required by the auth service.
type Store interface {
	CreateUser(ctx context.Context, arg store.CreateUserParams) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id pgtype.UUID) (store.User, error)
	CreateSession(ctx context.Context, arg store.CreateSessionParams) (store.Session, error)
	GetSessionByToken(ctx context.Context, refreshToken string) (store.Session, error)
	RotateSessionToken(ctx context.Context, arg store.RotateSessionTokenParams) (store.Session, error)
	DeleteSessionByToken(ctx context.Context, refreshToken string) error
}

// Service coordinates authentication, password hashing, and session persistence.
type Service struct {
	store      Store
	tokens     tokenCodec
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	validate   *validator.Validate
}

// Config configures the auth service.
type Config struct {
	Store           Store
	Secret          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Issuer          string
	Audience        string
	ClockSkew       time.Duration
}

// User represents a safe subset of the user model returned to clients.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Tokens bundles the token material issued on login and refresh.
type Tokens struct {
	AccessToken   string    `json:"accessToken"`
	AccessExpiry  time.Time `json:"accessExpiresAt"`
	RefreshToken  string    `json:"refreshToken"`
	RefreshExpiry time.Time `json:"refreshExpiresAt"`
}

// LoginResult is returned after a successful login.
type LoginResult struct {
	User User `json:"user"`
	Tokens
}

// Claims are the verified contents of an access token.
type Claims struct {
	UserID string
	Roles  []string
}

type registerInput struct {
	Name     string `validate:"required,max=120"`
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,min=8,max=128"`
}

// NewService constructs a Service instance with sane defaults.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("auth: store is required")
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTTL
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = "grocery-api"
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = "grocery-clients"
	}
	clockSkew := max(cfg.ClockSkew, 0)

	return &Service{
		store: cfg.Store,
		tokens: tokenCodec{
			key:       []byte(secret),
			alg:       jwa.HS256,
			issuer:    issuer,
			audience:  audience,
			clockSkew: clockSkew,
		},
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// WithNow allows tests to override the time provider.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Register creates a new user with the default role.
func (s *Service) Register(ctx context.Context, name, email, password string) (User, error) {
	in := registerInput{
		Name:     strings.TrimSpace(name),
		Email:    strings.ToLower(strings.TrimSpace(email)),
		Password: password,
	}
	if err := s.validate.Struct(in); err != nil {
		return User{}, common.NewAppError("VALIDATION_ERROR", "invalid registration payload", http.StatusBadRequest, err).
			WithDetails(validationDetails(err))
	}

	hash, err := argon2id.CreateHash(in.Password, argon2id.DefaultParams)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.store.CreateUser(ctx, store.CreateUserParams{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Roles:        []string{common.RoleUser},
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			return User{}, common.NewAppError("EMAIL_ALREADY_USED", "email is already registered", http.StatusConflict, err)
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return toUser(created), nil
}

// Login verifies credentials and issues a new access/refresh token pair.
func (s *Service) Login(ctx context.Context, email, password, userAgent, ip string) (LoginResult, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" || password == "" {
		return LoginResult{}, errInvalidCredentials
	}

	u, err := s.store.GetUserByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return LoginResult{}, errInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("load user: %w", err)
	}
	ok, err := argon2id.ComparePasswordAndHash(password, u.PasswordHash)
	if err != nil || !ok {
		return LoginResult{}, errInvalidCredentials
	}

	user := toUser(u)
	access, accessExpiry, err := s.signAccessToken(user.ID, user.Roles)
	if err != nil {
		return LoginResult{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, hashed, refreshExpiry, err := s.newRefreshToken()
	if err != nil {
		return LoginResult{}, fmt.Errorf("generate refresh token: %w", err)
	}
	if _, err := s.store.CreateSession(ctx, store.CreateSessionParams{
		UserID:       u.ID,
		RefreshToken: hashed,
		UserAgent:    store.Text(userAgent),
		IP:           store.Text(ip),
		ExpiresAt:    store.Timestamp(refreshExpiry),
	}); err != nil {
		return LoginResult{}, fmt.Errorf("create session: %w", err)
	}

	return LoginResult{
		User: user,
		Tokens: Tokens{
			AccessToken:   access,
			AccessExpiry:  accessExpiry,
			RefreshToken:  refresh,
			RefreshExpiry: refreshExpiry,
		},
	}, nil
}

// Refresh validates and rotates a refresh token, issuing a fresh pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	token := strings.TrimSpace(refreshToken)
	if token == "" {
		return Tokens{}, errInvalidRefresh
	}
	hashed := common.Sha256Hex(token)
	session, err := s.store.GetSessionByToken(ctx, hashed)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return Tokens{}, errInvalidRefresh
		}
		return Tokens{}, fmt.Errorf("load session: %w", err)
	}
	if !session.ExpiresAt.Valid || s.now().After(session.ExpiresAt.Time) {
		_ = s.store.DeleteSessionByToken(ctx, hashed)
		return Tokens{}, errInvalidRefresh
	}

	u, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		_ = s.store.DeleteSessionByToken(ctx, hashed)
		return Tokens{}, errInvalidRefresh
	}

	access, accessExpiry, err := s.signAccessToken(store.UUIDString(u.ID), u.Roles)
	if err != nil {
		return Tokens{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, newHash, refreshExpiry, err := s.newRefreshToken()
	if err != nil {
		return Tokens{}, fmt.Errorf("generate refresh token: %w", err)
	}
	if _, err := s.store.RotateSessionToken(ctx, store.RotateSessionTokenParams{
		ID:           session.ID,
		RefreshToken: newHash,
		ExpiresAt:    store.Timestamp(refreshExpiry),
	}); err != nil {
		return Tokens{}, fmt.Errorf("rotate session token: %w", err)
	}

	return Tokens{
		AccessToken:   access,
		AccessExpiry:  accessExpiry,
		RefreshToken:  refresh,
		RefreshExpiry: refreshExpiry,
	}, nil
}

// Logout revokes the refresh token. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	token := strings.TrimSpace(refreshToken)
	if token == "" {
		return nil
	}
	return s.store.DeleteSessionByToken(ctx, common.Sha256Hex(token))
}

// Me fetches the current authenticated user.
func (s *Service) Me(ctx context.Context, userID string) (User, error) {
	id, err := store.ParseUUID(userID)
	if err != nil {
		return User{}, errUnauthorized
	}
	u, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return User{}, errUnauthorized
		}
		return User{}, fmt.Errorf("load user: %w", err)
	}
	return toUser(u), nil
}

// Roles returns the current roles of a user as stored in the database.
func (s *Service) Roles(ctx context.Context, userID string) ([]string, error) {
	u, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.Roles, nil
}

// ParseAccessToken validates an access token and returns its claims.
func (s *Service) ParseAccessToken(token string) (Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "missing token", http.StatusUnauthorized, nil)
	}
	claims, err := s.tokens.verify(trimmed, s.now())
	if err != nil {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
	}
	return claims, nil
}

func (s *Service) signAccessToken(userID string, roles []string) (string, time.Time, error) {
	return s.tokens.sign(userID, roles, s.now(), s.accessTTL)
}

func (s *Service) newRefreshToken() (token, hashed string, expiresAt time.Time, err error) {
	token, err = common.RandomHex(48)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return token, common.Sha256Hex(token), s.now().Add(s.refreshTTL), nil
}

func toUser(u store.User) User {
	roles := u.Roles
	if len(roles) == 0 {
		roles = []string{common.RoleUser}
	}
	return User{
		ID:        store.UUIDString(u.ID),
		Name:      u.Name,
		Email:     u.Email,
		Roles:     roles,
		CreatedAt: store.TimeValue(u.CreatedAt),
		UpdatedAt: store.TimeValue(u.UpdatedAt),
	}
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[strings.ToLower(fe.Field())] = fe.Tag()
	}
	return details
}
