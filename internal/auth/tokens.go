package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

var (
	errTokenAlgorithm = errors.New("auth: token algorithm not accepted")
	errTokenSubject   = errors.New("auth: token has no subject")
)

// tokenCodec signs and verifies access tokens for one issuer/audience pair
// with a shared HMAC key.
type tokenCodec struct {
	key       []byte
	alg       jwa.SignatureAlgorithm
	issuer    string
	audience  string
	clockSkew time.Duration
}

// sign issues an access token for userID valid from now until now+ttl.
func (c tokenCodec) sign(userID string, roles []string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	expiresAt := now.Add(ttl)
	if roles == nil {
		roles = []string{}
	}
	tok, err := jwt.NewBuilder().
		Subject(userID).
		Issuer(c.issuer).
		Audience([]string{c.audience}).
		IssuedAt(now).
		NotBefore(now.Add(-c.clockSkew)).
		Expiration(expiresAt).
		Claim(rolesClaim, roles).
		Build()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build access token: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(c.alg, c.key))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return string(signed), expiresAt, nil
}

// verify checks the signature, algorithm, issuer, audience and time window
// of raw at the instant now.
func (c tokenCodec) verify(raw string, now time.Time) (Claims, error) {
	alg, err := headerAlgorithm(raw)
	if err != nil {
		return Claims{}, err
	}
	if alg != c.alg {
		return Claims{}, fmt.Errorf("%w: %s", errTokenAlgorithm, alg)
	}
	tok, err := jwt.ParseString(raw, jwt.WithKey(c.alg, c.key), jwt.WithValidate(false))
	if err != nil {
		return Claims{}, err
	}
	if err := jwt.Validate(tok, c.validateOptions(now)...); err != nil {
		return Claims{}, err
	}
	if strings.TrimSpace(tok.Subject()) == "" {
		return Claims{}, errTokenSubject
	}
	return Claims{UserID: tok.Subject(), Roles: rolesClaimValue(tok)}, nil
}

func (c tokenCodec) validateOptions(now time.Time) []jwt.ValidateOption {
	opts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
	}
	if c.clockSkew > 0 {
		opts = append(opts, jwt.WithAcceptableSkew(c.clockSkew))
	}
	return opts
}

// headerAlgorithm reads alg from the protected header of a compact JWS
// carrying exactly one signature.
func headerAlgorithm(raw string) (jwa.SignatureAlgorithm, error) {
	msg, err := jws.ParseString(raw)
	if err != nil {
		return "", err
	}
	sigs := msg.Signatures()
	if len(sigs) != 1 {
		return "", errors.New("auth: token must carry exactly one signature")
	}
	headers := sigs[0].ProtectedHeaders()
	if headers == nil {
		return "", errors.New("auth: token missing protected headers")
	}
	alg := headers.Algorithm()
	if alg == "" || alg == jwa.NoSignature {
		return "", errTokenAlgorithm
	}
	return alg, nil
}

func rolesClaimValue(tok jwt.Token) []string {
	raw, ok := tok.Get(rolesClaim)
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		roles := make([]string, 0, len(v))
		for _, item := range v {
			if role, ok := item.(string); ok {
				roles = append(roles, role)
			}
		}
		return roles
	default:
		return nil
	}
}
