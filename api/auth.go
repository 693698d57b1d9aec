package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"taskboard/session"
)

// DefaultJWKSCacheTTL bounds how long a resolved signing key is reused.
const DefaultJWKSCacheTTL = 15 * time.Minute

// Auth verifies bearer JWTs, either RS256 against a JWKS or HS256 against a
// shared secret for local runs and tests.
type Auth struct {
	jwks     *keyfunc.JWKS
	audience string
	issuer   string
	secret   []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewJWKSAuth verifies RS256 tokens issued by issuer for audience.
func NewJWKSAuth(jwks *keyfunc.JWKS, audience, issuer string, cacheTTL time.Duration) *Auth {
	return &Auth{
		jwks:        jwks,
		audience:    audience,
		issuer:      issuer,
		keyCacheTTL: cacheTTL,
		parser:      jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
	}
}

// NewHS256Auth verifies tokens signed with secret.
func NewHS256Auth(secret []byte) *Auth {
	return &Auth{
		secret: secret,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

// UserIDFromAuthHeader returns the subject of the bearer token in h.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	token, err := bearerToken(h)
	if err != nil {
		return "", err
	}
	claims, err := a.verify(token)
	if err != nil {
		return "", err
	}
	return claims["sub"].(string), nil
}

// VerifyToken checks a raw ID token and returns its user.
func (a *Auth) VerifyToken(_ context.Context, token string) (session.User, error) {
	claims, err := a.verify(token)
	if err != nil {
		return session.User{}, err
	}
	u := session.User{ID: claims["sub"].(string)}
	u.Email, _ = claims["email"].(string)
	u.Name, _ = claims["name"].(string)
	return u, nil
}

func (a *Auth) verify(tokenStr string) (jwt.MapClaims, error) {
	if tokenStr == "" {
		return nil, errBadAuthorization
	}
	parsed, err := a.parser.Parse(tokenStr, a.keyFor)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return nil, errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return nil, errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now, false) {
		return nil, errors.New("token used before issued")
	}
	if a.audience != "" && !claims.VerifyAudience(a.audience, false) {
		return nil, errors.New("invalid audience")
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, false) {
		return nil, errors.New("invalid issuer")
	}
	if sub, ok := claims["sub"].(string); !ok || sub == "" {
		return nil, errors.New("missing sub")
	}
	return claims, nil
}

func (a *Auth) keyFor(token *jwt.Token) (any, error) {
	if a.secret != nil {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.secret, nil
	}
	if a.jwks == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}
	key, err := a.jwks.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}

// VerifierAuth exposes any token verifier, such as Firebase Auth, through the
// header based Authenticator used by RequireUser.
type VerifierAuth struct {
	Verifier session.Authenticator
	Timeout  time.Duration
}

func (v VerifierAuth) VerifyToken(ctx context.Context, token string) (session.User, error) {
	return v.Verifier.VerifyToken(ctx, token)
}

func (v VerifierAuth) UserIDFromAuthHeader(h string) (string, error) {
	token, err := bearerToken(h)
	if err != nil {
		return "", err
	}
	ctx := context.Background()
	if v.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}
	u, err := v.Verifier.VerifyToken(ctx, token)
	if err != nil {
		return "", err
	}
	if u.ID == "" {
		return "", errors.New("missing sub")
	}
	return u.ID, nil
}
