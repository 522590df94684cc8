package api

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const (
	defaultJWKSCacheTTL = 15 * time.Minute
	defaultTokenTTL     = 15 * time.Minute
)

// ErrIssueUnsupported is returned by Issue when tokens are verified against a
// JWKS, since the service holds no signing key then.
var ErrIssueUnsupported = errors.New("auth: token issuing needs a JWT secret")

// Auth validates incoming JWT tokens. Tokens are checked against the JWKS
// when one is configured (RS256), otherwise against the shared secret (HS256).
type Auth struct {
	JWKS     *keyfunc.JWKS
	Secret   []byte
	Audience string
	Issuer   string
	// TokenTTL is the lifetime of tokens created by Issue.
	TokenTTL time.Duration

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates a new Auth instance. jwks may be nil, in which case secret
// must be non-empty.
func NewAuth(jwks *keyfunc.JWKS, secret, audience, issuer string) (*Auth, error) {
	a := &Auth{
		JWKS:        jwks,
		Audience:    audience,
		Issuer:      issuer,
		TokenTTL:    defaultTokenTTL,
		keyCacheTTL: defaultJWKSCacheTTL,
	}
	if jwks != nil {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
		return a, nil
	}
	if secret == "" {
		return nil, errors.New("auth: a JWT secret is required without a JWKS")
	}
	a.Secret = []byte(secret)
	a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	return a, nil
}

// NewJWKS fetches the key set at url and keeps it refreshed in the background.
func NewJWKS(url string) (*keyfunc.JWKS, error) {
	return keyfunc.Get(url, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	})
}

// SubjectFromAuthHeader extracts the token subject from the Authorization header.
func (a *Auth) SubjectFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errMissingAuthorization
	}
	token, err := bearerTokenFromString(h)
	if err != nil {
		return "", err
	}
	return a.SubjectFromBearer(token)
}

// SubjectFromBearer extracts the token subject from a raw bearer token.
func (a *Auth) SubjectFromBearer(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", errBadAuthorization
	}

	var parsedToken *jwt.Token
	var err error
	if a.JWKS == nil {
		parsedToken, err = a.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.Secret, nil
		})
	} else {
		parsedToken, err = a.parser.Parse(tokenStr, a.keyForToken)
	}
	if err != nil {
		return "", err
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return "", errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return "", errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now, false) {
		return "", errors.New("token used before issued")
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, true) {
		return "", errors.New("invalid audience")
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, true) {
		return "", errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
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

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}

// Issue signs a token for subject that carries the audience and issuer, so
// SubjectFromAuthHeader accepts it.
func (a *Auth) Issue(subject string) (string, error) {
	if a.JWKS != nil || len(a.Secret) == 0 {
		return "", ErrIssueUnsupported
	}
	claims := jwt.MapClaims{}
	if a.Audience != "" {
		claims["aud"] = a.Audience
	}
	if a.Issuer != "" {
		claims["iss"] = a.Issuer
	}
	return signToken(a.Secret, subject, a.TokenTTL, claims)
}

// IssueToken signs an HS256 token for subject that Auth accepts when it is
// configured with the same secret.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("auth: JWT secret must be set")
	}
	return signToken([]byte(secret), subject, ttl, jwt.MapClaims{})
}

func signToken(secret []byte, subject string, ttl time.Duration, claims jwt.MapClaims) (string, error) {
	now := time.Now()
	claims["sub"] = subject
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(ttl).Unix()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
