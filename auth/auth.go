// Package auth validates the bearer tokens clients present when connecting.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const (
	defaultKeyCacheTTL = 15 * time.Minute
	clockSkew          = time.Minute
)

// ErrUnauthorized is wrapped by every rejection.
var ErrUnauthorized = errors.New("unauthorized")

var (
	errMissingAuthorization = fmt.Errorf("%w: missing authorization header", ErrUnauthorized)
	errBadAuthorization     = fmt.Errorf("%w: bad auth header", ErrUnauthorized)
)

// Claims are the token fields the board service reads. The subject becomes
// the user name shown in presence.
type Claims struct {
	jwt.RegisteredClaims
}

// Auth validates JWTs either against an Auth0 JWKS (RS256) or, in test
// mode, against a shared HMAC secret.
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

// New creates an Auth for the given JWKS. A non-empty testSecret switches to
// HS256 test mode and the JWKS is ignored.
func New(jwks *keyfunc.JWKS, audience, issuer string, testSecret []byte) *Auth {
	a := &Auth{jwks: jwks, audience: audience, issuer: issuer, secret: testSecret, keyCacheTTL: defaultKeyCacheTTL}
	method := "RS256"
	if a.TestMode() {
		method = "HS256"
	}
	// Time based claims are checked in checkClaims with a skew allowance.
	a.parser = jwt.NewParser(jwt.WithValidMethods([]string{method}), jwt.WithoutClaimsValidation())
	return a
}

// TestMode reports whether tokens are verified with the shared secret.
func (a *Auth) TestMode() bool { return len(a.secret) > 0 }

// UserIDFromAuthHeader extracts the user identifier from an Authorization header value.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	token, err := bearerToken(h)
	if err != nil {
		return "", err
	}
	return a.UserIDFromToken(token)
}

// UserIDFromToken validates a raw token and returns its subject.
func (a *Auth) UserIDFromToken(tokenStr string) (string, error) {
	if strings.Count(tokenStr, ".") != 2 {
		return "", errBadAuthorization
	}
	var claims Claims
	if _, err := a.parser.ParseWithClaims(tokenStr, &claims, a.signingKey); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if reason := a.checkClaims(claims, time.Now()); reason != "" {
		return "", fmt.Errorf("%w: %s", ErrUnauthorized, reason)
	}
	return claims.Subject, nil
}

// checkClaims returns why c is unacceptable at now, or "".
func (a *Auth) checkClaims(c Claims, now time.Time) string {
	switch {
	case !c.VerifyExpiresAt(now.Add(-clockSkew), true):
		return "token expired"
	case !c.VerifyNotBefore(now.Add(clockSkew), false):
		return "token not valid yet"
	case a.audience != "" && !c.VerifyAudience(a.audience, true):
		return "invalid audience"
	case a.issuer != "" && !c.VerifyIssuer(a.issuer, true):
		return "invalid issuer"
	case strings.TrimSpace(c.Subject) == "":
		return "missing sub"
	}
	return ""
}

func (a *Auth) signingKey(token *jwt.Token) (any, error) {
	if a.TestMode() {
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

// bearerToken accepts "Bearer <token>" with surrounding whitespace.
func bearerToken(h string) (string, error) {
	h = strings.TrimSpace(h)
	if h == "" {
		return "", errMissingAuthorization
	}
	token, ok := strings.CutPrefix(h, "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return "", errBadAuthorization
	}
	return token, nil
}
