package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/diewo77/go-clients/httpx"
)

type ctxKey string

const (
	sessionCookieName = "session"
	operatorCtxKey    = ctxKey("operator")
)

// Role is the back-office role carried by an operator token.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

func (r Role) Valid() bool { return r == RoleAdmin || r == RoleSuperAdmin }

// Operator is the authenticated back-office user behind a request.
type Operator struct {
	ID   uint
	Role Role
}

// Signer issues and verifies operator tokens of the form
// "<id>.<role>.<expires>.<sig>", where expires is a unix timestamp.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner returns a signer whose tokens expire ttl after issue.
func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *Signer) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Token returns a signed token for op.
func (s *Signer) Token(op Operator) string {
	expires := s.now().Add(s.ttl).Unix()
	payload := strconv.FormatUint(uint64(op.ID), 10) + "." + string(op.Role) + "." + strconv.FormatInt(expires, 10)
	return payload + "." + s.sign(payload)
}

// Parse validates token and returns the operator it names. Expired tokens
// are rejected.
func (s *Signer) Parse(token string) (Operator, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return Operator{}, false
	}
	payload := strings.Join(parts[:3], ".")
	if !hmac.Equal([]byte(parts[3]), []byte(s.sign(payload))) {
		return Operator{}, false
	}
	expires, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || !s.now().Before(time.Unix(expires, 0)) {
		return Operator{}, false
	}
	id64, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil || id64 == 0 {
		return Operator{}, false
	}
	role := Role(parts[1])
	if !role.Valid() {
		return Operator{}, false
	}
	return Operator{ID: uint(id64), Role: role}, true
}

// ClearSession deletes the session cookie.
func ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: sessionCookieName, Value: "", Path: "/", Expires: time.Unix(0, 0), HttpOnly: true, SameSite: http.SameSiteLaxMode})
}

// tokenFromRequest prefers the Authorization bearer token over the cookie.
func tokenFromRequest(r *http.Request) (token string, fromCookie bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(t), false
		}
	}
	if c, err := r.Cookie(sessionCookieName); err == nil {
		return c.Value, true
	}
	return "", false
}

// WithOperator stores op in context.
func WithOperator(ctx context.Context, op Operator) context.Context {
	return context.WithValue(ctx, operatorCtxKey, op)
}

// OperatorFromContext extracts the operator set by Middleware.
func OperatorFromContext(ctx context.Context) (Operator, bool) {
	op, ok := ctx.Value(operatorCtxKey).(Operator)
	return op, ok
}

// Middleware attaches the operator to the request context when the request
// carries a valid token. A tampered session cookie is cleared.
func (s *Signer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, fromCookie := tokenFromRequest(r)
		if token != "" {
			if op, ok := s.Parse(token); ok {
				r = r.WithContext(WithOperator(r.Context(), op))
			} else if fromCookie {
				ClearSession(w)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth returns 401 JSON when no operator is attached.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := OperatorFromContext(r.Context()); !ok {
			httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
