package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// uidCookieName carries the anonymous user identity between requests.
const uidCookieName = "askdoc_uid"

// csrfHeaderName is where clients echo the CSRF token on mutations.
const csrfHeaderName = "X-CSRF-Token"

type contextKey int

const (
	ctxKeyUserID contextKey = iota
	ctxKeyRequestID
)

// userID returns the authenticated anonymous user for the request.
// The user middleware guarantees it is set on every routed request.
func userID(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxKeyUserID).(uuid.UUID)
	return id
}

// requestID returns the request correlation ID, if set.
func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// identity signs and verifies uid cookies and derives CSRF tokens from
// them. Both use HMAC-SHA256 over the server secret so the server stays
// stateless: nothing about a user is stored until they create data.
type identity struct {
	secret []byte
}

func newIdentity(secret string) *identity {
	return &identity{secret: []byte(secret)}
}

// sign produces the cookie value "<uuid>.<hex hmac>".
func (i *identity) sign(id uuid.UUID) string {
	return id.String() + "." + i.mac(id.String())
}

// verify parses a cookie value and checks its signature.
func (i *identity) verify(value string) (uuid.UUID, bool) {
	raw, sig, ok := strings.Cut(value, ".")
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	if !hmac.Equal([]byte(sig), []byte(i.mac(raw))) {
		return uuid.Nil, false
	}
	return id, true
}

// csrfToken derives the per-user CSRF token. Deterministic per uid, so the
// token endpoint and the check never need shared mutable state.
func (i *identity) csrfToken(id uuid.UUID) string {
	return i.mac("csrf:" + id.String())
}

// checkCSRF validates the token header against the request's user.
func (i *identity) checkCSRF(r *http.Request, id uuid.UUID) bool {
	token := r.Header.Get(csrfHeaderName)
	if token == "" {
		return false
	}
	return hmac.Equal([]byte(token), []byte(i.csrfToken(id)))
}

func (i *identity) mac(message string) string {
	h := hmac.New(sha256.New, i.secret)
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// setUIDCookie issues the signed identity cookie.
func setUIDCookie(w http.ResponseWriter, value string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     uidCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   365 * 24 * 60 * 60,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
