package api

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestIdentity_SignVerifyRoundtrip(t *testing.T) {
	ident := newIdentity("test-secret-test-secret-test-1234")
	id := uuid.New()

	value := ident.sign(id)
	got, ok := ident.verify(value)
	if !ok {
		t.Fatal("verify rejected a freshly signed value")
	}
	if got != id {
		t.Errorf("verified id = %s, want %s", got, id)
	}
}

func TestIdentity_RejectsTampering(t *testing.T) {
	ident := newIdentity("test-secret-test-secret-test-1234")
	value := ident.sign(uuid.New())

	tests := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"no separator", strings.ReplaceAll(value, ".", "")},
		{"swapped uuid", uuid.NewString() + "." + strings.SplitN(value, ".", 2)[1]},
		{"truncated signature", value[:len(value)-2]},
		{"not a uuid", "hello." + strings.SplitN(value, ".", 2)[1]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := ident.verify(tt.value); ok {
				t.Errorf("verify accepted %q", tt.value)
			}
		})
	}
}

func TestIdentity_DifferentSecretRejects(t *testing.T) {
	a := newIdentity("secret-a-secret-a-secret-a-secret")
	b := newIdentity("secret-b-secret-b-secret-b-secret")

	if _, ok := b.verify(a.sign(uuid.New())); ok {
		t.Error("value signed with one secret verified with another")
	}
}

func TestIdentity_CSRFTokenIsPerUser(t *testing.T) {
	ident := newIdentity("test-secret-test-secret-test-1234")
	a, b := uuid.New(), uuid.New()

	if ident.csrfToken(a) == ident.csrfToken(b) {
		t.Error("different users share a CSRF token")
	}
	if ident.csrfToken(a) != ident.csrfToken(a) {
		t.Error("token not deterministic for the same user")
	}
}
