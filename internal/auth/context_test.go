// ABOUTME: Unit tests for authentication context functions
// ABOUTME: Tests context propagation helpers

package auth

import (
	"context"
	"testing"
)

func TestWithAuth_FromContext(t *testing.T) {
	ctx := WithAuth(context.Background(), &AuthContext{Username: "alice@eur.nl", SubID: "sub-1"})

	got := FromContext(ctx)
	if got == nil {
		t.Fatal("FromContext() = nil, want AuthContext")
	}
	if got.Username != "alice@eur.nl" {
		t.Errorf("Username = %q, want %q", got.Username, "alice@eur.nl")
	}
	if got.SubID != "sub-1" {
		t.Errorf("SubID = %q, want %q", got.SubID, "sub-1")
	}
}

func TestFromContext_Missing(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext() = %+v, want nil", got)
	}
}

func TestFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), authContextKey{}, "not an auth context")
	if got := FromContext(ctx); got != nil {
		t.Errorf("FromContext() = %+v, want nil", got)
	}
}

func TestMustFromContext_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustFromContext() did not panic")
		}
	}()
	MustFromContext(context.Background())
}
