package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	deadline bool
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, _ string) (*firebaseauth.Token, error) {
	_, s.deadline = ctx.Deadline()
	return s.token, s.err
}

func TestFirebaseVerifierExtractsEmail(t *testing.T) {
	stub := &stubTokenVerifier{token: &firebaseauth.Token{UID: "u1", Claims: map[string]interface{}{"email": " a@example.com "}}}
	v := newFirebaseVerifier(stub, WithFirebaseTimeout(time.Second))

	identity, err := v.Verify(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if identity.UID != "u1" || identity.Email != "a@example.com" {
		t.Fatalf("unexpected identity %#v", identity)
	}
	if !stub.deadline {
		t.Fatalf("expected verification to run with a deadline")
	}
}

func TestFirebaseVerifierErrors(t *testing.T) {
	v := newFirebaseVerifier(&stubTokenVerifier{err: errors.New("bad signature")})
	if _, err := v.Verify(context.Background(), "tok"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	if _, err := v.Verify(context.Background(), "  "); !errors.Is(err, ErrTokenMissing) {
		t.Fatalf("expected ErrTokenMissing, got %v", err)
	}

	noEmail := newFirebaseVerifier(&stubTokenVerifier{token: &firebaseauth.Token{UID: "u2"}})
	if _, err := noEmail.Verify(context.Background(), "tok"); !errors.Is(err, ErrEmailMissing) {
		t.Fatalf("expected ErrEmailMissing, got %v", err)
	}

	var nilVerifier *FirebaseVerifier
	if _, err := nilVerifier.Verify(context.Background(), "tok"); err == nil {
		t.Fatalf("expected error from nil verifier")
	}
}

func TestDebugVerifier(t *testing.T) {
	identity, err := DebugVerifier{}.Verify(context.Background(), "debug:Dev@Example.com")
	if err != nil || identity.Email != "dev@example.com" {
		t.Fatalf("unexpected identity %#v, %v", identity, err)
	}
	for token, want := range map[string]error{
		"":             ErrTokenMissing,
		"eyJhbGci":     ErrTokenInvalid,
		"debug:nouser": ErrEmailMissing,
	} {
		if _, err := (DebugVerifier{}).Verify(context.Background(), token); !errors.Is(err, want) {
			t.Fatalf("Verify(%q) = %v, want %v", token, err, want)
		}
	}
}
