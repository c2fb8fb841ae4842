package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSignInSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/signin" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req credentialsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if req.Email != "user@example.com" {
			t.Fatalf("unexpected email %s", req.Email)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"accessToken": "tok-123"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 2*time.Second)
	token, err := client.SignIn(context.Background(), "user@example.com", "secret1")
	if err != nil {
		t.Fatalf("sign in failed: %v", err)
	}
	if token != "tok-123" {
		t.Fatalf("unexpected token %s", token)
	}
}

func TestSignInInvalidCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 2*time.Second)
	_, err := client.SignIn(context.Background(), "user@example.com", "wrong")
	if err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestUserLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(User{ID: "u1", Email: "user@example.com"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 2*time.Second)
	user, err := client.User(context.Background(), "tok-123")
	if err != nil {
		t.Fatalf("user lookup failed: %v", err)
	}
	if user.ID != "u1" || user.Email != "user@example.com" {
		t.Fatalf("unexpected user %+v", user)
	}

	if _, err := client.User(context.Background(), "bad-token"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}
