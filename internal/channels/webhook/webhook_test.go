package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendMessage(t *testing.T) {
	var gotAuth string
	var gotBody sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]string{"message_id": "wamid.123"})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", nil)
	id, err := c.SendMessage(context.Background(), "user1", "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if id != "wamid.123" {
		t.Errorf("id = %q", id)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotBody.To != "user1" || gotBody.Text != "hello" {
		t.Errorf("body = %+v", gotBody)
	}
}

func TestSendMessageRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, "", nil)
	if _, err := c.SendMessage(context.Background(), "user1", "hello"); err == nil {
		t.Error("expected error for 401 response")
	}
}

func TestSendMessageEmptyResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "", nil)
	id, err := c.SendMessage(context.Background(), "user1", "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if id != "" {
		t.Errorf("id = %q, want empty", id)
	}
}
