package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebhookFailureSinkPostsEvent(t *testing.T) {
	got := make(chan loginFailedEvent, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		var ev loginFailedEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode: %v", err)
		}
		got <- ev
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sink := NewWebhookFailureSink(srv.URL, nil)
	sink.LoginFailed(context.Background(), LoginFailure{Email: "a@example.com", RemoteAddr: "10.0.0.1", At: at})

	select {
	case ev := <-got:
		if ev.Event != "login_failed" || ev.Email != "a@example.com" || ev.RemoteAddr != "10.0.0.1" || !ev.At.Equal(at) {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("expected the webhook to be called")
	}
}

func TestWebhookFailureSinkReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewWebhookFailureSink(srv.URL, nil)
	if err := sink.send(context.Background(), LoginFailure{Email: "a@example.com"}); err == nil {
		t.Fatal("expected an error for a non-2xx response")
	}
	// LoginFailed swallows the same error
	sink.LoginFailed(context.Background(), LoginFailure{Email: "a@example.com"})
}

func TestWebhookFailureSinkDisabled(t *testing.T) {
	var nilSink *WebhookFailureSink
	nilSink.LoginFailed(context.Background(), LoginFailure{})
	NewWebhookFailureSink("", nil).LoginFailed(context.Background(), LoginFailure{})
}
