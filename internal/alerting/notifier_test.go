package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fraudwatch/internal/fraud"
)

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := Notification{
		RunID:       "run-1",
		GeneratedAt: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
		Flags: []fraud.FraudFlag{
			{CustomerID: "C1", CustomerName: "Alice", IntervalKey: "2025-01-01 09:00", FlagType: fraud.FlagHighFrequency, Severity: fraud.SeverityHigh, Details: "8 transactions"},
			{CustomerName: fraud.MultipleCustomers, IntervalKey: "2025-01-01 10:00", FlagType: fraud.FlagVolumeSpike, Severity: fraud.SeverityHigh},
		},
		Omitted:  2,
		Channels: []string{"telegram"},
	}

	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("unexpected chat_id: %#v", received)
	}
	text := received["text"]
	for _, want := range []string{"run-1", "Alice (C1)", "HIGH_FREQUENCY", "Multiple Customers @ 2025-01-01 10:00", "and 2 more"} {
		if !strings.Contains(text, want) {
			t.Fatalf("text missing %q:\n%s", want, text)
		}
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), Notification{}); err == nil {
		t.Fatal("ok=false should fail")
	}
}

func TestTelegramNotifierStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), Notification{}); err == nil {
		t.Fatal("non-2xx should fail")
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
