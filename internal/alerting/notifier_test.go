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

	"chain-screening/internal/risk"
)

func sampleNote() Notification {
	prev := risk.DecisionApprove
	res := risk.Result{
		ID:                 "res-1",
		Address:            "0xabc",
		Chain:              "ethereum",
		Decision:           risk.DecisionBlock,
		AggregateRiskScore: 92,
		HighestSeverity:    risk.SeveritySevere,
		Categories:         []risk.Category{risk.CategorySanctions},
		AllSignals: []risk.Signal{{
			Provider:    "oracle",
			Category:    risk.CategorySanctions,
			Severity:    risk.SeveritySevere,
			RiskScore:   100,
			Description: "sanctioned",
		}},
	}
	return NewNotification(time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC), res, &prev)
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/bottoken/sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "0xabc") {
		t.Fatalf("text 应包含地址: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	err := notifier.Notify(context.Background(), sampleNote())
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("ok=false 应报错, got %v", err)
	}
}

func TestTelegramNotifierStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote()); err == nil {
		t.Fatal("非 2xx 应报错")
	}
}

func TestRenderMessage(t *testing.T) {
	msg := RenderMessage(sampleNote())
	for _, want := range []string{"[Screening BLOCK]", "Changed: APPROVE -> BLOCK", "Score: 92 (severity SEVERE)", "Categories: SANCTIONS", "- oracle SANCTIONS/SEVERE 100", "Result: res-1"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestLogNotifier(t *testing.T) {
	if err := NewLogNotifier(testLogger()).Notify(context.Background(), sampleNote()); err != nil {
		t.Fatalf("log notifier should not fail: %v", err)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
