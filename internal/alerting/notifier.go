package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chain-screening/internal/risk"
)

// Notification 封装一次筛查告警的上下文。
type Notification struct {
	Round           time.Time
	ResultID        string
	Address         string
	Chain           string
	Decision        risk.Decision
	Previous        *risk.Decision
	Score           int
	HighestSeverity risk.Severity
	Categories      []risk.Category
	Signals         []risk.Signal
	AdditionalMsg   string
}

// NewNotification builds an alert from a screening result.
func NewNotification(round time.Time, res risk.Result, previous *risk.Decision) Notification {
	return Notification{
		Round:           round,
		ResultID:        res.ID,
		Address:         res.Address,
		Chain:           res.Chain,
		Decision:        res.Decision,
		Previous:        previous,
		Score:           res.AggregateRiskScore,
		HighestSeverity: res.HighestSeverity,
		Categories:      res.Categories,
		Signals:         res.AllSignals,
	}
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram 返回 ok=false: %s", result.Description)
	}

	n.logger.Info().
		Str("address", note.Address).
		Str("decision", note.Decision.String()).
		Str("result_id", note.ResultID).
		Msg("告警已发送 (Telegram)")
	return nil
}

// LogNotifier writes alerts to the log only. Used when no channel is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Warn().
		Str("address", note.Address).
		Str("chain", note.Chain).
		Str("decision", note.Decision.String()).
		Int("score", note.Score).
		Str("severity", note.HighestSeverity.String()).
		Str("result_id", note.ResultID).
		Msg("screening alert")
	return nil
}

// RenderMessage formats the plain-text alert body.
func RenderMessage(note Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Screening %s]\n", note.Decision)
	fmt.Fprintf(&b, "Address: %s\n", note.Address)
	if note.Chain != "" {
		fmt.Fprintf(&b, "Chain: %s\n", note.Chain)
	}
	if note.Previous != nil && *note.Previous != note.Decision {
		fmt.Fprintf(&b, "Changed: %s -> %s\n", *note.Previous, note.Decision)
	}
	fmt.Fprintf(&b, "Score: %d (severity %s)\n", note.Score, note.HighestSeverity)
	if len(note.Categories) > 0 {
		cats := make([]string, len(note.Categories))
		for i, c := range note.Categories {
			cats[i] = string(c)
		}
		fmt.Fprintf(&b, "Categories: %s\n", strings.Join(cats, ","))
	}
	for i, s := range note.Signals {
		if i == 5 {
			fmt.Fprintf(&b, "... and %d more signals\n", len(note.Signals)-i)
			break
		}
		fmt.Fprintf(&b, "- %s %s/%s %d: %s\n", s.Provider, s.Category, s.Severity, s.RiskScore, s.Description)
	}
	if !note.Round.IsZero() {
		fmt.Fprintf(&b, "Round: %s UTC\n", note.Round.UTC().Format(time.RFC3339))
	}
	if note.ResultID != "" {
		fmt.Fprintf(&b, "Result: %s\n", note.ResultID)
	}
	if note.AdditionalMsg != "" {
		b.WriteString(note.AdditionalMsg)
	}
	return b.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
