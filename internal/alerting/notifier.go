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
	"github.com/shopspring/decimal"

	"imbalance-watch/internal/delta"
	"imbalance-watch/internal/period"
)

// Notification carries the alert context for one published update.
type Notification struct {
	Title           string
	TargetDate      time.Time
	PreviousPublish time.Time
	LatestPublish   time.Time
	Largest         delta.Record
	ThresholdMW     decimal.Decimal
	Increases       int
	Decreases       int
	Location        *time.Location
	AdditionalMsg   string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Evaluate builds a notification when the largest move in v exceeds threshold.
func Evaluate(v delta.View, threshold decimal.Decimal, loc *time.Location) (Notification, bool) {
	largest, ok := v.Largest()
	if !ok || !largest.Delta.Decimal.Abs().GreaterThan(threshold) {
		return Notification{}, false
	}
	inc, dec := v.Counts()
	return Notification{
		Title:           v.Title("", loc),
		TargetDate:      v.LatestTarget,
		PreviousPublish: v.PreviousPublish,
		LatestPublish:   v.LatestPublish,
		Largest:         largest,
		ThresholdMW:     threshold,
		Increases:       inc,
		Decreases:       dec,
		Location:        loc,
	}, true
}

// TelegramNotifier posts notifications through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
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

// Notify calls sendMessage with the rendered text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
	}

	body, err := json.Marshal(payload)
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
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().
		Str("target_date", note.TargetDate.Format(period.DateLayout)).
		Int("period", note.Largest.Period).
		Str("delta_mw", note.Largest.Delta.Decimal.String()).
		Msg("alert sent (telegram)")
	return nil
}

// RenderMessage formats a notification as plain text.
func RenderMessage(note Notification) string {
	loc := note.Location
	if loc == nil {
		loc = time.UTC
	}

	builder := strings.Builder{}
	builder.WriteString("[Imbalance Update]\n")
	if note.Title != "" {
		builder.WriteString(note.Title + "\n")
	}
	builder.WriteString(fmt.Sprintf("Target: %s\n", note.TargetDate.Format(period.DateLayout)))
	builder.WriteString(fmt.Sprintf("Published: %s (previous %s)\n",
		period.Localize(note.LatestPublish, loc).Format("2006-01-02 15:04 MST"),
		period.Localize(note.PreviousPublish, loc).Format("2006-01-02 15:04 MST")))
	builder.WriteString(fmt.Sprintf("Largest move: SP %d %s -> %s MW (%s MW, %s)\n",
		note.Largest.Period,
		note.Largest.Previous.Decimal.StringFixed(1),
		note.Largest.New.Decimal.StringFixed(1),
		signed(note.Largest.Delta.Decimal),
		note.Largest.Direction))
	builder.WriteString(fmt.Sprintf("Threshold: %s MW\n", note.ThresholdMW.StringFixed(1)))
	builder.WriteString(fmt.Sprintf("Periods up/down: %d/%d\n", note.Increases, note.Decreases))
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

func signed(d decimal.Decimal) string {
	if d.Sign() > 0 {
		return "+" + d.StringFixed(1)
	}
	return d.StringFixed(1)
}

var _ Notifier = (*TelegramNotifier)(nil)
