package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind identifies what went wrong.
type Kind string

const (
	KindIngestFailed Kind = "ingest_failed"
	KindStaleData    Kind = "stale_data"
)

// Notification carries the alert context.
type Notification struct {
	Kind       Kind
	OccurredAt time.Time
	Summary    string
	LastFetch  *time.Time
	DataAge    time.Duration
	Err        error
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs the Telegram notifier.
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
		"text":    renderMessage(note),
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
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("kind", string(note.Kind)).Msg("alert sent (telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	switch note.Kind {
	case KindIngestFailed:
		builder.WriteString("[price-api] Price ingest failed\n")
	case KindStaleData:
		builder.WriteString("[price-api] Price data is stale\n")
	default:
		builder.WriteString("[price-api] Alert\n")
	}
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", note.OccurredAt.UTC().Format(time.RFC3339)))
	if note.Summary != "" {
		builder.WriteString(note.Summary + "\n")
	}
	if note.LastFetch != nil {
		builder.WriteString(fmt.Sprintf("Last fetch: %s UTC\n", note.LastFetch.UTC().Format(time.RFC3339)))
		builder.WriteString(fmt.Sprintf("Data age: %s\n", note.DataAge.Round(time.Minute)))
	} else if note.Kind == KindStaleData {
		builder.WriteString("Last fetch: never\n")
	}
	if note.Err != nil {
		builder.WriteString(fmt.Sprintf("Error: %s\n", note.Err))
	}
	return builder.String()
}

// Throttled suppresses repeats of the same kind within a cooldown.
type Throttled struct {
	next     Notifier
	cooldown time.Duration
	logger   zerolog.Logger

	mu   sync.Mutex
	last map[Kind]time.Time
}

// NewThrottled wraps next with a per-kind cooldown.
func NewThrottled(next Notifier, cooldown time.Duration, logger zerolog.Logger) *Throttled {
	return &Throttled{
		next:     next,
		cooldown: cooldown,
		logger:   logger.With().Str("component", "alert_throttle").Logger(),
		last:     make(map[Kind]time.Time),
	}
}

func (t *Throttled) Notify(ctx context.Context, note Notification) error {
	at := note.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}

	t.mu.Lock()
	if prev, ok := t.last[note.Kind]; ok && at.Sub(prev) < t.cooldown {
		t.mu.Unlock()
		t.logger.Debug().Str("kind", string(note.Kind)).Time("previous", prev).Msg("alert suppressed by cooldown")
		return nil
	}
	t.last[note.Kind] = at
	t.mu.Unlock()

	if err := t.next.Notify(ctx, note); err != nil {
		t.mu.Lock()
		delete(t.last, note.Kind)
		t.mu.Unlock()
		return err
	}
	return nil
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*Throttled)(nil)
)
