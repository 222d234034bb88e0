package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"devplay/internal/config"
)

const userAgent = "devplay/0.1.0"

// Event names a notification-worthy moment in the install lifecycle.
type Event string

const (
	EventInstallStarted   Event = "install_started"
	EventInstallCompleted Event = "install_completed"
	EventUninstalled      Event = "uninstalled"
	EventHistoryCleared   Event = "history_cleared"
	EventError            Event = "error"
	EventTest             Event = "test"
)

// Payload carries event fields keyed by name.
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:    topic,
		client:      &http.Client{Timeout: timeout},
		completions: cfg.Notifications.Completions,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	client      *http.Client
	completions bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, data Payload) error {
	msg, ok := n.format(event, data)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, data Payload) (payload, bool) {
	switch event {
	case EventInstallCompleted:
		if !n.completions {
			return payload{}, false
		}
		message := fmt.Sprintf("✅ Installed: %s", displayName(data))
		if size := int64Value(data, "size"); size > 0 {
			message = fmt.Sprintf("%s (%s)", message, humanize.IBytes(uint64(size)))
		}
		return payload{
			title:   "devplay - Install Complete",
			message: message,
			tags:    []string{"devplay", "install", "completed"},
		}, true
	case EventHistoryCleared:
		succeeded := int64Value(data, "success")
		failed := int64Value(data, "failure")
		if failed == 0 {
			return payload{
				title:   "devplay - History Cleared",
				message: fmt.Sprintf("Removed %d installed items", succeeded),
				tags:    []string{"devplay", "history", "cleared"},
			}, true
		}
		return payload{
			title:   "devplay - History Cleared (with errors)",
			message: fmt.Sprintf("Removed %d installed items, %d failed", succeeded, failed),
			tags:    []string{"devplay", "history", "partial"},
		}, true
	case EventError:
		var builder strings.Builder
		builder.WriteString("❌ Error")
		if label := stringValue(data, "context"); label != "" {
			builder.WriteString(" with ")
			builder.WriteString(label)
		}
		builder.WriteString(": ")
		if msg := stringValue(data, "error"); msg != "" {
			builder.WriteString(msg)
		} else {
			builder.WriteString("unknown")
		}
		return payload{
			title:    "devplay - Error",
			message:  builder.String(),
			tags:     []string{"devplay", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return payload{
			title:    "devplay - Test",
			message:  "🧪 Notification system test",
			tags:     []string{"devplay", "test"},
			priority: "low",
		}, true
	default:
		// install_started and uninstalled are log-only.
		return payload{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func displayName(data Payload) string {
	if name := stringValue(data, "name"); name != "" {
		return name
	}
	if id := stringValue(data, "itemId"); id != "" {
		return id
	}
	return "unknown item"
}

func stringValue(data Payload, key string) string {
	if data == nil {
		return ""
	}
	switch v := data[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return ""
	}
}

func int64Value(data Payload, key string) int64 {
	if data == nil {
		return 0
	}
	switch v := data[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
