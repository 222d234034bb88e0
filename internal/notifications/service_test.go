package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"devplay/internal/config"
	"devplay/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventInstallCompleted, notifications.Payload{"itemId": "app1"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "install completed",
			event: notifications.EventInstallCompleted,
			payload: notifications.Payload{
				"itemId": "app1",
				"name":   "Star Racer",
				"size":   int64(64 << 20),
			},
			expectTitle:   "devplay - Install Complete",
			expectMessage: "✅ Installed: Star Racer (64 MiB)",
			expectTags:    "devplay,install,completed",
		},
		{
			name:          "install completed without name",
			event:         notifications.EventInstallCompleted,
			payload:       notifications.Payload{"itemId": "app9"},
			expectTitle:   "devplay - Install Complete",
			expectMessage: "✅ Installed: app9",
			expectTags:    "devplay,install,completed",
		},
		{
			name:          "history cleared",
			event:         notifications.EventHistoryCleared,
			payload:       notifications.Payload{"success": 3, "failure": 0},
			expectTitle:   "devplay - History Cleared",
			expectMessage: "Removed 3 installed items",
			expectTags:    "devplay,history,cleared",
		},
		{
			name:          "history cleared with failures",
			event:         notifications.EventHistoryCleared,
			payload:       notifications.Payload{"success": 2, "failure": 1},
			expectTitle:   "devplay - History Cleared (with errors)",
			expectMessage: "Removed 2 installed items, 1 failed",
			expectTags:    "devplay,history,partial",
		},
		{
			name:  "error",
			event: notifications.EventError,
			payload: notifications.Payload{
				"context": "uninstall",
				"error":   errors.New("registry returned 503"),
			},
			expectTitle:    "devplay - Error",
			expectMessage:  "❌ Error with uninstall: registry returned 503",
			expectTags:     "devplay,error,alert",
			expectPriority: "high",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Errorf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5
			cfg.Notifications.Completions = true

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceIgnoresSuppressedEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for suppressed event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Completions = false

	svc := notifications.NewService(&cfg)
	suppressed := []notifications.Event{
		notifications.EventInstallStarted,
		notifications.EventInstallCompleted,
		notifications.EventUninstalled,
	}

	for _, event := range suppressed {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"itemId": "ignored"}); err != nil {
			t.Fatalf("expected no error for suppressed event %s, got %v", event, err)
		}
	}
}

func TestNtfyServiceReportsRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic closed", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	err := notifications.NewService(&cfg).Publish(context.Background(), notifications.EventTest, nil)
	if err == nil {
		t.Fatal("expected error for rejected publish")
	}
}
