package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"devplay/internal/config"
	"devplay/internal/logging"
	"devplay/internal/queue"
)

const userAgent = "devplay/0.1.0"

// Registry is the remote install registry surface used by the queue manager.
type Registry interface {
	OwnedItems(ctx context.Context, identity string) ([]queue.Record, error)
	RegisterInstall(ctx context.Context, itemID, identity string) (string, error)
	RemoveInstall(ctx context.Context, remoteInstallID string) error
	Catalog(ctx context.Context) ([]queue.Record, error)
}

// Client is the HTTP implementation of Registry.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Registry = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a registry client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("registry base url required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse registry url: %w", err)
	}
	client := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	client.logger = logging.NewComponentLogger(client.logger, "registry")
	return client, nil
}

// NewFromConfig builds a client from the [registry] config section.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	return New(cfg.Registry.BaseURL,
		WithToken(cfg.Registry.APIToken),
		WithHTTPClient(&http.Client{Timeout: cfg.RegistryTimeout()}),
		WithLogger(logger),
	)
}

type itemsEnvelope struct {
	Items []queue.Record `json:"items"`
}

type installRequest struct {
	ItemID   string `json:"itemId"`
	Identity string `json:"identity"`
}

type installResponse struct {
	RemoteInstallID string `json:"remoteInstallId"`
	ID              string `json:"id"`
}

// OwnedItems returns the authoritative owned set for identity.
func (c *Client) OwnedItems(ctx context.Context, identity string) ([]queue.Record, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, errors.New("identity must not be empty")
	}
	params := url.Values{}
	params.Set("identity", identity)

	var raw json.RawMessage
	if err := c.do(ctx, "owned-items", http.MethodGet, "/owned-items?"+params.Encode(), nil, &raw); err != nil {
		return nil, err
	}
	return decodeItems(raw)
}

// Catalog returns the full item list.
func (c *Client) Catalog(ctx context.Context) ([]queue.Record, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "catalog", http.MethodGet, "/catalog", nil, &raw); err != nil {
		return nil, err
	}
	return decodeItems(raw)
}

// RegisterInstall records an install of itemID for identity and returns the
// remote install identifier.
func (c *Client) RegisterInstall(ctx context.Context, itemID, identity string) (string, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return "", errors.New("item id must not be empty")
	}
	var resp installResponse
	body := installRequest{ItemID: itemID, Identity: strings.TrimSpace(identity)}
	if err := c.do(ctx, "register-install", http.MethodPost, "/install", body, &resp); err != nil {
		return "", err
	}
	id := strings.TrimSpace(resp.RemoteInstallID)
	if id == "" {
		id = strings.TrimSpace(resp.ID)
	}
	if id == "" {
		return "", errors.New("registry register-install: response missing install id")
	}
	return id, nil
}

// RemoveInstall deletes a remote install record.
func (c *Client) RemoveInstall(ctx context.Context, remoteInstallID string) error {
	remoteInstallID = strings.TrimSpace(remoteInstallID)
	if remoteInstallID == "" {
		return ErrMissingRemoteID
	}
	return c.do(ctx, "remove-install", http.MethodDelete, "/install/"+url.PathEscape(remoteInstallID), nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	requestID, ok := logging.RequestIDFromContext(ctx)
	if !ok {
		requestID = uuid.NewString()
		ctx = logging.WithRequestID(ctx, requestID)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	logger := logging.WithContext(ctx, c.logger).With(logging.String("op", op))
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		logger.Debug("registry request failed", logging.Duration("latency", latency), logging.Error(err))
		return fmt.Errorf("registry %s (latency=%v): %w", op, latency, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		logger.Debug("registry request rejected", logging.Int("status", resp.StatusCode), logging.Duration("latency", latency))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}
	logger.Debug("registry request ok", logging.Int("status", resp.StatusCode), logging.Duration("latency", latency))

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

// decodeItems accepts either a bare JSON array or an {"items": [...]} envelope.
func decodeItems(raw json.RawMessage) ([]queue.Record, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var records []queue.Record
	if trimmed[0] == '{' {
		var env itemsEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("decode items envelope: %w", err)
		}
		records = env.Items
	} else if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}

	out := records[:0]
	for _, record := range records {
		record.ItemID = strings.TrimSpace(record.ItemID)
		if record.ItemID == "" {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}
