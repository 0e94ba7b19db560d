// Package gateway implements external API adapters
// Following Hexagonal Architecture: Outbound adapters for external services
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/ports"
)

// Sentinel errors mapped from the Evolution API's response status codes.
var (
	ErrUnauthorized     = errors.New("evolution api: unauthorized")
	ErrRateLimited      = errors.New("evolution api: rate limited")
	ErrInstanceNotFound = errors.New("evolution api: instance not found")
)

// listTimeout is long: fetchAllGroups/findChats can be slow against large
// WhatsApp accounts. sendTimeout covers everything else.
const (
	listTimeout = 10 * time.Minute
	sendTimeout = 30 * time.Second
)

// EvolutionClient implements ports.ProviderClient against a self-hosted
// Evolution API instance.
type EvolutionClient struct {
	listHTTP *http.Client
	sendHTTP *http.Client
	baseURL  string
	apiKey   string
}

// NewEvolutionClient creates a new Evolution API client.
func NewEvolutionClient(baseURL, apiKey string) *EvolutionClient {
	return &EvolutionClient{
		listHTTP: &http.Client{Timeout: listTimeout},
		sendHTTP: &http.Client{Timeout: sendTimeout},
		baseURL:  baseURL,
		apiKey:   apiKey,
	}
}

var _ ports.ProviderClient = (*EvolutionClient)(nil)

// EnsureInstance creates instance name if it does not already exist.
func (c *EvolutionClient) EnsureInstance(ctx context.Context, name string) (ports.InstanceOutcome, error) {
	body := map[string]any{
		"instanceName": name,
		"qrcode":       true,
		"integration":  "WHATSAPP-BAILEYS",
	}
	resp, respBody, err := c.doJSON(ctx, c.sendHTTP, http.MethodPost, "/instance/create", body)
	if err != nil {
		return "", fmt.Errorf("ensure instance: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return ports.InstanceAlreadyExists, nil
	}
	if err := c.errorFromStatus(resp.StatusCode, respBody); err != nil {
		return "", fmt.Errorf("ensure instance: %w", err)
	}

	slog.Info("evolution instance created", "instance", name)
	return ports.InstanceCreated, nil
}

// RequestQR retrieves the pairing challenge for instance name.
func (c *EvolutionClient) RequestQR(ctx context.Context, name string) (*ports.QRPayload, error) {
	resp, body, err := c.doJSON(ctx, c.sendHTTP, http.MethodGet, "/instance/connect/"+name, nil)
	if err != nil {
		return nil, fmt.Errorf("request qr: %w", err)
	}
	defer resp.Body.Close()
	if err := c.errorFromStatus(resp.StatusCode, body); err != nil {
		return nil, fmt.Errorf("request qr: %w", err)
	}

	var parsed struct {
		Base64      string `json:"base64"`
		Code        string `json:"code"`
		PairingCode string `json:"pairingCode"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("request qr: decode response: %w", err)
	}

	if parsed.Base64 != "" {
		return &ports.QRPayload{Payload: parsed.Base64, Kind: "image", TTLSeconds: 60}, nil
	}
	return &ports.QRPayload{Payload: parsed.PairingCode, Kind: "code", TTLSeconds: 60}, nil
}

// ConnectionStatus folds Evolution's native open/connecting/close vocabulary
// into the gateway's four-state enum.
func (c *EvolutionClient) ConnectionStatus(ctx context.Context, name string) (*ports.StatusResult, error) {
	resp, body, err := c.doJSON(ctx, c.sendHTTP, http.MethodGet, "/instance/connectionState/"+name, nil)
	if err != nil {
		return nil, fmt.Errorf("connection status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return &ports.StatusResult{State: ports.ConnectionDisconnected}, nil
	}
	if err := c.errorFromStatus(resp.StatusCode, body); err != nil {
		return nil, fmt.Errorf("connection status: %w", err)
	}

	var parsed struct {
		Instance struct {
			State string `json:"state"`
		} `json:"instance"`
		Number string `json:"number"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("connection status: decode response: %w", err)
	}

	return &ports.StatusResult{State: foldConnectionState(parsed.Instance.State), Phone: parsed.Number}, nil
}

func foldConnectionState(native string) ports.ConnectionState {
	switch native {
	case "open":
		return ports.ConnectionConnected
	case "connecting":
		return ports.ConnectionConnecting
	case "close":
		return ports.ConnectionDisconnected
	default:
		return ports.ConnectionDisconnected
	}
}

// Disconnect logs the instance out of the WhatsApp session.
func (c *EvolutionClient) Disconnect(ctx context.Context, name string) error {
	resp, body, err := c.doJSON(ctx, c.sendHTTP, http.MethodDelete, "/instance/logout/"+name, nil)
	if err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	defer resp.Body.Close()
	return c.errorFromStatus(resp.StatusCode, body)
}

// ListGroups attempts the primary groups endpoint, then falls back to the
// generic chat listing filtered to groups, unioning by id.
func (c *EvolutionClient) ListGroups(ctx context.Context, name string) ([]ports.GroupOrContact, error) {
	primary, err := c.fetchGroupsPrimary(ctx, name)
	if err != nil {
		slog.Error("evolution: fetchAllGroups failed", "error", err, "instance", name)
	}

	fallback, err := c.fetchChats(ctx, name, true)
	if err != nil {
		slog.Error("evolution: findChats fallback failed", "error", err, "instance", name)
	}

	return unionByID(primary, fallback), nil
}

// ListContacts attempts the primary contacts endpoint, then falls back to
// the generic chat listing filtered to direct chats, unioning by id.
func (c *EvolutionClient) ListContacts(ctx context.Context, name string) ([]ports.GroupOrContact, error) {
	primary, err := c.fetchContactsPrimary(ctx, name)
	if err != nil {
		slog.Error("evolution: findContacts failed", "error", err, "instance", name)
	}

	fallback, err := c.fetchChats(ctx, name, false)
	if err != nil {
		slog.Error("evolution: findChats fallback failed", "error", err, "instance", name)
	}

	return unionByID(primary, fallback), nil
}

func (c *EvolutionClient) fetchGroupsPrimary(ctx context.Context, name string) ([]ports.GroupOrContact, error) {
	resp, body, err := c.doJSON(ctx, c.listHTTP, http.MethodGet, "/group/fetchAllGroups/"+name+"?getParticipants=false", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := c.errorFromStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	var raw []struct {
		ID      string `json:"id"`
		Subject string `json:"subject"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode groups: %w", err)
	}

	out := make([]ports.GroupOrContact, 0, len(raw))
	for _, g := range raw {
		out = append(out, ports.GroupOrContact{ID: g.ID, Name: g.Subject, IsGroup: true})
	}
	return out, nil
}

func (c *EvolutionClient) fetchContactsPrimary(ctx context.Context, name string) ([]ports.GroupOrContact, error) {
	resp, body, err := c.doJSON(ctx, c.listHTTP, http.MethodGet, "/chat/findContacts/"+name, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := c.errorFromStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	var raw []struct {
		ID       string `json:"id"`
		PushName string `json:"pushName"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode contacts: %w", err)
	}

	out := make([]ports.GroupOrContact, 0, len(raw))
	for _, cItem := range raw {
		out = append(out, ports.GroupOrContact{ID: cItem.ID, Name: cItem.PushName})
	}
	return out, nil
}

func (c *EvolutionClient) fetchChats(ctx context.Context, name string, groupsOnly bool) ([]ports.GroupOrContact, error) {
	resp, body, err := c.doJSON(ctx, c.listHTTP, http.MethodGet, "/chat/findChats/"+name, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := c.errorFromStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	var raw []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode chats: %w", err)
	}

	out := make([]ports.GroupOrContact, 0, len(raw))
	for _, ch := range raw {
		isGroup := hasSuffix(ch.ID, "@g.us")
		if isGroup != groupsOnly {
			continue
		}
		out = append(out, ports.GroupOrContact{ID: ch.ID, Name: ch.Name, IsGroup: isGroup})
	}
	return out, nil
}

func unionByID(a, b []ports.GroupOrContact) []ports.GroupOrContact {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]ports.GroupOrContact, 0, len(a)+len(b))
	for _, item := range a {
		if !seen[item.ID] {
			seen[item.ID] = true
			out = append(out, item)
		}
	}
	for _, item := range b {
		if !seen[item.ID] {
			seen[item.ID] = true
			out = append(out, item)
		}
	}
	return out
}

func hasSuffix(id, suffix string) bool {
	return len(id) >= len(suffix) && id[len(id)-len(suffix):] == suffix
}

// SendText sends a text message to to via instance name.
func (c *EvolutionClient) SendText(ctx context.Context, name, to, text string) (string, error) {
	body := map[string]any{"number": to, "text": text}
	resp, respBody, err := c.doJSON(ctx, c.sendHTTP, http.MethodPost, "/message/sendText/"+name, body)
	if err != nil {
		return "", fmt.Errorf("send text: %w", err)
	}
	defer resp.Body.Close()
	if err := c.errorFromStatus(resp.StatusCode, respBody); err != nil {
		return "", fmt.Errorf("send text: %w", err)
	}

	var parsed struct {
		Key struct {
			ID string `json:"id"`
		} `json:"key"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		slog.Warn("send text: could not parse response for message id", "error", err)
		return "", nil
	}

	slog.Info("sent whatsapp text", "instance", name, "to", to, "message_id", parsed.Key.ID)
	return parsed.Key.ID, nil
}

// SendMedia sends a media message to to via instance name.
func (c *EvolutionClient) SendMedia(ctx context.Context, name, to, url string, kind ports.MediaKind, caption string) (string, error) {
	body := map[string]any{
		"number":    to,
		"mediatype": string(kind),
		"media":     url,
		"caption":   caption,
	}
	resp, respBody, err := c.doJSON(ctx, c.sendHTTP, http.MethodPost, "/message/sendMedia/"+name, body)
	if err != nil {
		return "", fmt.Errorf("send media: %w", err)
	}
	defer resp.Body.Close()
	if err := c.errorFromStatus(resp.StatusCode, respBody); err != nil {
		return "", fmt.Errorf("send media: %w", err)
	}

	var parsed struct {
		Key struct {
			ID string `json:"id"`
		} `json:"key"`
	}
	_ = json.Unmarshal(respBody, &parsed)
	return parsed.Key.ID, nil
}

// ConfigureWebhook points the instance's webhook at url for eventKinds.
func (c *EvolutionClient) ConfigureWebhook(ctx context.Context, name, url string, eventKinds []string) error {
	body := map[string]any{
		"webhook": map[string]any{
			"url":     url,
			"enabled": true,
			"events":  eventKinds,
		},
	}
	resp, respBody, err := c.doJSON(ctx, c.sendHTTP, http.MethodPost, "/webhook/set/"+name, body)
	if err != nil {
		return fmt.Errorf("configure webhook: %w", err)
	}
	defer resp.Body.Close()
	return c.errorFromStatus(resp.StatusCode, respBody)
}

// ApplySettings updates instance-level settings (e.g. always_online, read_messages).
func (c *EvolutionClient) ApplySettings(ctx context.Context, name string, settings map[string]any) error {
	resp, respBody, err := c.doJSON(ctx, c.sendHTTP, http.MethodPost, "/settings/set/"+name, settings)
	if err != nil {
		return fmt.Errorf("apply settings: %w", err)
	}
	defer resp.Body.Close()
	return c.errorFromStatus(resp.StatusCode, respBody)
}

// doJSON issues the request with up to maxAttempts tries, retrying only
// transport-level failures (timeouts, connection resets) with linear
// backoff; a response that merely carries a 4xx/5xx status is not an error
// at this layer (errorFromStatus classifies it afterwards) and is never
// retried here.
func (c *EvolutionClient) doJSON(ctx context.Context, client *http.Client, method, path string, payload any) (*http.Response, []byte, error) {
	const maxAttempts = 3

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, body, err := c.doJSONAttempt(ctx, client, method, path, payload)
		if err == nil {
			return resp, body, nil
		}
		lastErr = err

		if attempt < maxAttempts {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			slog.Warn("retrying evolution api call", "attempt", attempt, "max_attempts", maxAttempts,
				"backoff_ms", backoff.Milliseconds(), "path", path, "error", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
		}
	}
	return nil, nil, fmt.Errorf("evolution api call failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *EvolutionClient) doJSONAttempt(ctx context.Context, client *http.Client, method, path string, payload any) (*http.Response, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("do request: %w", err)
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return resp, nil, fmt.Errorf("read response: %w", err)
	}

	// Reconstruct resp.Body so callers using `defer resp.Body.Close()` don't panic.
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, body, nil
}

func (c *EvolutionClient) errorFromStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusNotFound:
		return ErrInstanceNotFound
	default:
		return fmt.Errorf("evolution api error (status %d): %s", status, string(body))
	}
}
