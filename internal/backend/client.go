// Package backend is the REST client for the support backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/matheus3301/desk/internal/domain"
	"github.com/matheus3301/desk/internal/wire"
)

// DefaultTimeout bounds every request when no timeout is configured.
const DefaultTimeout = 15 * time.Second

// StatusError is a non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client talks to the backend REST API.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// New creates a client for baseURL, authenticating with a bearer token.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  &http.Client{Timeout: timeout},
	}
}

// ListConversations returns the operator's conversations with their unread
// counters.
func (c *Client) ListConversations(ctx context.Context) ([]wire.Conversation, error) {
	var out []wire.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchMessages returns the history of a conversation.
func (c *Client) FetchMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var raw []wire.Message
	if err := c.do(ctx, http.MethodGet, convPath(conversationID, "messages"), nil, &raw); err != nil {
		return nil, err
	}
	out := make([]domain.Message, 0, len(raw))
	for i := range raw {
		m := raw[i].ToDomain()
		if m.ConversationID == "" {
			m.ConversationID = conversationID
		}
		out = append(out, m.WithDefaults())
	}
	return out, nil
}

// PersistReadState stores the read position of a conversation.
func (c *Client) PersistReadState(ctx context.Context, conversationID string, counter int, lastChecked time.Time) error {
	body := wire.ReadState{Counter: counter, LastCheckedMs: lastChecked.UnixMilli()}
	return c.do(ctx, http.MethodPut, convPath(conversationID, "read"), body, nil)
}

// SendMessage submits an outbound message and returns the confirmed copy.
func (c *Client) SendMessage(ctx context.Context, conversationID string, req wire.SendRequest) (domain.Message, error) {
	var raw wire.Message
	if err := c.do(ctx, http.MethodPost, convPath(conversationID, "messages"), req, &raw); err != nil {
		return domain.Message{}, err
	}
	m := raw.ToDomain()
	if m.ConversationID == "" {
		m.ConversationID = conversationID
	}
	if m.ClientID == "" {
		m.ClientID = req.ClientID
	}
	if m.Direction == "" {
		m.Direction = domain.Outbound
	}
	return m.WithDefaults(), nil
}

// CloseConversation closes the ticket of a conversation.
func (c *Client) CloseConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, convPath(conversationID, "close"), nil, nil)
}

// SetPresence reports whether the operator is available.
func (c *Client) SetPresence(ctx context.Context, online bool) error {
	return c.do(ctx, http.MethodPut, "/api/agent/presence", wire.Presence{Online: online}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func convPath(conversationID, suffix string) string {
	return "/api/conversations/" + url.PathEscape(conversationID) + "/" + suffix
}
