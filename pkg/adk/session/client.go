package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	adkerrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
	"github.com/kagent-dev/supportagent/pkg/adk/events"
)

// Client talks to the session API of a running agent server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new Client. Turns can take several engine rounds, so
// the default timeout is generous.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

func (c *Client) do(ctx context.Context, code, method, path string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return adkerrors.New(code, "failed to marshal request", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return adkerrors.New(code, "failed to create request", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return adkerrors.New(code, "failed to send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return adkerrors.New(code, fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(data)), nil)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return adkerrors.New(code, "failed to decode response", err)
	}
	return nil
}

// CreateSession opens a session on the server with the given backend token.
func (c *Client) CreateSession(ctx context.Context, req *CreateSessionRequest) (*View, error) {
	var view View
	if err := c.do(ctx, adkerrors.ErrCodeSessionCreate, http.MethodPost, "/api/sessions", req, http.StatusCreated, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// GetSession returns the session including its transcript.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*View, error) {
	var view View
	if err := c.do(ctx, adkerrors.ErrCodeSessionGet, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID), nil, http.StatusOK, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *Client) ListSessions(ctx context.Context, userID string) ([]View, error) {
	var views []View
	path := "/api/sessions?user_id=" + url.QueryEscape(userID)
	if err := c.do(ctx, adkerrors.ErrCodeSessionGet, http.MethodGet, path, nil, http.StatusOK, &views); err != nil {
		return nil, err
	}
	return views, nil
}

// SendMessage runs one user turn and returns the final assistant message.
func (c *Client) SendMessage(ctx context.Context, sessionID, message string) (*SendMessageResponse, error) {
	var resp SendMessageResponse
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := c.do(ctx, adkerrors.ErrCodeExecutorFailed, http.MethodPost, path, SendMessageRequest{Message: message}, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Turns returns the transcript entries after seq.
func (c *Client) Turns(ctx context.Context, sessionID string, since int) ([]Turn, error) {
	var turns []Turn
	path := fmt.Sprintf("/api/sessions/%s/turns?since=%d", url.PathEscape(sessionID), since)
	if err := c.do(ctx, adkerrors.ErrCodeSessionGet, http.MethodGet, path, nil, http.StatusOK, &turns); err != nil {
		return nil, err
	}
	return turns, nil
}

// StreamMessage runs one user turn and calls fn for every progress update as
// it arrives. It returns the final update.
func (c *Client) StreamMessage(ctx context.Context, sessionID, message string, fn func(*events.StatusUpdate)) (*events.StatusUpdate, error) {
	data, err := json.Marshal(SendMessageRequest{Message: message})
	if err != nil {
		return nil, adkerrors.New(adkerrors.ErrCodeExecutorFailed, "failed to marshal request", err)
	}
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/messages?stream=true"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, adkerrors.New(adkerrors.ErrCodeExecutorFailed, "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, adkerrors.New(adkerrors.ErrCodeExecutorFailed, "failed to send request", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, adkerrors.New(adkerrors.ErrCodeExecutorFailed, fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body)), nil)
	}

	var last *events.StatusUpdate
	dec := json.NewDecoder(resp.Body)
	for {
		var u events.StatusUpdate
		if err := dec.Decode(&u); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return last, adkerrors.New(adkerrors.ErrCodeExecutorFailed, "failed to decode update", err)
		}
		last = &u
		if fn != nil {
			fn(last)
		}
	}
	if last == nil || !last.Final {
		return last, adkerrors.New(adkerrors.ErrCodeExecutorFailed, "stream ended before the turn finished", nil)
	}
	return last, nil
}

// DeleteSession removes a session from the server.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, adkerrors.ErrCodeSessionDelete, http.MethodDelete, "/api/sessions/"+url.PathEscape(sessionID), nil, http.StatusNoContent, nil)
}
