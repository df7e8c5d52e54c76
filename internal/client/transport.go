package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/roach88/statesync/internal/api"
)

// Transport carries the two sync round trips.
type Transport interface {
	Fetch(ctx context.Context, clientID string) (api.FetchResponse, error)
	Push(ctx context.Context, clientID string, req api.PushRequest) (api.PushResponse, error)
}

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 64 << 20

// HTTPTransport talks to a statesync server over HTTP.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport returns a transport for the server at baseURL. A nil
// client means http.DefaultClient; deadlines come from the request context.
func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (t *HTTPTransport) Fetch(ctx context.Context, clientID string) (api.FetchResponse, error) {
	var resp api.FetchResponse
	err := t.do(ctx, "fetch", http.MethodGet, clientID, nil, &resp)
	return resp, err
}

func (t *HTTPTransport) Push(ctx context.Context, clientID string, req api.PushRequest) (api.PushResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return api.PushResponse{}, fmt.Errorf("push: encode request: %w", err)
	}
	var resp api.PushResponse
	err = t.do(ctx, "push", http.MethodPut, clientID, body, &resp)
	return resp, err
}

func (t *HTTPTransport) do(ctx context.Context, op, method, clientID string, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+api.SyncPath(clientID), r)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := t.client.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return &TransportError{Op: op, Status: res.StatusCode, Err: err}
	}

	if res.StatusCode != http.StatusOK {
		var e api.ErrorResponse
		_ = json.Unmarshal(data, &e)
		return &TransportError{Op: op, Status: res.StatusCode, Message: e.Error}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return &TransportError{Op: op, Status: res.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
