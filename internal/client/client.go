// ABOUTME: HTTP client for recorder-gateway used by the CLI and end-to-end tests
// ABOUTME: Performs the registration handshake and signs privileged requests

package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/2389/recorder-gateway/internal/auth"
	"github.com/2389/recorder-gateway/internal/control"
	"github.com/2389/recorder-gateway/internal/handshake"
	"github.com/2389/recorder-gateway/internal/register"
)

// APIError is a non-2xx response from the gateway.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Message)
}

// Client talks to one gateway.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a client for the gateway at baseURL. A nil httpClient uses
// http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  httpClient,
	}
}

// Register runs the handshake for a new app and returns its credentials.
// The call blocks while the gateway asks the user for consent.
func (c *Client) Register(ctx context.Context, id, name string) (*Credentials, error) {
	secret, public, err := handshake.GenerateKeyPair(nil)
	if err != nil {
		return nil, err
	}

	reqBody, err := json.Marshal(register.Request{
		ID:        id,
		Name:      name,
		PublicKey: base64.StdEncoding.EncodeToString(public),
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	var resp register.Response
	if err := c.post(ctx, "/register", nil, reqBody, &resp); err != nil {
		return nil, err
	}

	sealed, err := base64.StdEncoding.DecodeString(resp.Key)
	if err != nil {
		return nil, fmt.Errorf("decoding key: %w", err)
	}
	serverPublic, err := base64.StdEncoding.DecodeString(resp.SharedPublic)
	if err != nil {
		return nil, fmt.Errorf("decoding shared_public: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(resp.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decoding nonce: %w", err)
	}

	key, err := handshake.OpenKey(secret, serverPublic, nonce, sealed)
	if err != nil {
		return nil, fmt.Errorf("opening issued key: %w", err)
	}

	return &Credentials{ID: id, Name: name, PrivateKey: key.Seed(), BaseURL: c.baseURL}, nil
}

// Do sends a signed POST to path and decodes a JSON response into out
// (which may be nil).
func (c *Client) Do(ctx context.Context, creds *Credentials, path string, body []byte, out any) error {
	key, err := creds.SigningKey()
	if err != nil {
		return err
	}
	headers := http.Header{}
	headers.Set(auth.HeaderAppID, creds.ID)
	headers.Set(auth.HeaderSignature, auth.Sign(key, body))
	return c.post(ctx, path, headers, body, out)
}

// Start begins recording, under filenameFormat when it is not empty.
func (c *Client) Start(ctx context.Context, creds *Credentials, filenameFormat string) (*control.Status, error) {
	return c.action(ctx, creds, control.ActionStart, []byte(filenameFormat))
}

// Stop ends the current recording.
func (c *Client) Stop(ctx context.Context, creds *Credentials) (*control.Status, error) {
	return c.action(ctx, creds, control.ActionStop, nil)
}

// Status reports the recording state.
func (c *Client) Status(ctx context.Context, creds *Credentials) (*control.Status, error) {
	return c.action(ctx, creds, control.ActionStatus, nil)
}

func (c *Client) action(ctx context.Context, creds *Credentials, action control.Action, body []byte) (*control.Status, error) {
	var status control.Status
	if err := c.Do(ctx, creds, "/recording/"+string(action), body, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) post(ctx context.Context, path string, headers http.Header, body []byte, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	for k, v := range headers {
		httpReq.Header[k] = v
	}
	if path == "/register" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// handleErrorResponse extracts the message from a non-200 response.
func handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	var errResp struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Message != "" {
		return &APIError{Status: resp.StatusCode, Message: errResp.Message}
	}
	return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}
