package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Structs

// Client talks to the API of a running peer.
type Client struct {
	base string
	http *http.Client
}

// StatusError is returned for every answer
// that does not carry a success status.
type StatusError struct {
	Code    int
	Message string
}

// Functions

// NewClient returns a client for the API listening
// on addr, with or without scheme.
func NewClient(addr string) *Client {

	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}

	return &Client{
		base: strings.TrimSuffix(addr, "/") + "/api/v1",
		http: &http.Client{},
	}
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

// Status fetches membership and view summary.
func (c *Client) Status(ctx context.Context) (*Status, error) {

	st := new(Status)
	if err := c.do(ctx, http.MethodGet, "/status", nil, st); err != nil {
		return nil, err
	}

	return st, nil
}

// CreateSpace bootstraps a new space on the peer.
func (c *Client) CreateSpace(ctx context.Context) (string, error) {

	var body rootBody
	if err := c.do(ctx, http.MethodPost, "/space", nil, &body); err != nil {
		return "", err
	}

	return body.Root, nil
}

// Join blocks until the peer joined the space of token
// or gave up waiting for it.
func (c *Client) Join(ctx context.Context, token string) (*Status, error) {

	payload, err := json.Marshal(tokenBody{Token: token})
	if err != nil {
		return nil, err
	}

	st := new(Status)
	if err := c.do(ctx, http.MethodPost, "/join", payload, st); err != nil {
		return nil, err
	}

	return st, nil
}

// RetryJoin waits again for a join that timed out.
func (c *Client) RetryJoin(ctx context.Context) (*Status, error) {

	st := new(Status)
	if err := c.do(ctx, http.MethodPost, "/join/retry", nil, st); err != nil {
		return nil, err
	}

	return st, nil
}

// CancelJoin aborts a join in progress.
func (c *Client) CancelJoin(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/join", nil, nil)
}

// Invite opens an invite and returns its token.
func (c *Client) Invite(ctx context.Context) (string, error) {

	var body tokenBody
	if err := c.do(ctx, http.MethodPost, "/invites", nil, &body); err != nil {
		return "", err
	}

	return body.Token, nil
}

// List returns the files of the space.
func (c *Client) List(ctx context.Context) ([]File, error) {

	var files []File
	if err := c.do(ctx, http.MethodGet, "/files", nil, &files); err != nil {
		return nil, err
	}

	return files, nil
}

// Put uploads blob as filename.
func (c *Client) Put(ctx context.Context, filename string, blob []byte) (*File, error) {

	f := new(File)
	if err := c.do(ctx, http.MethodPut, "/files/"+url.PathEscape(filename), blob, f); err != nil {
		return nil, err
	}

	return f, nil
}

// Get downloads the content of filename.
func (c *Client) Get(ctx context.Context, filename string) ([]byte, error) {

	var blob []byte
	if err := c.do(ctx, http.MethodGet, "/files/"+url.PathEscape(filename), nil, &blob); err != nil {
		return nil, err
	}

	return blob, nil
}

// do sends one request. A *[]byte out receives the
// raw body, any other non-nil out the decoded JSON.
func (c *Client) do(ctx context.Context, method string, path string, payload []byte, out interface{}) error {

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {

		var e errorBody
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}

		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}

	switch out := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*out = data
		return nil
	default:
		return json.Unmarshal(data, out)
	}
}
