package status

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"peerlink/internal/domain"
)

// Client talks to a node's status API.
type Client struct {
	Base string
	HTTP *http.Client
}

// NewClient returns a client for addr, which is either host:port or a full
// base URL.
func NewClient(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{Base: base, HTTP: http.DefaultClient}
}

func (c *Client) Status(ctx context.Context) (Summary, error) {
	var out Summary
	return out, c.getJSON(ctx, "/api/status", &out)
}

func (c *Client) Peers(ctx context.Context) ([]domain.PeerRecord, error) {
	var out []domain.PeerRecord
	return out, c.getJSON(ctx, "/api/peers", &out)
}

func (c *Client) Sessions(ctx context.Context) ([]domain.SessionInfo, error) {
	var out []domain.SessionInfo
	return out, c.getJSON(ctx, "/api/sessions", &out)
}

// Connect asks the node to open a session with addr.
func (c *Client) Connect(ctx context.Context, addr string) (domain.SessionInfo, error) {
	var out domain.SessionInfo
	return out, c.post(ctx, "/api/connect", ConnectRequest{Address: addr}, &out)
}

// Send asks the node to deliver body to peer as a message of kind.
func (c *Client) Send(ctx context.Context, peer domain.PeerIdentity, kind domain.MessageKind, body string) error {
	return c.post(ctx, "/api/send", SendRequest{Peer: peer, Kind: kind, Body: body}, nil)
}

func (c *Client) post(ctx context.Context, path string, in any, out any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		var e errorBody
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s: %s", req.Method, req.URL.Path, resp.Status, e.Error)
		}
		return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
