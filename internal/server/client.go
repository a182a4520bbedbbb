package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/rpc/v2/json2"
)

// Client calls the JSON-RPC endpoint of an admin server.
type Client struct {
	URL  string
	HTTP *http.Client
}

// NewClient accepts a base URL such as http://localhost:9400.
func NewClient(baseURL string) *Client {
	return &Client{
		URL:  strings.TrimRight(baseURL, "/") + "/rpc",
		HTTP: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Call(ctx context.Context, method string, args, reply any) error {
	body, err := json2.EncodeClientRequest(method, args)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("issue request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("received status code: %d", resp.StatusCode)
	}
	return json2.DecodeClientResponse(resp.Body, reply)
}

func (c *Client) Lookup(ctx context.Context, key string) (LookupReply, error) {
	var reply LookupReply
	err := c.Call(ctx, RPCService+".Lookup", &LookupArgs{Key: key}, &reply)
	return reply, err
}

func (c *Client) Fingerprint(ctx context.Context) (FingerprintReply, error) {
	var reply FingerprintReply
	err := c.Call(ctx, RPCService+".Fingerprint", &FingerprintArgs{}, &reply)
	return reply, err
}

func (c *Client) Decode(ctx context.Context, frameHex string) (DecodeReply, error) {
	var reply DecodeReply
	err := c.Call(ctx, RPCService+".Decode", &DecodeArgs{Frame: frameHex}, &reply)
	return reply, err
}

func (c *Client) Resolve(ctx context.Context, consumer string) (ResolveReply, error) {
	var reply ResolveReply
	err := c.Call(ctx, RPCService+".Resolve", &ResolveArgs{Consumer: consumer}, &reply)
	return reply, err
}
