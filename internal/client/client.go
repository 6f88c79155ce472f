// Package client is the HTTP client for the node API: committed-state
// queries plus authenticated settlement submission.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/louisbranch/kiosk.market/internal/ledger"
	"github.com/louisbranch/kiosk.market/internal/node"
	"github.com/louisbranch/kiosk.market/internal/platform/errors"
	"github.com/louisbranch/kiosk.market/internal/settlement"
)

// Client talks to one node.
type Client struct {
	baseURL string
	httpc   *http.Client
	secret  []byte
}

// New creates a client for the node at baseURL. The secret mints
// submission tokens and must match the node's.
func New(baseURL string, secret []byte) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Transport: otelhttp.NewTransport(nil)},
		secret:  secret,
	}
}

// FindKiosk resolves the kiosk an account controls. With personal set it
// resolves through the account's delegated-access capability.
func (c *Client) FindKiosk(ctx context.Context, addr ledger.Address, personal bool) (node.KioskLookupResponse, error) {
	path := "/v1/accounts/" + url.PathEscape(string(addr)) + "/kiosk"
	if personal {
		path += "?personal=true"
	}
	var out node.KioskLookupResponse
	return out, c.get(ctx, path, &out)
}

// Listing fetches one active listing.
func (c *Client) Listing(ctx context.Context, kioskID, assetID ledger.ObjectID) (node.ListingResponse, error) {
	path := "/v1/kiosks/" + url.PathEscape(string(kioskID)) + "/listings/" + url.PathEscape(string(assetID))
	var out node.ListingResponse
	return out, c.get(ctx, path, &out)
}

// Policy fetches one transfer policy.
func (c *Client) Policy(ctx context.Context, policyID ledger.ObjectID) (node.PolicyResponse, error) {
	var out node.PolicyResponse
	return out, c.get(ctx, "/v1/policies/"+url.PathEscape(string(policyID)), &out)
}

// Object fetches one raw object envelope.
func (c *Client) Object(ctx context.Context, objID ledger.ObjectID) (node.ObjectResponse, error) {
	var out node.ObjectResponse
	return out, c.get(ctx, "/v1/objects/"+url.PathEscape(string(objID)), &out)
}

// Submit executes a settlement signed by the given address.
func (c *Client) Submit(ctx context.Context, signer ledger.Address, env settlement.Envelope) (node.SettlementResponse, error) {
	body, err := settlement.Encode(env)
	if err != nil {
		return node.SettlementResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/settlements", bytes.NewReader(body))
	if err != nil {
		return node.SettlementResponse{}, fmt.Errorf("build settlement request: %w", err)
	}
	token, err := node.SignToken(c.secret, signer)
	if err != nil {
		return node.SettlementResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	var out node.SettlementResponse
	return out, c.do(req, &out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError turns a coded error envelope back into a domain error, so
// callers can match on codes across the HTTP boundary.
func decodeError(status int, raw []byte) error {
	var envelope node.ErrorEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error.Code == "" {
		return errors.New(errors.CodeUnknown, fmt.Sprintf("node returned status %d: %s", status, raw))
	}
	return errors.WithMetadata(envelope.Error.Code, envelope.Error.Message, envelope.Error.Metadata)
}
