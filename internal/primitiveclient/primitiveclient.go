// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package primitiveclient implements transform.Primitive: an HTTP client
// for the external transform primitive, carrying the opaque options
// bundle as query parameters on a request to a configured endpoint and
// decoding the `format=json` metadata-probe response.
//
// Grounded on internal/mcpproxy/mcpproxy.go's bare `http.Client{}` usage
// ("No timeout as it's enforced at Envoy level") — this client is
// likewise timeout-free by default, leaving request deadlines to the
// caller's context. JSON decoding uses stdlib encoding/json rather than
// the original gateway's internal/json wrapper, which re-exports
// github.com/bytedance/sonic: sonic is absent from that gateway's own
// go.mod/go.sum despite that import, so it isn't a dependency this
// package can ground an adoption in (see DESIGN.md).
package primitiveclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/imgedge/proxy/internal/transform"
)

// Client calls a transform primitive reachable at a fixed endpoint,
// forwarding the source URL and options bundle as query parameters.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New builds a Client. endpoint is the base URL of the transform
// primitive service; httpClient may be nil to use http.DefaultClient.
func New(endpoint string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{endpoint: endpoint, httpClient: httpClient}
}

type metadataEnvelope struct {
	Metadata struct {
		Width       float64 `json:"width"`
		Height      float64 `json:"height"`
		Format      string  `json:"format"`
		Orientation int     `json:"orientation,omitempty"`
	} `json:"metadata"`
}

// Transform implements transform.Primitive.
func (c *Client) Transform(ctx context.Context, sourceURL string, options map[string]string) (*transform.PrimitiveResult, error) {
	req, err := c.buildRequest(ctx, sourceURL, options)
	if err != nil {
		return nil, fmt.Errorf("primitiveclient: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("primitiveclient: fetch: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("primitiveclient: status %d", resp.StatusCode)
	}

	if options["format"] == "json" {
		defer resp.Body.Close()
		var env metadataEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return nil, fmt.Errorf("primitiveclient: decode metadata: %w", err)
		}
		return &transform.PrimitiveResult{
			StatusCode: resp.StatusCode,
			Width:      env.Metadata.Width,
			Height:     env.Metadata.Height,
		}, nil
	}

	return &transform.PrimitiveResult{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        resp.Body,
	}, nil
}

// buildRequest renders sourceURL and options onto the configured
// endpoint as query parameters, leaving the primitive's option
// vocabulary and response shape up to the caller's configuration
// rather than mandating a wire format here.
func (c *Client) buildRequest(ctx context.Context, sourceURL string, options map[string]string) (*http.Request, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("url", sourceURL)
	for k, v := range options {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}
