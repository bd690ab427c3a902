// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package backendauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/imgedge/proxy/internal/config"
)

// bearerTokenTTL is how long a minted opaque token is reused before
// domainTokenSource mints a fresh one.
const bearerTokenTTL = 5 * time.Minute

// domainTokenSource mints an opaque bearer token for one target domain.
// It implements oauth2.TokenSource so golang.org/x/oauth2's
// ReuseTokenSource can cache and refresh it exactly like a real OAuth2
// client-credentials token, without this system ever talking to a token
// endpoint.
type domainTokenSource struct {
	secret []byte
	domain string
}

func (s *domainTokenSource) Token() (*oauth2.Token, error) {
	ts := time.Now()
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(s.domain))
	mac.Write([]byte("."))
	mac.Write([]byte(ts.Format(time.RFC3339)))
	token := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return &oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
		Expiry:      ts.Add(bearerTokenTTL),
	}, nil
}

// bearerHandler implements the `bearer` mode. Grounded on
// internal/extproc/backendauth/azure.go's azureHandler, which reads a
// secret once at construction and sets a single Authorization header;
// generalized here to mint (rather than read from a file) and to cache
// per-domain via oauth2.ReuseTokenSource.
type bearerHandler struct {
	secret []byte
	desc   *config.AuthDescriptor

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

func newBearerHandler(desc *config.AuthDescriptor) (Handler, error) {
	secret := os.Getenv(desc.TokenEnvVar)
	if secret == "" {
		return nil, fmt.Errorf("backendauth: bearer: env var %q is unset", desc.TokenEnvVar)
	}
	return &bearerHandler{secret: []byte(secret), desc: desc, sources: make(map[string]oauth2.TokenSource)}, nil
}

func (h *bearerHandler) Sign(_ context.Context, rawURL string) (Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return failOrPermissive(h.desc, fmt.Errorf("backendauth: bearer: parse url: %w", err))
	}

	h.mu.Lock()
	src, ok := h.sources[u.Host]
	if !ok {
		src = oauth2.ReuseTokenSource(nil, &domainTokenSource{secret: h.secret, domain: u.Host})
		h.sources[u.Host] = src
	}
	h.mu.Unlock()

	tok, err := src.Token()
	if err != nil {
		return failOrPermissive(h.desc, fmt.Errorf("backendauth: bearer: mint token: %w", err))
	}
	return Result{Headers: map[string]string{"Authorization": "Bearer " + tok.AccessToken}, OK: true}, nil
}
