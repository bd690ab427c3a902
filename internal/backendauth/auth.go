// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package backendauth implements the Auth Provider:
// given a fetch URL and an Auth Descriptor, produce the headers (or
// rewritten URL) needed to authenticate the origin request.
//
// The New(authEnabled, descriptor) (Handler, error) switch-on-config-shape
// entrypoint, and the one-small-struct-per-kind layout, are grounded on
// the equivalent NewHandler in the original gateway's backend-auth
// package; the read-a-secret-then-set-a-bearer-header shape of
// bearerHandler is modelled on that gateway's
// internal/extproc/backendauth/azure.go azureHandler.
package backendauth

import (
	"context"
	"fmt"

	"github.com/imgedge/proxy/internal/config"
)

// Result is an Auth Provider's output: either a set of headers to merge
// into the outgoing fetch, or a fully rewritten signed URL, plus whether
// signing succeeded.
type Result struct {
	Headers   map[string]string
	SignedURL string
	OK        bool
}

// Handler is the per-kind Auth Provider implementation.
type Handler interface {
	// Sign computes the auth Result for a GET against rawURL.
	Sign(ctx context.Context, rawURL string) (Result, error)
}

// noopHandler implements both the `none` kind and the globally-disabled
// fast path.
type noopHandler struct{}

func (noopHandler) Sign(context.Context, string) (Result, error) {
	return Result{OK: true}, nil
}

// New builds a Handler for desc. When authEnabled is false, desc is never
// inspected and a noopHandler is returned immediately, keeping the
// globally-disabled case a cheap fast path.
func New(authEnabled bool, desc *config.AuthDescriptor) (Handler, error) {
	if !authEnabled || desc == nil || desc.Kind == config.AuthNone {
		return noopHandler{}, nil
	}
	switch desc.Kind {
	case config.AuthBearer:
		return newBearerHandler(desc)
	case config.AuthHeader:
		return newHeaderHandler(desc), nil
	case config.AuthQuerySigned:
		return newQuerySignedHandler(desc)
	case config.AuthAWSV4:
		return newAWSV4Handler(desc)
	default:
		return nil, fmt.Errorf("backendauth: unknown auth kind %q", desc.Kind)
	}
}

// failOrPermissive applies the descriptor's security-level policy:
// strict surfaces the signing error, permissive swallows it and
// proceeds unauthenticated.
func failOrPermissive(desc *config.AuthDescriptor, err error) (Result, error) {
	if desc.SecurityLevel == config.SecurityPermissive {
		return Result{OK: true}, nil
	}
	return Result{}, err
}
