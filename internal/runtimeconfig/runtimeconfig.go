// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package runtimeconfig resolves the static config.Config into live
// handlers constructed exactly once at startup: one backendauth.Handler
// per distinct Auth Descriptor and a pathrouter.Router over the
// configured patterns.
//
// This mirrors internal/filterapi/runtime.go's Config -> RuntimeConfig
// split (NewRuntimeConfig resolves each Backend's BackendAuth into a
// live BackendAuthHandler once, rather than on every request). It lives
// in its own package, rather than inside
// internal/config, because resolving auth descriptors requires importing
// internal/backendauth, and internal/backendauth already imports
// internal/config for the descriptor types — folding resolution into
// internal/config itself would create an import cycle.
package runtimeconfig

import (
	"fmt"

	"github.com/imgedge/proxy/internal/backendauth"
	"github.com/imgedge/proxy/internal/config"
	"github.com/imgedge/proxy/internal/pathrouter"
)

// RuntimeConfig is the resolved runtime configuration: the static Config
// plus one backendauth.Handler per distinct Auth Descriptor and a
// compiled path Router.
type RuntimeConfig struct {
	Config *config.Config
	Router *pathrouter.Router

	// handlers is keyed by the AuthDescriptor pointer identity found while
	// walking the config, since two origins may legitimately share one
	// descriptor value and should share one handler instance.
	handlers map[*config.AuthDescriptor]backendauth.Handler
}

// New builds a RuntimeConfig from cfg, constructing every origin's Auth
// Provider handler up front so request handling never pays construction
// cost (env var lookups, credential parsing) per-request.
func New(cfg *config.Config) (*RuntimeConfig, error) {
	router, err := pathrouter.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("runtimeconfig: compile patterns: %w", err)
	}

	rc := &RuntimeConfig{Config: cfg, Router: router, handlers: make(map[*config.AuthDescriptor]backendauth.Handler)}

	if err := rc.resolveProfile(cfg.DefaultProfile); err != nil {
		return nil, err
	}
	for _, p := range cfg.Patterns {
		if err := rc.resolveProfile(p.Profile); err != nil {
			return nil, err
		}
	}
	return rc, nil
}

func (rc *RuntimeConfig) resolveProfile(profile config.StorageProfile) error {
	for kind, origin := range profile.Origins {
		if origin == nil || origin.Auth == nil {
			continue
		}
		if _, ok := rc.handlers[origin.Auth]; ok {
			continue
		}
		h, err := backendauth.New(rc.Config.AuthEnabled, origin.Auth)
		if err != nil {
			return fmt.Errorf("runtimeconfig: origin %s: %w", kind, err)
		}
		rc.handlers[origin.Auth] = h
	}
	return nil
}

// AuthHandler returns the resolved handler for desc, constructed once at
// startup by New. desc must be one of the *config.AuthDescriptor values
// reachable from the Config this RuntimeConfig was built from.
func (rc *RuntimeConfig) AuthHandler(desc *config.AuthDescriptor) backendauth.Handler {
	if desc == nil {
		return noopDefault
	}
	if h, ok := rc.handlers[desc]; ok {
		return h
	}
	return noopDefault
}

var noopDefault, _ = backendauth.New(false, nil)
