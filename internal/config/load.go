// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package config

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Load reads and parses a Config from a YAML (or JSON, which is a YAML
// subset) file at path. Grounded on this repo's general
// `sigs.k8s.io/yaml` usage for k8s-style config surfaces: YAML is
// converted to JSON and then decoded with the struct's `json` tags,
// rather than hand-rolling a parallel set of `yaml` tags.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if len(cfg.DefaultProfile.Priority) == 0 {
		cfg.DefaultProfile.Priority = DefaultPriority
	}
	return &cfg, nil
}
