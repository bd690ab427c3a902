// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package config defines the static, YAML-loaded wire configuration.
// Its resolved runtime counterpart lives in package runtimeconfig.
//
// The Config/RuntimeConfig split — a plain data struct loaded once,
// turned into a runtime struct with live handlers attached exactly once
// at startup — is grounded on internal/filterapi/runtime.go's
// Config/RuntimeConfig/NewRuntimeConfig.
package config

// OriginKind identifies one of the three storage origin kinds a profile
// may fetch from.
type OriginKind string

const (
	OriginObjectStore OriginKind = "object-store"
	OriginRemote      OriginKind = "remote"
	OriginFallback    OriginKind = "fallback"
)

// DefaultPriority is the origin try-order used when a profile doesn't
// override it.
var DefaultPriority = []OriginKind{OriginObjectStore, OriginRemote, OriginFallback}

// AuthDescriptor is the static description of how to authenticate a
// fetch to one origin.
type AuthDescriptor struct {
	Kind OriginAuthKind `json:"kind"`

	// bearer
	TokenEnvVar string `json:"tokenEnvVar,omitempty"`

	// header
	Headers map[string]string `json:"headers,omitempty"`

	// query-signed
	SecretEnvVar string `json:"secretEnvVar,omitempty"`
	ParamName    string `json:"paramName,omitempty"`
	ExpirySecs   int64  `json:"expirySecs,omitempty"`

	// aws-v4
	Region          string `json:"region,omitempty"`
	Service         string `json:"service,omitempty"`
	AccessKeyEnvVar string `json:"accessKeyEnvVar,omitempty"`
	SecretKeyEnvVar string `json:"secretKeyEnvVar,omitempty"`

	// SecurityLevel governs failure handling: "strict" fails the fetch when
	// signing fails, "permissive" proceeds unauthenticated.
	SecurityLevel SecurityLevel `json:"securityLevel,omitempty"`
}

// OriginAuthKind enumerates the five Auth Provider modes.
type OriginAuthKind string

const (
	AuthNone        OriginAuthKind = "none"
	AuthBearer      OriginAuthKind = "bearer"
	AuthHeader      OriginAuthKind = "header"
	AuthQuerySigned OriginAuthKind = "query-signed"
	AuthAWSV4       OriginAuthKind = "aws-v4"
)

// SecurityLevel is the failure-handling policy for a failed signing
// attempt.
type SecurityLevel string

const (
	SecurityStrict     SecurityLevel = "strict"
	SecurityPermissive SecurityLevel = "permissive"
)

// PathTransform is a (segment, prefix, remove_prefix) rewrite rule applied
// after routing, per origin kind.
type PathTransform struct {
	Segment      string `json:"segment,omitempty"`
	Prefix       string `json:"prefix,omitempty"`
	RemovePrefix bool   `json:"removePrefix,omitempty"`
}

// FetchOptions are per-origin fetch tuning knobs.
type FetchOptions struct {
	UserAgent      string            `json:"userAgent,omitempty"`
	ExtraHeaders   map[string]string `json:"extraHeaders,omitempty"`
	TimeoutSeconds float64           `json:"timeoutSeconds,omitempty"`
}

// OriginConfig is the per-origin-kind configuration within a Storage
// Profile: binding name, URL template, auth, fetch options, path
// transform.
type OriginConfig struct {
	Binding       string         `json:"binding,omitempty"`
	URLTemplate   string         `json:"urlTemplate,omitempty"`
	Auth          *AuthDescriptor `json:"auth,omitempty"`
	FetchOptions  *FetchOptions   `json:"fetchOptions,omitempty"`
	PathTransform *PathTransform  `json:"pathTransform,omitempty"`
}

// StorageProfile is the static Storage Profile: an ordered
// origin-kind priority list plus per-origin configuration. A nil field
// means "inherit from the default profile".
type StorageProfile struct {
	Priority []OriginKind             `json:"priority,omitempty"`
	Origins  map[OriginKind]*OriginConfig `json:"origins,omitempty"`
}

// PathPattern binds a path-matching rule to a (possibly partial) Storage
// Profile: "the first whose pattern (literal substring or
// regex) matches wins."
type PathPattern struct {
	// Pattern is either a literal substring or, when Regex is true, a
	// regular expression tested against the request path.
	Pattern string `json:"pattern"`
	Regex   bool   `json:"regex,omitempty"`
	Profile StorageProfile `json:"profile"`
}

// DerivativeValue is one component value inside a named derivative
// preset.
type DerivativeValue struct {
	Width   *float64 `json:"width,omitempty"`
	Height  *float64 `json:"height,omitempty"`
	Fit     string   `json:"fit,omitempty"`
	Format  string   `json:"format,omitempty"`
	Quality *float64 `json:"quality,omitempty"`
	Gravity string   `json:"gravity,omitempty"`
}

// ClientDetectionConfig toggles the Client Signal Detector's enrichment
// behavior.
type ClientDetectionConfig struct {
	Enabled          bool      `json:"enabled"`
	ResponsiveWidths []float64 `json:"responsiveWidths,omitempty"`
}

// CacheConfig is the Cache Controller's static configuration.
type CacheConfig struct {
	DefaultTTLSeconds int64              `json:"defaultTTLSeconds,omitempty"`
	TTLByPathPrefix   map[string]int64   `json:"ttlByPathPrefix,omitempty"`
	TTLByStatusRange  map[string]int64   `json:"ttlByStatusRange,omitempty"`
	TTLByContentType  map[string]int64   `json:"ttlByContentType,omitempty"`
	BypassQueryParam  string             `json:"bypassQueryParam,omitempty"`
	MaxTagLength      int                `json:"maxTagLength,omitempty"`
	KVCacheEnabled    bool               `json:"kvCacheEnabled,omitempty"`

	// DisallowedPathPrefixes are path prefixes the Cache Controller
	// always bypasses.
	DisallowedPathPrefixes []string `json:"disallowedPathPrefixes,omitempty"`
}

// TransformConfig is the Transform Orchestrator's static configuration,
// including the derivative presets and format-quality-map.
type TransformConfig struct {
	Derivatives       map[string]DerivativeValue `json:"derivatives,omitempty"`
	FormatQualityMap  map[string]float64         `json:"formatQualityMap,omitempty"`
	MetadataCacheSize int                        `json:"metadataCacheSize,omitempty"`

	// SourceURLTemplate is the base URL the transform primitive fetches
	// from directly. Object-store and signed-remote origins have no
	// URL a third-party primitive could re-fetch, so the primitive is
	// pointed at this separately-configured, always-public asset base
	// instead — independent of whichever origin actually served the
	// fallback bytes used when the primitive fails. The normalized
	// request path is appended after trimming a trailing slash.
	SourceURLTemplate string `json:"sourceUrlTemplate,omitempty"`
}

// Config is the static, wire-format (YAML-loaded) root configuration.
// It is the direct analogue of filterapi.Config: plain data, no live
// handlers.
type Config struct {
	UUID string `json:"uuid,omitempty"`

	DefaultProfile StorageProfile `json:"defaultProfile"`
	Patterns       []PathPattern  `json:"patterns,omitempty"`

	AuthEnabled bool `json:"authEnabled"`

	Cache           CacheConfig           `json:"cache"`
	Transform       TransformConfig       `json:"transform"`
	ClientDetection ClientDetectionConfig `json:"clientDetection"`

	// DebugHeaderEnabled surfaces the Discarded/pending-conditional debug
	// trail when the request carries `debug=true`.
	DebugHeaderEnabled bool `json:"debugHeaderEnabled"`

	// DebugHeaderPrefix names the response header prefix used for the
	// debug header surface above. Defaults to "X-" when empty.
	DebugHeaderPrefix string `json:"debugHeaderPrefix,omitempty"`
}
