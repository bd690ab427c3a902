// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package backendauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"

	"github.com/imgedge/proxy/internal/config"
)

// emptyPayloadHash is the SigV4 hash of a zero-length GET body, computed
// once since every Storage Fetcher request this mode signs is a GET.
var emptyPayloadHash = func() string {
	sum := sha256.Sum256(nil)
	return hex.EncodeToString(sum[:])
}()

// awsV4Handler implements the `aws-v4` mode: "full AWS
// SigV4 over GET, using service+region+access-key-id+secret from env;
// copies only x-amz-* and authorization into the outgoing header set."
type awsV4Handler struct {
	signer  *v4.Signer
	creds   aws.Credentials
	region  string
	service string
	desc    *config.AuthDescriptor
}

func newAWSV4Handler(desc *config.AuthDescriptor) (Handler, error) {
	accessKey := os.Getenv(desc.AccessKeyEnvVar)
	secretKey := os.Getenv(desc.SecretKeyEnvVar)
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("backendauth: aws-v4: access/secret key env vars unset")
	}
	return &awsV4Handler{
		signer:  v4.NewSigner(),
		creds:   aws.Credentials{AccessKeyID: accessKey, SecretAccessKey: secretKey},
		region:  desc.Region,
		service: desc.Service,
		desc:    desc,
	}, nil
}

func (h *awsV4Handler) Sign(ctx context.Context, rawURL string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return failOrPermissive(h.desc, fmt.Errorf("backendauth: aws-v4: new request: %w", err))
	}
	if err := h.signer.SignHTTP(ctx, h.creds, req, emptyPayloadHash, h.service, h.region, time.Now()); err != nil {
		return failOrPermissive(h.desc, fmt.Errorf("backendauth: aws-v4: sign: %w", err))
	}

	headers := make(map[string]string)
	for name, vals := range req.Header {
		lower := strings.ToLower(name)
		if lower == "authorization" || strings.HasPrefix(lower, "x-amz-") {
			if len(vals) > 0 {
				headers[name] = vals[0]
			}
		}
	}
	return Result{Headers: headers, OK: true}, nil
}
