// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"github.com/imgedge/proxy/internal/storage"
)

type fakeS3 struct {
	lastInput *s3.GetObjectInput
	output    *s3.GetObjectOutput
	err       error
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.lastInput = in
	return f.output, f.err
}

type apiError struct{ code string }

func (e apiError) Error() string              { return e.code }
func (e apiError) ErrorCode() string          { return e.code }
func (e apiError) ErrorMessage() string       { return e.code }
func (e apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

func TestGet_TranslatesObjectIntoObjectResult(t *testing.T) {
	lastModified := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	fake := &fakeS3{output: &s3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader("bytes")),
		ContentType:   strPtr("image/jpeg"),
		ETag:          strPtr(`"abc"`),
		LastModified:  &lastModified,
		ContentLength: int64Ptr(5),
	}}

	store := &Store{client: fake, bindings: map[string]string{"assets": "my-bucket"}}
	res, err := store.Get(context.Background(), "assets", "a/b.jpg", storage.ConditionalOptions{})
	require.NoError(t, err)
	require.Equal(t, "my-bucket", *fake.lastInput.Bucket)
	require.Equal(t, "a/b.jpg", *fake.lastInput.Key)
	require.Equal(t, "image/jpeg", res.ContentType)
	require.Equal(t, `"abc"`, res.ETag)
	require.Equal(t, int64(5), res.Size)
}

func TestGet_NoSuchKeyIsNilNilMiss(t *testing.T) {
	fake := &fakeS3{err: apiError{code: "NoSuchKey"}}
	store := &Store{client: fake, bindings: nil}
	res, err := store.Get(context.Background(), "assets", "missing.jpg", storage.ConditionalOptions{})
	require.NoError(t, err)
	require.Nil(t, res)
}

func TestGet_TransportFailureIsError(t *testing.T) {
	fake := &fakeS3{err: errors.New("connection reset")}
	store := &Store{client: fake, bindings: nil}
	_, err := store.Get(context.Background(), "assets", "a.jpg", storage.ConditionalOptions{})
	require.Error(t, err)
}

func TestBucket_FallsBackToBindingName(t *testing.T) {
	store := &Store{bindings: map[string]string{"assets": "my-bucket"}}
	require.Equal(t, "my-bucket", store.bucket("assets"))
	require.Equal(t, "other", store.bucket("other"))
}

func int64Ptr(v int64) *int64 { return &v }
