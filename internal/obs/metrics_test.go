// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package obs

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
)

func newTestMeter(t *testing.T) (Instruments, func(context.Context) error) {
	t.Helper()
	t.Setenv("OTEL_SDK_DISABLED", "true")

	reader, err := otelprom.New()
	require.NoError(t, err)

	meter, shutdown, err := NewMeterFromEnv(context.Background(), &bytes.Buffer{}, reader)
	require.NoError(t, err)

	inst, err := NewInstruments(meter)
	require.NoError(t, err)
	return inst, shutdown
}

func TestNewMeterFromEnv_SDKDisabledStillExposesPrometheusReader(t *testing.T) {
	inst, shutdown := newTestMeter(t)
	defer shutdown(context.Background())
	require.NotNil(t, inst.RequestsTotal)
}

func TestRecordCacheResult_HitAndMiss(t *testing.T) {
	inst, shutdown := newTestMeter(t)
	defer shutdown(context.Background())

	require.NotPanics(t, func() {
		inst.RecordCacheResult(context.Background(), true)
		inst.RecordCacheResult(context.Background(), false)
	})
}

func TestRecordOriginFetch_RecordsErrorCounterOnFailure(t *testing.T) {
	inst, shutdown := newTestMeter(t)
	defer shutdown(context.Background())

	require.NotPanics(t, func() {
		inst.RecordOriginFetch(context.Background(), "object-store", 12.5, nil)
		inst.RecordOriginFetch(context.Background(), "remote", 40.0, errors.New("boom"))
	})
}

func TestRecordTransform_RecordsDurationByFormat(t *testing.T) {
	inst, shutdown := newTestMeter(t)
	defer shutdown(context.Background())

	require.NotPanics(t, func() {
		inst.RecordTransform(context.Background(), "avif", 8.2)
	})
}
