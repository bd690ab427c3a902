// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Command edgeproxy is the image transform proxy's process entrypoint:
// loads config, resolves it into live handlers, wires every component
// into an httpedge.Proxy, and serves it over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	otelprom "go.opentelemetry.io/otel/exporters/prometheus"

	"github.com/imgedge/proxy/internal/cache"
	"github.com/imgedge/proxy/internal/cachekv"
	"github.com/imgedge/proxy/internal/clientsignal"
	"github.com/imgedge/proxy/internal/config"
	"github.com/imgedge/proxy/internal/httpedge"
	"github.com/imgedge/proxy/internal/objectstore"
	"github.com/imgedge/proxy/internal/obs"
	"github.com/imgedge/proxy/internal/paramregistry"
	"github.com/imgedge/proxy/internal/primitiveclient"
	"github.com/imgedge/proxy/internal/reqcontext"
	"github.com/imgedge/proxy/internal/runtimeconfig"
	"github.com/imgedge/proxy/internal/storage"
	"github.com/imgedge/proxy/internal/transform"
)

// flags is the parsed, validated command-line surface, kept as a plain
// struct returned by a pure function so it is unit-testable without
// touching os.Args (cmd/controller's parseAndValidateFlags convention).
type flags struct {
	configPath          string
	listenAddr          string
	logLevel            slog.Level
	primitiveURL        string
	backgroundWorkers   int
	objectStoreBindings string
	kvCacheSize         int
}

func parseAndValidateFlags(args []string) (flags, error) {
	fs := flag.NewFlagSet("edgeproxy", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the proxy's YAML config file")
	listenAddr := fs.String("listenAddr", ":8080", "address the proxy listens on")
	logLevel := fs.String("logLevel", "info", "log level: debug, info, warn, error")
	primitiveURL := fs.String("primitiveURL", "", "base URL of the transform primitive service")
	backgroundWorkers := fs.Int("backgroundWorkers", 16, "size of the bounded background-write worker pool")
	objectStoreBindings := fs.String("objectStoreBindings", "", "comma-separated binding=bucket pairs for the object-store origin")
	kvCacheSize := fs.Int("kvCacheSize", 4096, "max entries held by the in-process transform cache")

	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(*logLevel)); err != nil {
		return flags{}, fmt.Errorf("edgeproxy: invalid logLevel %q: %w", *logLevel, err)
	}

	if *backgroundWorkers <= 0 {
		return flags{}, errors.New("edgeproxy: backgroundWorkers must be positive")
	}

	return flags{
		configPath:          *configPath,
		listenAddr:          *listenAddr,
		logLevel:            lvl,
		primitiveURL:        *primitiveURL,
		backgroundWorkers:   *backgroundWorkers,
		objectStoreBindings: *objectStoreBindings,
		kvCacheSize:         *kvCacheSize,
	}, nil
}

// parseBindings turns "assets=my-bucket,thumbs=my-thumbs-bucket" into a
// binding-name -> S3-bucket map.
func parseBindings(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		name, bucket, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[name] = bucket
	}
	return out
}

func main() {
	f, err := parseAndValidateFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: f.logLevel}))

	if err := run(f, logger); err != nil {
		logger.Error("edgeproxy exited", "error", err)
		os.Exit(1)
	}
}

func run(f flags, logger *slog.Logger) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return fmt.Errorf("edgeproxy: load config: %w", err)
	}

	rcfg, err := runtimeconfig.New(cfg)
	if err != nil {
		return fmt.Errorf("edgeproxy: resolve config: %w", err)
	}

	ctx := context.Background()
	promReader, err := otelprom.New()
	if err != nil {
		return fmt.Errorf("edgeproxy: prometheus reader: %w", err)
	}
	meter, shutdownMeter, err := obs.NewMeterFromEnv(ctx, os.Stdout, promReader)
	if err != nil {
		return fmt.Errorf("edgeproxy: meter: %w", err)
	}
	defer shutdownMeter(ctx)
	instruments, err := obs.NewInstruments(meter)
	if err != nil {
		return fmt.Errorf("edgeproxy: instruments: %w", err)
	}

	objStore, err := objectstore.New(ctx, parseBindings(f.objectStoreBindings))
	if err != nil {
		return fmt.Errorf("edgeproxy: object store: %w", err)
	}
	fetcher := storage.New(objStore, rcfg)
	registry := paramregistry.Default()
	cacheCtl := cache.New(cachekv.New(f.kvCacheSize), cfg.Cache)
	detector := clientsignal.New(cfg.ClientDetection.ResponsiveWidths)
	prim := primitiveclient.New(f.primitiveURL, nil)
	orchestrator := transform.New(prim, detector, cfg.Transform, logger)

	bg := newWorkerPool(f.backgroundWorkers, logger)
	defer bg.Close()

	_, mux, err := httpedge.NewProxy(httpedge.Deps{
		Config:       cfg,
		Router:       rcfg.Router,
		Fetcher:      fetcher,
		Registry:     registry,
		CacheCtl:     cacheCtl,
		Orchestrator: orchestrator,
		Detector:     detector,
		Logger:       logger,
		Background:   bg,
		Instruments:  instruments,
	})
	if err != nil {
		return fmt.Errorf("edgeproxy: build proxy: %w", err)
	}

	logger.Info("edgeproxy listening", "addr", f.listenAddr)
	return http.ListenAndServe(f.listenAddr, mux)
}

// workerPool is the bounded goroutine pool reqcontext.Background's doc
// comment describes cmd/edgeproxy as supplying: Go has no native
// equivalent of the edge runtime's waitUntil, so background cache writes
// run on a fixed worker pool with a logged-on-failure discard instead.
type workerPool struct {
	tasks  chan func(context.Context) error
	logger *slog.Logger
	wg     sync.WaitGroup
	done   chan struct{}
}

func newWorkerPool(size int, logger *slog.Logger) *workerPool {
	p := &workerPool{
		tasks:  make(chan func(context.Context) error, size*4),
		logger: logger,
		done:   make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case fn, ok := <-p.tasks:
			if !ok {
				return
			}
			if err := fn(context.Background()); err != nil {
				p.logger.Warn("background task failed", "error", err)
			}
		case <-p.done:
			return
		}
	}
}

// Run implements reqcontext.Background. A full queue drops the task with
// a logged warning rather than blocking the request.
func (p *workerPool) Run(fn func(context.Context) error) {
	select {
	case p.tasks <- fn:
	default:
		p.logger.Warn("background worker pool full, dropping task")
	}
}

func (p *workerPool) Close() {
	close(p.done)
	p.wg.Wait()
}

var _ reqcontext.Background = (*workerPool)(nil)
