package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"kmslab.dev/internal/chamelium"
	"kmslab.dev/internal/config"
	"kmslab.dev/internal/kms"
	"kmslab.dev/internal/results"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to suites.yaml (empty: built-in defaults)")
		dbPath     = flag.String("db", "", "results database path (overrides config)")
		dumpDir    = flag.String("dumps", "", "frame dump directory (overrides config)")
		fixtureURL = flag.String("fixture", "", "remote fixture ws url (overrides config)")
		note       = flag.String("note", "", "free-form note stored with the run")
		disableDB  = flag.Bool("disable_db", false, "do not record results")
		summary    = flag.Bool("summary", false, "print the last recorded run and exit")
		serveAddr  = flag.String("serve_fixture", "", "serve the fixture protocol on this address instead of running suites")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[kmslab] ", log.LstdFlags|log.Lmicroseconds)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			logger.Fatalf("load config: %v", err)
		}
	}
	if *dbPath != "" {
		cfg.ResultsDB = *dbPath
	}
	if *dumpDir != "" {
		cfg.DumpDir = *dumpDir
	}
	if *fixtureURL != "" {
		cfg.FixtureURL = *fixtureURL
	}

	if *summary {
		if err := printSummary(cfg.ResultsDB, logger); err != nil {
			logger.Fatalf("summary: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dev := kms.NewDevice(cfg.DeviceConfig())

	if *serveAddr != "" {
		if err := serveFixture(ctx, dev, *serveAddr, logger); err != nil {
			logger.Fatalf("fixture server: %v", err)
		}
		return
	}

	var store *results.Store
	if !*disableDB {
		var err error
		store, err = results.Open(cfg.ResultsDB, *note)
		if err != nil {
			logger.Fatalf("open results db: %v", err)
		}
		defer store.Close()
		logger.Printf("run %s -> %s", store.RunID(), cfg.ResultsDB)
	}

	client, closeFixture, err := connectFixture(ctx, dev, cfg.FixtureURL, logger)
	if err != nil {
		logger.Fatalf("fixture: %v", err)
	}
	defer closeFixture()

	env := &suiteEnv{
		cfg:    cfg,
		dev:    dev,
		client: client,
		store:  store,
		log:    logger,
	}
	pass, fail, skip := env.runAll(ctx)
	if store != nil {
		store.Flush()
	}
	logger.Printf("done: %d pass, %d fail, %d skip", pass, fail, skip)
	if fail > 0 {
		os.Exit(1)
	}
}

// connectFixture dials the configured fixture, or serves one in-process in
// front of the embedded device when no url is configured.
func connectFixture(ctx context.Context, dev *kms.Device, url string, logger *log.Logger) (*chamelium.Client, func(), error) {
	cleanup := func() {}
	if url == "" {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, nil, err
		}
		srv := &http.Server{Handler: chamelium.NewFixture(dev, logger).Handler()}
		go func() { _ = srv.Serve(ln) }()
		url = "ws://" + ln.Addr().String()
		cleanup = func() { _ = srv.Close() }
		logger.Printf("embedded fixture at %s", url)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := chamelium.Dial(dialCtx, url)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	prev := cleanup
	return client, func() { client.Close(); prev() }, nil
}

// serveFixture exposes the embedded device over the wire until the context
// is canceled.
func serveFixture(ctx context.Context, dev *kms.Device, addr string, logger *log.Logger) error {
	srv := &http.Server{Addr: addr, Handler: chamelium.NewFixture(dev, logger).Handler()}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Printf("serving fixture on %s", addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		return err
	}
}

func printSummary(dbPath string, logger *log.Logger) error {
	store, err := results.Open(dbPath, "summary query")
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	id, startedAt, note, err := store.LastRun(ctx)
	if err != nil {
		return fmt.Errorf("no recorded runs in %s: %w", dbPath, err)
	}
	sum, err := store.Summarize(ctx, id)
	if err != nil {
		return err
	}
	line := fmt.Sprintf("run %s (%s): %d pass, %d fail, %d skip", id, startedAt, sum.Pass, sum.Fail, sum.Skip)
	if note != "" {
		line += " [" + note + "]"
	}
	logger.Print(line)

	fails, err := store.Failures(ctx, id)
	if err != nil {
		return err
	}
	for _, f := range fails {
		detail := f.Detail
		if f.DumpPath != "" {
			detail += " (dump: " + f.DumpPath + ")"
		}
		logger.Printf("  FAIL %s/%s: %s", f.Suite, f.Name, strings.TrimSpace(detail))
	}
	return nil
}
