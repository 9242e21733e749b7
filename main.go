package main

import (
	"context"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/gbl08ma/darwincancel/adapters"
	"github.com/gbl08ma/darwincancel/api"
	"github.com/gbl08ma/darwincancel/cancache"
	"github.com/gbl08ma/darwincancel/config"
	"github.com/gbl08ma/darwincancel/darwin"
	"github.com/gbl08ma/darwincancel/enrich"
	"github.com/gbl08ma/darwincancel/metrics"
	"github.com/gbl08ma/darwincancel/pushport"
	"github.com/gbl08ma/darwincancel/resolver"
	"github.com/gbl08ma/darwincancel/store"
)

var (
	mainLog   = log.New(os.Stdout, "", log.Ldate|log.Ltime)
	ingestLog = log.New(os.Stdout, "ingest ", log.Ldate|log.Ltime)
	apiLog    = log.New(os.Stdout, "api    ", log.Ldate|log.Ltime)
	pushLog   = log.New(os.Stdout, "pushport ", log.Ldate|log.Ltime)

	// GitCommit is set at build time via -ldflags.
	GitCommit = "???"
)

// readinessDeadline bounds how long main waits for the STOMP subscription
// before it gives up waiting and serves /health/ready as unready rather than
// blocking startup indefinitely, per spec.md §6.
const readinessDeadline = 10 * time.Second

func main() {
	configPath := flag.String("config", "darwincancel.yaml", "path to the YAML configuration file")
	secretsPath := flag.String("secrets", "secrets.keybox", "path to the broker credentials keybox")
	importPath := flag.String("import", "", "import a CIF/MSN/ALF file at this path and exit, instead of serving")
	logPath := flag.String("log", "", "rotating log file path; empty logs to stdout only")
	flag.Parse()

	setUpLogging(*logPath)

	mainLog.Printf("darwincancel %s starting, loading configuration from %s", GitCommit, *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		mainLog.Println(err)
		os.Exit(2)
	}

	mainLog.Println("opening schedule store...")
	st, err := store.Open(cfg.Store.Path, cfg.Store.RetentionDays)
	if err != nil {
		mainLog.Fatalln(err)
	}
	defer st.Close()

	if *importPath != "" {
		runImport(st, *importPath)
		return
	}

	creds, err := config.LoadSecrets(*secretsPath)
	if err != nil {
		mainLog.Fatalln(err)
	}

	mainLog.Println("building station resolver...")
	res, err := resolver.New(st.Node())
	if err != nil {
		mainLog.Fatalln(err)
	}

	reg, promReg := metrics.New()

	pp := pushport.New(pushport.Config{
		Host:         cfg.Broker.Host,
		Port:         cfg.Broker.Port,
		User:         creds.User,
		Password:     creds.Password,
		Topic:        cfg.Broker.Topic,
		HeartbeatMs:  cfg.Broker.HeartbeatMs,
		BackoffMaxMs: cfg.Broker.BackoffMaxMs,
		Log:          pushLog,
	})

	dec := darwin.New()
	eng := enrich.New(st.Node(), res)
	cache := cancache.New(cfg.Cache.MaxEntries, time.Duration(cfg.Cache.MaxAge))

	srv, err := api.New(api.Config{
		Listen:             cfg.Server.Listen,
		RequestTimeout:     cfg.Server.RequestTimeout(),
		CORSOrigins:        cfg.CORS.Origins,
		RateDefault:        cfg.RateLimit.Default,
		RateHealth:         cfg.RateLimit.Health,
		HealthCheckTimeout: time.Duration(cfg.Health.CheckTimeoutMs) * time.Millisecond,
		HealthCacheTTL:     time.Duration(cfg.Health.CacheTTLMs) * time.Millisecond,
		Log:                apiLog,
	}, cache, eng, st, pp, reg, promReg)
	if err != nil {
		mainLog.Fatalln(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue := make(chan darwin.DecodedEvent, cfg.Ingest.QueueCapacity)
	go runIngestPipeline(ctx, eng, cache, reg, queue)
	go pumpFrames(ctx, pp, dec, queue, reg)
	go reportCacheGauges(ctx, cache, reg)

	pp.Start()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			mainLog.Println("api:", err)
		}
	}()

	waitForSubscribed(ctx, pp)
	mainLog.Println("darwincancel ready")
	<-ctx.Done()

	mainLog.Println("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.RequestTimeout()+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		mainLog.Println("api shutdown:", err)
	}
	pp.Stop()
	mainLog.Println("darwincancel stopped")
}

// setUpLogging attaches a lumberjack rotating sink (10 MiB x 10 files, per
// spec.md §6) to mainLog, ingestLog, apiLog and pushLog whenever -log is
// given, in addition to
// stdout; this follows the teacher's pattern of several prefixed
// log.Logger instances rather than a structured logging library, just with
// a rotation-capable backend instead of plain os.Stdout.
func setUpLogging(path string) {
	if path == "" {
		return
	}
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 10,
		MaxAge:     0,
		Compress:   true,
	}
	out := io.MultiWriter(os.Stdout, rotator)
	mainLog.SetOutput(out)
	ingestLog.SetOutput(out)
	apiLog.SetOutput(out)
	pushLog.SetOutput(out)
}

// runImport drives a one-shot file import (spec.md §4.B) for CLI-driven
// CIF/MSN/ALF loading, grounded on original_source/import_cif_data.py's
// standalone-invocation shape.
func runImport(st *store.Store, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		mainLog.Fatalln(err)
	}
	rec, err := adapters.Import(st.Node(), path, data)
	if err != nil {
		mainLog.Fatalln("import:", err)
	}
	if rec == nil {
		mainLog.Println("import: duplicate file, already imported")
		return
	}
	mainLog.Printf("import: %s: %d/%d records imported, %d errors",
		rec.FileType, rec.RecordsImported, rec.RecordCount, len(rec.Errors))
}

// pumpFrames decodes every STOMP frame the push-port client delivers and
// fans the resulting cancellation events into queue, dropping the oldest
// queued event on overflow (spec.md §4.D's bounded-queue contract) rather
// than blocking the STOMP receive loop.
func pumpFrames(ctx context.Context, pp *pushport.Client, dec *darwin.Decoder, queue chan darwin.DecodedEvent, reg *metrics.Registry) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-pp.Frames():
			if !ok {
				return
			}
			if msg == nil {
				continue
			}
			for _, ev := range dec.Decode(msg.Body) {
				enqueue(queue, ev, reg)
			}
			reg.DecodedTotal.Inc()
		}
	}
}

func enqueue(queue chan darwin.DecodedEvent, ev darwin.DecodedEvent, reg *metrics.Registry) {
	select {
	case queue <- ev:
	default:
		select {
		case <-queue:
			reg.QueueDropped.Inc()
			ingestLog.Println("queue full, dropped oldest event")
		default:
		}
		select {
		case queue <- ev:
		default:
			reg.QueueDropped.Inc()
			ingestLog.Println("queue full, dropped incoming event")
		}
	}
	reg.QueueDepth.Set(float64(len(queue)))
}

// runIngestPipeline is the decode-to-enrichment worker: single consumer,
// so the Enrichment Engine and Cancellation Cache each see one writer at a
// time, per spec.md §5's concurrency model.
func runIngestPipeline(ctx context.Context, eng *enrich.Engine, cache *cancache.Cache, reg *metrics.Registry, queue chan darwin.DecodedEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-queue:
			reg.CancellationsTotal.Inc()
			ac := eng.Enrich(ev)
			cache.Insert(ac)
			if ac.DarwinEnriched {
				reg.EnrichedTotal.Inc()
			}
			reg.QueueDepth.Set(float64(len(queue)))
		}
	}
}

// reportCacheGauges periodically republishes Cancellation Cache aggregates
// as Prometheus gauges, since the cache itself has no subscriber hook.
func reportCacheGauges(ctx context.Context, cache *cancache.Cache, reg *metrics.Registry) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := cache.Stats()
			reg.CacheTotal.Set(float64(stats.Total))
			reg.CacheEnriched.Set(float64(stats.Enriched))
			reg.CacheEnrichmentRate.Set(stats.EnrichmentRate)
			reg.CacheSmoothedRate.Set(stats.SmoothedEnrichmentRate)
		}
	}
}

// waitForSubscribed blocks until the push-port client reaches
// StateSubscribed or readinessDeadline elapses, whichever comes first,
// logging either outcome. A subsequent /health/ready check still reports
// accurately regardless of which branch fires.
func waitForSubscribed(ctx context.Context, pp *pushport.Client) {
	deadline := time.After(readinessDeadline)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			ingestLog.Printf("push-port not subscribed after %s, continuing startup anyway", readinessDeadline)
			return
		case <-ticker.C:
			if pp.State() == pushport.StateSubscribed {
				return
			}
		}
	}
}
