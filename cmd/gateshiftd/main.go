package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/gateshift/gateshift/pkg/artifact"
	"github.com/gateshift/gateshift/pkg/cache"
	"github.com/gateshift/gateshift/pkg/cache/memcached"
	"github.com/gateshift/gateshift/pkg/cluster"
	consulcluster "github.com/gateshift/gateshift/pkg/cluster/consul"
	"github.com/gateshift/gateshift/pkg/cluster/promwatch"
	"github.com/gateshift/gateshift/pkg/config"
	"github.com/gateshift/gateshift/pkg/daemon"
	"github.com/gateshift/gateshift/pkg/event"
	"github.com/gateshift/gateshift/pkg/git"
	"github.com/gateshift/gateshift/pkg/gitops"
	"github.com/gateshift/gateshift/pkg/history"
	httpdaemon "github.com/gateshift/gateshift/pkg/http/daemon"
	"github.com/gateshift/gateshift/pkg/job"
	"github.com/gateshift/gateshift/pkg/middleware"
	"github.com/gateshift/gateshift/pkg/release"
	"github.com/gateshift/gateshift/pkg/report"
	"github.com/gateshift/gateshift/pkg/rollout"
	"github.com/gateshift/gateshift/pkg/scan"
)

var version = "unversioned"

func main() {
	fs := pflag.NewFlagSet("default", pflag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "DESCRIPTION\n")
		fmt.Fprintf(os.Stderr, "  gateshiftd gates releases behind security scans and shifts traffic for the ones that pass.\n")
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "FLAGS\n")
		fs.PrintDefaults()
	}
	defineFlags(fs)
	fs.Parse(os.Args[1:])

	v, err := loadSettings(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if v.GetBool("version") {
		fmt.Println(version)
		os.Exit(0)
	}

	// Logger component.
	var logger log.Logger
	{
		logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
	}
	logger.Log("version", version)

	// Shutdown tactics.
	shutdown := make(chan struct{})
	shutdownWg := &sync.WaitGroup{}
	errc := make(chan error)

	// Pipeline definitions.
	spec, err := config.Load(v.GetString("pipelines"))
	if err != nil {
		logger.Log("err", err)
		os.Exit(1)
	}
	logger.Log("pipelines", len(spec.Pipelines), "source", v.GetString("pipelines"))

	// Cluster component: Consul actuates traffic, Prometheus (when
	// configured) supplies the health signals.
	var clus cluster.Cluster
	{
		logger := log.With(logger, "component", "cluster")
		consul, err := consulcluster.New(v.GetString("consul-address"), logger)
		if err != nil {
			logger.Log("err", err)
			os.Exit(1)
		}
		clus = consul
		if promURL := v.GetString("prometheus-url"); promURL != "" {
			clus, err = promwatch.New(consul, promURL, promwatch.Queries{
				ErrorRate:    v.GetString("prometheus-query-error-rate"),
				LatencyP99:   v.GetString("prometheus-query-latency-p99"),
				RequestCount: v.GetString("prometheus-query-request-count"),
			}, logger)
			if err != nil {
				logger.Log("err", err)
				os.Exit(1)
			}
			logger.Log("health", "prometheus", "url", promURL)
		} else {
			logger.Log("health", "consul checks")
		}
	}

	// Event history.
	var historyDB history.DB
	var historyBackend string
	{
		logger := log.With(logger, "component", "history")
		if conn := v.GetString("database-source"); conn != "" {
			db, err := history.NewPostgresDB(context.Background(), conn)
			if err != nil {
				logger.Log("err", err)
				os.Exit(1)
			}
			historyDB, historyBackend = db, "postgres"
		} else {
			historyDB, historyBackend = history.NewInMemDB(), "memory"
			logger.Log("warning", "event history will not survive a restart")
		}
		historyDB = history.InstrumentedDB(historyDB, history.NewMetrics())
		logger.Log("backend", historyBackend)
	}

	// Live event stream; everything written to history is also
	// broadcast to websocket watchers.
	bus := event.NewBus()
	events := history.TeeWriter(historyDB, bus)

	// Raw scan report store.
	var reportStore report.Store
	{
		logger := log.With(logger, "component", "reports")
		if endpoint := v.GetString("report-s3-endpoint"); endpoint != "" {
			s3, err := report.NewS3Store(context.Background(), report.S3Config{
				Endpoint:  endpoint,
				AccessKey: v.GetString("report-s3-access-key"),
				SecretKey: v.GetString("report-s3-secret-key"),
				Region:    v.GetString("report-s3-region"),
				Bucket:    v.GetString("report-s3-bucket"),
				UseSSL:    v.GetBool("report-s3-ssl"),
			})
			if err != nil {
				logger.Log("err", err)
				os.Exit(1)
			}
			reportStore = s3
			logger.Log("store", "s3", "endpoint", endpoint, "bucket", v.GetString("report-s3-bucket"))
		} else {
			reportStore = report.NewMemStore()
			logger.Log("store", "memory")
		}
	}

	// Findings journal, for deduplicating sink uploads.
	var journal cache.Client
	var journalStop func()
	switch {
	case v.GetString("memcached-hostname") != "":
		mc := memcached.NewMemcacheClient(memcached.MemcacheConfig{
			Host:           v.GetString("memcached-hostname"),
			Service:        v.GetString("memcached-service"),
			Timeout:        v.GetDuration("memcached-timeout"),
			UpdateInterval: v.GetDuration("memcached-update-interval"),
			Logger:         log.With(logger, "component", "journal"),
		})
		journal, journalStop = mc, mc.Stop
	case v.GetString("redis-service") != "":
		journal = cache.NewRedisClient(cache.RedisConfig{
			Service:  v.GetString("redis-service"),
			Port:     v.GetInt("redis-port"),
			Timeout:  v.GetDuration("redis-timeout"),
			MaxConns: v.GetInt("redis-max-conns"),
			Logger:   log.With(logger, "component", "journal"),
		})
	default:
		journal = cache.NewMem()
	}

	// Outbound webhooks share per-host rate limiting; a host that
	// answers 429 gets backed off without starving the others.
	limiters := &middleware.RateLimiters{
		RPS:    v.GetFloat64("upstream-rps"),
		Burst:  v.GetInt("upstream-burst"),
		Logger: log.With(logger, "component", "ratelimiter"),
	}
	limitedClient := func(rawurl string) *http.Client {
		u, err := url.Parse(rawurl)
		if err != nil {
			return http.DefaultClient
		}
		return &http.Client{Transport: limiters.RoundTripper(http.DefaultTransport, u.Host)}
	}

	// Vulnerability sink.
	var reporter *report.Reporter
	{
		var sink report.Sink = report.DiscardSink{}
		if url := v.GetString("report-sink-url"); url != "" {
			sink = report.NewHTTPSink(limitedClient(url), url, v.GetString("report-sink-token"))
		}
		reporter = report.NewReporter(sink, journal, log.With(logger, "component", "reporter"))
		reporter.OnFailure = daemon.ReportFailureHook(events, log.With(logger, "component", "reporter"))
	}

	// Scanning and gating.
	limits := scan.NewLaunchLimits(v.GetFloat64("scan-launch-rate"), v.GetInt("scan-launch-burst"))
	runner := scan.NewInstrumentedRunner(scan.NewExecRunner(reportStore, limits, log.With(logger, "component", "scanner")))
	aggregator := scan.NewAggregator(runner, log.With(logger, "component", "gate"))

	// Artifacts.
	registry := artifact.NewInmem()
	builder := artifact.NewBuilder(registry, log.With(logger, "component", "builder"))

	// GitOps dispatch.
	var dispatcher gitops.Dispatcher = gitops.NopDispatcher{}
	if url := v.GetString("gitops-url"); url != "" {
		poster := gitops.NewHTTPDispatcher(limitedClient(url), url, v.GetString("gitops-token"), log.With(logger, "component", "gitops"))
		dispatcher = gitops.NewJournaledDispatcher(poster, journal)
	}

	// Rollouts.
	rollouts := rollout.NewCoordinator(clus, events, log.With(logger, "component", "rollout"))

	// The releaser glues the run together.
	exporter := git.NewExporter(v.GetString("git-url-template"), v.GetDuration("git-timeout"), log.With(logger, "component", "git"))
	runs := release.NewStore(v.GetInt("runs-keep"))
	releaser := release.NewReleaser(release.Deps{
		Spec:       spec,
		Exporter:   exporter,
		Aggregator: aggregator,
		Reporter:   reporter,
		Builder:    builder,
		Registry:   registry,
		Rollouts:   rollouts,
		Dispatcher: dispatcher,
		Events:     events,
		Runs:       runs,
		Logger:     log.With(logger, "component", "release"),
	})

	// Daemon component.
	queue := job.NewQueue(shutdown, shutdownWg)
	d := &daemon.Daemon{
		V:           version,
		Releaser:    releaser,
		Runs:        runs,
		Rollouts:    rollouts,
		Events:      historyDB,
		Cluster:     clus,
		Jobs:        queue,
		JobStatuses: job.NewStatusCache(0),
		Logger:      log.With(logger, "component", "daemon"),
	}
	shutdownWg.Add(1)
	go d.Loop(shutdown, shutdownWg, log.With(logger, "component", "daemon"))

	// Update check.
	checker := checkForUpdates("consul", historyBackend, log.With(logger, "component", "checkpoint"))
	defer checker.Stop()

	// HTTP transport component.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/", httpdaemon.NewHandler(d, bus, httpdaemon.NewRouter()))
		logger.Log("addr", v.GetString("listen"))
		errc <- http.ListenAndServe(v.GetString("listen"), mux)
	}()

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	logger.Log("exiting", <-errc)
	close(shutdown)
	shutdownWg.Wait()
	rollouts.Stop()
	reporter.Stop()
	if journalStop != nil {
		journalStop()
	}
	historyDB.Close()
}
