package main

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Default PromQL templates; %s verbs are filled with (service,
// version, window), repeated as needed. Most installations will
// override these to match their own metric naming.
const (
	defaultErrorRateQuery = `sum(rate(http_requests_total{service="%s",version="%s",code=~"5.."}[%s])) / sum(rate(http_requests_total{service="%s",version="%s"}[%s]))`
	defaultLatencyQuery   = `histogram_quantile(0.99, sum by (le) (rate(http_request_duration_seconds_bucket{service="%s",version="%s"}[%s])))`
	defaultRequestsQuery  = `sum(increase(http_requests_total{service="%s",version="%s"}[%s]))`
)

func defineFlags(fs *pflag.FlagSet) {
	fs.StringP("listen", "l", ":3030", "listen address for API clients; metrics are served on the same listener under /metrics")
	fs.String("config", "", "path to an optional YAML file holding any of these settings")
	fs.String("pipelines", "/etc/gateshift/pipelines.yaml", "path to the pipeline definition file")

	fs.String("git-url-template", "https://git.example.com/%s.git", "repository URL for a service; one %s verb, filled with the service name")
	fs.Duration("git-timeout", 3*time.Minute, "maximum time for cloning a service's repository")

	fs.String("consul-address", "127.0.0.1:8500", "address of the Consul agent used for traffic splitting")
	fs.String("prometheus-url", "", "Prometheus base URL for rollout health; empty falls back to Consul health checks")
	fs.String("prometheus-query-error-rate", defaultErrorRateQuery, "PromQL template for the error rate of a service version")
	fs.String("prometheus-query-latency-p99", defaultLatencyQuery, "PromQL template for the p99 latency of a service version, in seconds")
	fs.String("prometheus-query-request-count", defaultRequestsQuery, "PromQL template for the request count of a service version over the window")

	fs.String("report-sink-url", "", "webhook URL of the vulnerability management sink; empty discards findings uploads")
	fs.String("report-sink-token", "", "service token for the vulnerability sink")
	fs.String("report-s3-endpoint", "", "S3-compatible endpoint for raw scan reports; empty keeps reports in memory")
	fs.String("report-s3-bucket", "gateshift-reports", "bucket for raw scan reports")
	fs.String("report-s3-access-key", "", "access key for the report store")
	fs.String("report-s3-secret-key", "", "secret key for the report store")
	fs.String("report-s3-region", "us-east-1", "region for the report store")
	fs.Bool("report-s3-ssl", true, "use TLS when talking to the report store")

	fs.String("memcached-hostname", "", "hostname of a memcached cluster used to journal published findings, looked up via SRV records")
	fs.String("memcached-service", "memcached", "SRV service name under which the journal memcached is registered")
	fs.Duration("memcached-timeout", 100*time.Millisecond, "dial timeout for the journal memcached")
	fs.Duration("memcached-update-interval", time.Minute, "how often to re-resolve the journal memcached server list")

	fs.String("redis-service", "", "hostname of a Redis used to journal published findings; empty journals in memory")
	fs.Int("redis-port", 6379, "port of the findings journal Redis")
	fs.Duration("redis-timeout", 100*time.Millisecond, "dial timeout for the findings journal Redis")
	fs.Int("redis-max-conns", 10, "connection pool size for the findings journal Redis")

	fs.String("database-source", "", "Postgres connection string for event history; empty keeps history in memory")

	fs.String("gitops-url", "", "webhook URL of the gitops pipeline notified of approved digests; empty disables dispatch")
	fs.String("gitops-token", "", "service token for the gitops webhook")

	fs.Float64("scan-launch-rate", 1, "per-tool scanner launches per second")
	fs.Int("scan-launch-burst", 2, "per-tool scanner launch burst")
	fs.Float64("upstream-rps", 10, "requests per second to each outbound webhook host (sink, gitops)")
	fs.Int("upstream-burst", 5, "outbound webhook request burst")
	fs.Int("runs-keep", 256, "how many recent runs to keep for the API")

	fs.Bool("version", false, "output the version and exit")
}

// loadSettings layers the configuration sources: explicit flags win,
// then GATESHIFT_* environment variables, then the config file, then
// flag defaults.
func loadSettings(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, errors.Wrap(err, "binding flags")
	}
	v.SetEnvPrefix("gateshift")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", file)
		}
	}
	return v, nil
}
