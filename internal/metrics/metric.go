package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RiemaLabs/charms-indexer/internal/logs"
)

const (
	StageInitializing = iota + 1
	StageCatchup
	StageServing
	StageUpdating
)

func fqn(name string) string {
	return prometheus.BuildFQName("charms", "indexer", name)
}

var (
	Version = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: fqn("version"),
			Help: "Service version number",
		},
		[]string{"version"},
	)

	Stage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: fqn("stage"),
		Help: "Service stage (e.g. initializing, catchup)",
	})

	DBQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    fqn("dbquery_duration"),
			Help:    "Duration of database queries",
			Buckets: []float64{0.02, 0.05, 0.1, 0.2, 0.5, 1, 5},
		},
		[]string{"op"},
	)

	CurrentHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: fqn("current_height"),
		Help: "Current height during catchup or serving",
	})

	HttpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    fqn("http_duration"),
			Help:    "HTTP request duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 5, 15},
		},
		[]string{"method", "path", "status"},
	)

	Extractions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fqn("extractions_total"),
			Help: "Spell extraction attempts by chain and outcome",
		},
		[]string{"chain", "outcome"},
	)

	ExtractDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    fqn("extract_duration"),
			Help:    "Duration of spell extraction and proof verification",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"chain"},
	)

	CheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    fqn("check_duration"),
			Help:    "Duration of spell checks by result",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"result"},
	)

	AppSteps = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    fqn("app_steps"),
			Help:    "Guest function calls per app run",
			Buckets: prometheus.ExponentialBuckets(1, 10, 10),
		},
		[]string{"tag"},
	)

	IndexedSpells = prometheus.NewCounter(prometheus.CounterOpts{
		Name: fqn("indexed_spells_total"),
		Help: "Spells recorded by the indexer",
	})
)

func ObserveDBQuery(op string, started time.Time) {
	DBQueryDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func ObserveExtract(chain string, started time.Time) {
	ExtractDuration.WithLabelValues(chain).Observe(time.Since(started).Seconds())
}

func ObserveCheck(result string, started time.Time) {
	CheckDuration.WithLabelValues(result).Observe(time.Since(started).Seconds())
}

func HTTP(c *gin.Context) {
	started := time.Now()

	c.Next()

	// Route templates keep txids out of the label values.
	path := c.FullPath()
	if path == "" {
		path = "unmatched"
	}
	HttpDuration.WithLabelValues(
		c.Request.Method,
		path,
		strconv.Itoa(c.Writer.Status()),
	).Observe(time.Since(started).Seconds())
}

func init() {
	prometheus.MustRegister(
		Version,
		Stage,
		DBQueryDuration,
		CurrentHeight,
		HttpDuration,
		Extractions,
		ExtractDuration,
		CheckDuration,
		AppSteps,
		IndexedSpells,
	)
}

func ListenAndServe(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := (&http.Server{Addr: addr, Handler: mux}).ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logs.Fatalf("Failed to serve metrics due to %v", err)
	}
}
