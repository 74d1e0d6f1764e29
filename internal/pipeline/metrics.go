package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/starford/tenantgraph/internal/models"
)

// Metrics holds the Prometheus collectors of the pipeline.
type Metrics struct {
	ingestTotal   *prometheus.CounterVec
	nodesTotal    *prometheus.CounterVec
	edgesTotal    *prometheus.CounterVec
	queryTotal    *prometheus.CounterVec
	queryRows     prometheus.Histogram
	oracleSeconds *prometheus.HistogramVec
}

// NewMetrics creates the pipeline collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantgraph_ingest_total",
			Help: "Ingestion requests by outcome (ok or error kind).",
		}, []string{"outcome"}),
		nodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantgraph_nodes_total",
			Help: "Nodes merged by result (created, matched).",
		}, []string{"result"}),
		edgesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantgraph_edges_total",
			Help: "Edges merged by result (created, matched, skipped).",
		}, []string{"result"}),
		queryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantgraph_query_total",
			Help: "Query requests by outcome (ok or error kind).",
		}, []string{"outcome"}),
		queryRows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tenantgraph_query_rows",
			Help:    "Rows returned per executed query.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		}),
		oracleSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tenantgraph_oracle_seconds",
			Help:    "Oracle call latency by operation.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"op"}),
	}

	for _, c := range []prometheus.Collector{
		m.ingestTotal, m.nodesTotal, m.edgesTotal, m.queryTotal, m.queryRows, m.oracleSeconds,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordReport(report models.UpsertReport) {
	m.nodesTotal.WithLabelValues("created").Add(float64(report.NodesCreated))
	m.nodesTotal.WithLabelValues("matched").Add(float64(report.NodesMatched))
	m.edgesTotal.WithLabelValues("created").Add(float64(report.EdgesCreated))
	m.edgesTotal.WithLabelValues("matched").Add(float64(report.EdgesMatched))
	m.edgesTotal.WithLabelValues("skipped").Add(float64(report.EdgesSkipped))
}
