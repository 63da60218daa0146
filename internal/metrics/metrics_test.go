package metrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/danielpatrickdp/mutation-gate/internal/admission"
	"github.com/danielpatrickdp/mutation-gate/internal/admission/admissiontest"
	"github.com/danielpatrickdp/mutation-gate/internal/corridor"
	"github.com/danielpatrickdp/mutation-gate/internal/domain"
	"github.com/danielpatrickdp/mutation-gate/internal/ledger"
)

var (
	_ Sink = (*Prometheus)(nil)
	_ Sink = (*OTel)(nil)
	_ Sink = (*Fanout)(nil)
)

type panickySink struct{}

func (panickySink) IncCorridorBreach(string, corridor.Group, float64) { panic("down") }
func (panickySink) ObserveKernelDistance(string, float64)             { panic("down") }
func (panickySink) ObserveKnowledgeFactor(string, float64)            { panic("down") }
func (panickySink) ObserveDecision(admission.Decision)                { panic("down") }

// breachingRequest trips the spatial and duty groups of the gaze corridor.
func breachingRequest() admission.Request {
	req := admissiontest.Passing("prop-1", domain.DefensiveMicro)
	req.Corridor.SpatialErrorCm = 5
	req.Corridor.SessionDutyFraction = 0.9
	return req
}

func TestPrometheusCountsDecisionsAndBreaches(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg)
	e := admissiontest.Engine(t, admission.WithMetrics(p), admission.WithObserver(p))

	require.True(t, e.Admit(admissiontest.Passing("prop-1", domain.DefensiveMicro)).Allowed())
	d := e.Admit(breachingRequest())
	require.False(t, d.Allowed())

	assert.Equal(t, 1.0, testutil.ToFloat64(p.decisions.WithLabelValues("allow", "", "defensive_micro")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.decisions.WithLabelValues("deny", "corridor", "defensive_micro")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.denials.WithLabelValues("corridor_breach")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.breaches.WithLabelValues(corridor.GazeV1ID, string(corridor.GroupSpatial))))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.breaches.WithLabelValues(corridor.GazeV1ID, string(corridor.GroupDutyTiming))))
	assert.Equal(t, 2, testutil.CollectAndCount(p.breaches))
	assert.Equal(t, 1, testutil.CollectAndCount(p.distance))

	p.ObserveCommit(ledger.CommitRecord{Action: ledger.ActionCommit})
	p.IncAuditFailure()
	assert.Equal(t, 1.0, testutil.ToFloat64(p.commits.WithLabelValues("commit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.auditFailures))
}

func TestPrometheusRegistriesAreIsolated(t *testing.T) {
	a := NewPrometheus(prometheus.NewRegistry())
	NewPrometheus(prometheus.NewRegistry())
	a.IncAuditFailure()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.auditFailures))
}

func TestDescriptorsMatchRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg)
	p.IncAuditFailure()
	require.NoError(t, ValidateSchema(Snapshot{Metrics: p.Descriptors()}))
	assert.Len(t, p.Descriptors(), 8)
}

func sumInt64(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestOTelSink(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { mp.Shutdown(context.Background()) })

	o, err := NewOTel(mp.Meter(MeterName))
	require.NoError(t, err)
	e := admissiontest.Engine(t, admission.WithMetrics(o), admission.WithObserver(o))
	e.Admit(admissiontest.Passing("prop-1", domain.DefensiveMicro))
	e.Admit(breachingRequest())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	assert.Equal(t, int64(2), sumInt64(t, rm, "gate.decisions"))
	assert.Equal(t, int64(2), sumInt64(t, rm, "gate.corridor.breaches"))
}

func TestFanoutSurvivesPanickingSink(t *testing.T) {
	p := NewPrometheus(prometheus.NewRegistry())
	f := NewFanout(nil, panickySink{}, nil, p)

	e := admissiontest.Engine(t, admission.WithMetrics(f), admission.WithObserver(f))
	d := e.Admit(breachingRequest())
	require.False(t, d.Allowed())
	assert.Len(t, d.Reasons, 2)
	assert.Equal(t, 2, testutil.CollectAndCount(p.breaches))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.decisions.WithLabelValues("deny", "corridor", "defensive_micro")))
}

func TestValidateSchema(t *testing.T) {
	ok := Snapshot{Metrics: []Descriptor{
		{Name: "aln_non_compliant_events_total", ClauseIDs: []string{"ALN-7", "ALN-12"}},
		{Name: "other_total", ClauseIDs: []string{"X-1"}},
	}}
	require.NoError(t, ValidateSchema(ok))

	bad := Snapshot{Metrics: []Descriptor{
		{Name: "aln_non_compliant_events_total_by_host", ClauseIDs: []string{"ALN-1", "SEC-2"}},
		{Name: "aln_non_compliant_events_total", ClauseIDs: []string{"aln-3"}},
	}}
	err := ValidateSchema(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "by_host")
	assert.Contains(t, err.Error(), "aln-3")
}

func TestLoadSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
schema_version: {major: 1, minor: 2, patch: 0}
metrics:
  - name: aln_non_compliant_events_total
    labels: [clause]
    aln_clause_ids: [ALN-1]
`), 0o644))
	s, err := LoadSchema(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), s.Version.Minor)

	require.NoError(t, os.WriteFile(path, []byte("metrics:\n  - name: aln_non_compliant_events_total\n    aln_clause_ids: [BAD]\n"), 0o644))
	_, err = LoadSchema(path)
	assert.Error(t, err)
}

func TestShippedSchemaListsEveryExportedMetric(t *testing.T) {
	s, err := LoadSchema("../../configs/metrics-schema.yaml")
	require.NoError(t, err)

	p := NewPrometheus(prometheus.NewRegistry())
	assert.Empty(t, Unlisted(s, p.Descriptors()))
	assert.Equal(t, []string{"extra"}, Unlisted(s, []Descriptor{{Name: "extra"}}))
}
