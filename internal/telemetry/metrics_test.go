package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestSignatureOperationsTotal_Increments(t *testing.T) {
	c := SignatureOperationsTotal.WithLabelValues("archive", OutcomeSuccess)
	before := counterValue(t, c)
	c.Inc()
	assert.Equal(t, before+1, counterValue(t, c))
}

func TestIntegrityChecksTotal_LabelsAreIndependent(t *testing.T) {
	valid := counterValue(t, IntegrityChecksTotal.WithLabelValues("valid"))
	IntegrityChecksTotal.WithLabelValues("tampered").Inc()
	assert.Equal(t, valid, counterValue(t, IntegrityChecksTotal.WithLabelValues("valid")))
}
