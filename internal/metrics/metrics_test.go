package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestDefaultIsShared(t *testing.T) {
	m := Default()
	assert.Same(t, m, Default())

	before := testutil.ToFloat64(m.StateConflictsTotal.WithLabelValues("brief"))
	m.StateConflictsTotal.WithLabelValues("brief").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(m.StateConflictsTotal.WithLabelValues("brief")))
}
