//go:build integration

package postgres

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attestor/internal/platform/metrics"
	"attestor/pkg/testutil/containers"
)

func TestOpenAgainstContainer(t *testing.T) {
	pg := containers.GetManager().GetPostgres(t)

	pool, err := Open(context.Background(), pg.DSN, 4)
	require.NoError(t, err)
	defer pool.Close()

	reg := prometheus.NewRegistry()
	metrics.RegisterPoolMetrics(reg, pool)
	n, err := testutil.GatherAndCount(reg, "attestor_db_pool_max")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
