//go:build integration

package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"attestor/pkg/testutil/containers"
)

func TestNewAgainstContainer(t *testing.T) {
	rc := containers.GetManager().GetRedis(t)
	ctx := context.Background()

	c, err := New(ctx, rc.URL, Options{PoolSize: 4})
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Health(ctx))
}
