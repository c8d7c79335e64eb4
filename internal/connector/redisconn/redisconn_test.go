package redisconn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attestor/internal/connector"
	"attestor/internal/facts"
)

func TestDecode(t *testing.T) {
	c, err := New(stubClient(), Config{
		Name:     "cache",
		Provides: []string{"credit_score", "verified", "tier"},
		Types: map[string]facts.Kind{
			"credit_score": facts.KindNumber,
			"verified":     facts.KindBool,
		},
	})
	require.NoError(t, err)

	values, err := c.decode(map[string]string{
		"credit_score": "701.5",
		"verified":     "true",
		"tier":         "gold",
		"ignored":      "x",
	})
	require.NoError(t, err)

	score, err := facts.NumberFromString("701.5")
	require.NoError(t, err)
	assert.Equal(t, facts.Values{
		"credit_score": score,
		"verified":     facts.Bool(true),
		"tier":         facts.String("gold"),
	}, values)

	_, err = c.decode(map[string]string{"credit_score": "lots"})
	assert.Equal(t, connector.CategoryBadData, connector.CategoryOf(err))
}

func TestClassify(t *testing.T) {
	c, err := New(stubClient(), Config{Name: "cache"})
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, connector.CategoryTimeout, connector.CategoryOf(c.classify(ctx, context.DeadlineExceeded)))
	assert.Equal(t, connector.CategoryAuth, connector.CategoryOf(c.classify(ctx, errors.New("NOAUTH Authentication required."))))
	assert.Equal(t, connector.CategoryBadData, connector.CategoryOf(c.classify(ctx, errors.New("WRONGTYPE Operation against a key"))))
	assert.Equal(t, connector.CategoryTransport, connector.CategoryOf(c.classify(ctx, errors.New("dial tcp: connection refused"))))
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, Config{Name: "cache"})
	assert.Error(t, err)
	_, err = New(stubClient(), Config{Name: "cache", KeyPattern: "facts:static"})
	assert.Error(t, err)

	c, err := New(stubClient(), Config{Name: "cache"})
	require.NoError(t, err)
	assert.Equal(t, "facts:ABC", c.key("ABC"))
}
