//go:build integration

package redisconn_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"attestor/internal/connector"
	"attestor/internal/connector/redisconn"
	"attestor/internal/facts"
	"attestor/pkg/testutil/containers"
)

type RedisConnectorSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	conn  *redisconn.Connector
}

func TestRedisConnectorSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisConnectorSuite))
}

func (s *RedisConnectorSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	conn, err := redisconn.New(s.redis.Client, redisconn.Config{
		Name:  "cache",
		Types: map[string]facts.Kind{"credit_score": facts.KindNumber},
	})
	s.Require().NoError(err)
	s.conn = conn
}

func (s *RedisConnectorSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisConnectorSuite) TestFetchHash() {
	ctx := context.Background()
	s.Require().NoError(s.redis.SeedHash(ctx, "facts:ABC123", map[string]string{"credit_score": "720", "status": "employed"}))

	values, err := s.conn.Fetch(ctx, connector.Subject{ID: "ABC123"})
	s.Require().NoError(err)
	s.True(facts.Int(720).Equal(values["credit_score"]))
	s.True(facts.String("employed").Equal(values["status"]))
}

func (s *RedisConnectorSuite) TestMissingKeyIsNotFound() {
	_, err := s.conn.Fetch(context.Background(), connector.Subject{ID: "NOPE"})
	s.Equal(connector.CategoryNotFound, connector.CategoryOf(err))
}

func (s *RedisConnectorSuite) TestWrongTypeIsBadData() {
	ctx := context.Background()
	s.Require().NoError(s.redis.Client.Set(ctx, "facts:STR", "x", 0).Err())
	_, err := s.conn.Fetch(ctx, connector.Subject{ID: "STR"})
	s.Equal(connector.CategoryBadData, connector.CategoryOf(err))
}
