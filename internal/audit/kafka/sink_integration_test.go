//go:build integration

package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"attestor/internal/audit"
	"attestor/pkg/testutil/containers"
)

type SinkSuite struct {
	suite.Suite
	brokers []string
}

func TestSinkSuite(t *testing.T) {
	suite.Run(t, new(SinkSuite))
}

func (s *SinkSuite) SetupSuite() {
	s.brokers = containers.GetManager().GetRedpanda(s.T()).Brokers
}

func (s *SinkSuite) TestWriteThroughPublisher() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	topic := "audit-" + time.Now().Format("150405.000")
	sink, err := New(Config{Brokers: s.brokers, Topic: topic}, nil)
	s.Require().NoError(err)
	defer sink.Close(ctx)
	s.Require().NoError(sink.EnsureTopic(ctx, 1, 1))
	s.Require().NoError(sink.EnsureTopic(ctx, 1, 1), "second ensure is a no-op")

	pub := audit.NewPublisher(sink, audit.WithAsyncBuffer(16))
	s.Require().NoError(pub.Emit(ctx, audit.Event{
		Action:       audit.ActionVerificationCompleted,
		SubjectHash:  "abc",
		Jurisdiction: "GB",
		Outcome:      "ALLOW",
	}))
	pub.Close()

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	var got []audit.Event
	for len(got) == 0 && ctx.Err() == nil {
		fetches := consumer.PollFetches(ctx)
		fetches.EachRecord(func(r *kgo.Record) {
			var e audit.Event
			require.NoError(s.T(), json.Unmarshal(r.Value, &e))
			got = append(got, e)
		})
	}
	s.Require().Len(got, 1)
	s.Equal(audit.ActionVerificationCompleted, got[0].Action)
	s.Equal("abc", got[0].SubjectHash)
}
