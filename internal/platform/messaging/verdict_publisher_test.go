package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"tle_zone_contest/internal/domain/model"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	published []amqp.Publishing
	keys      []string
	err       error
	closed    bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestPublishVerdictSendsPersistentJSON(t *testing.T) {
	ch := &fakeChannel{}
	p := newVerdictPublisher(ch, "verdicts")

	contestID := "c1"
	judgedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := p.PublishVerdict(context.Background(), model.VerdictEvent{
		SubmissionID: "s1", UserID: "u1", ProblemID: "p1", ContestID: &contestID,
		Status: model.StatusAccepted, Score: 100, JudgedAt: judgedAt,
	})
	require.NoError(t, err)

	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, "verdicts", ch.keys[0])
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "s1", msg.CorrelationId)

	var got model.VerdictEvent
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, model.StatusAccepted, got.Status)
	assert.Equal(t, "c1", *got.ContestID)
	assert.True(t, judgedAt.Equal(got.JudgedAt))

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestPublishVerdictWrapsBrokerError(t *testing.T) {
	p := newVerdictPublisher(&fakeChannel{err: errors.New("channel closed")}, "verdicts")
	err := p.PublishVerdict(context.Background(), model.VerdictEvent{SubmissionID: "s1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s1")
}
