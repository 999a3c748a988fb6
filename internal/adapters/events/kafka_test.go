package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nhowze/overunder/internal/domain"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSink_Publish(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSink(w)
	pool := domain.Hash{0x01}
	at := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	err := sink.Publish(context.Background(),
		domain.Event{ID: "e1", Type: domain.EventBetPlaced, Pool: &pool, Amount: 950, Fee: 50, At: at},
		domain.Event{ID: "e2", Type: domain.EventDeposited, Account: "user:0xabc", Amount: 10, At: at},
	)
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)

	assert.Equal(t, pool.Hex(), string(w.msgs[0].Key))
	assert.Equal(t, "user:0xabc", string(w.msgs[1].Key))
	assert.Equal(t, "bet_placed", string(w.msgs[0].Headers[0].Value))

	var got domain.Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, uint64(950), got.Amount)
	assert.Equal(t, uint64(50), got.Fee)
	require.NotNil(t, got.Pool)
	assert.Equal(t, pool, *got.Pool)

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestKafkaSink_PublishError(t *testing.T) {
	sink := NewKafkaSink(&fakeWriter{err: errors.New("broker down")})
	err := sink.Publish(context.Background(), domain.Event{ID: "e1", Type: domain.EventClaimed})
	assert.ErrorContains(t, err, "broker down")
}

func TestKafkaSink_NoEvents(t *testing.T) {
	w := &fakeWriter{err: errors.New("should not be called")}
	assert.NoError(t, NewKafkaSink(w).Publish(context.Background()))
}

func TestFanout_DeliversToAll(t *testing.T) {
	a, b := &fakeWriter{err: errors.New("a down")}, &fakeWriter{}
	f := Fanout{NewKafkaSink(a), nil, NewKafkaSink(b)}

	err := f.Publish(context.Background(), domain.Event{ID: "e1", Type: domain.EventSold})
	assert.ErrorContains(t, err, "a down")
	assert.Len(t, b.msgs, 1)
}
