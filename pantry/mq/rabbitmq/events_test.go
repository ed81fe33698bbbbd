package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dalemusser/sessionkeep/pantry/session"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	sent []published
	err  error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange, key, msg})
	return nil
}

func TestEventPublisher(t *testing.T) {
	ch := &fakeChannel{}
	p := NewEventPublisher(ch, "sessionkeep.events")

	at := time.Date(2024, 5, 1, 12, 31, 0, 0, time.UTC)
	err := p.OnSessionEvent(context.Background(), session.Event{Type: session.EventExpired, SessionID: "abc", At: at})
	require.NoError(t, err)

	require.Len(t, ch.sent, 1)
	got := ch.sent[0]
	assert.Equal(t, "sessionkeep.events", got.exchange)
	assert.Equal(t, "session.expired", got.key)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, "expired", got.msg.Type)
	assert.NotEmpty(t, got.msg.MessageId)
	assert.True(t, got.msg.Timestamp.Equal(at))

	var decoded session.Event
	require.NoError(t, json.Unmarshal(got.msg.Body, &decoded))
	assert.Equal(t, "abc", decoded.SessionID)
	assert.Equal(t, session.EventExpired, decoded.Type)
}

func TestEventPublisher_ErrorIsLoggedNotFatal(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	p := NewEventPublisher(ch, "x")

	mem := session.NewMemoryBackendWithConfig(session.MemoryBackendConfig{CleanupInterval: -1})
	defer mem.Close()
	repo := session.NewRepository(mem, session.Config{Listener: p})

	ctx := context.Background()
	tr, err := repo.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, tr), "a failing listener must not fail the save")

	assert.Error(t, p.OnSessionEvent(ctx, session.Event{Type: session.EventCreated}))
}

func TestEventPublisher_RepositoryEvents(t *testing.T) {
	ch := &fakeChannel{}
	p := NewEventPublisher(ch, "x")

	mem := session.NewMemoryBackendWithConfig(session.MemoryBackendConfig{CleanupInterval: -1})
	defer mem.Close()
	repo := session.NewRepository(mem, session.Config{Listener: p})

	ctx := context.Background()
	tr, err := repo.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, tr))
	require.NoError(t, repo.Delete(ctx, tr.ID()))

	require.Len(t, ch.sent, 2)
	assert.Equal(t, "session.created", ch.sent[0].key)
	assert.Equal(t, "session.deleted", ch.sent[1].key)
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "session.created", RoutingKey(session.EventCreated))
	assert.Equal(t, "session.deleted", RoutingKey(session.EventDeleted))
}
