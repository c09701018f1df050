//go:build unit

package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amqp "github.com/rabbitmq/amqp091-go"
)

type mockConfirmableChannel struct {
	mu              sync.Mutex
	confirmErr      error
	publishErr      error
	confirms        chan amqp.Confirmation
	closeNotify     chan *amqp.Error
	publishCalled   bool
	closeCalled     bool
	deliveryCounter uint64
	last            amqp.Publishing
	lastExchange    string
	lastKey         string
}

func newMockChannel() *mockConfirmableChannel {
	return &mockConfirmableChannel{closeNotify: make(chan *amqp.Error, 1)}
}

func (m *mockConfirmableChannel) Confirm(_ bool) error {
	return m.confirmErr
}

func (m *mockConfirmableChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirms = confirm

	return confirm
}

func (m *mockConfirmableChannel) NotifyClose(_ chan *amqp.Error) chan *amqp.Error {
	return m.closeNotify
}

func (m *mockConfirmableChannel) PublishWithContext(
	_ context.Context,
	exchange, key string,
	_, _ bool,
	msg amqp.Publishing,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishCalled = true
	m.deliveryCounter++
	m.last = msg
	m.lastExchange = exchange
	m.lastKey = key

	return m.publishErr
}

func (m *mockConfirmableChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalled = true

	return nil
}

func (m *mockConfirmableChannel) closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closeCalled
}

func (m *mockConfirmableChannel) sendConfirm(ack bool) {
	m.mu.Lock()
	tag := m.deliveryCounter
	confirms := m.confirms
	m.mu.Unlock()

	confirms <- amqp.Confirmation{DeliveryTag: tag, Ack: ack}
}

func (m *mockConfirmableChannel) waitForPublish(t *testing.T) {
	t.Helper()

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()

		return m.deliveryCounter > 0
	}, time.Second, time.Millisecond)
}

func TestNewConfirmablePublisherFromChannel_Nil(t *testing.T) {
	t.Parallel()

	pub, err := NewConfirmablePublisherFromChannel(nil)
	assert.Nil(t, pub)
	assert.ErrorIs(t, err, ErrChannelRequired)
}

func TestNewConfirmablePublisherFromChannel_ConfirmUnavailable(t *testing.T) {
	t.Parallel()

	ch := newMockChannel()
	ch.confirmErr = errors.New("not supported")

	pub, err := NewConfirmablePublisherFromChannel(ch)
	assert.Nil(t, pub)
	assert.ErrorIs(t, err, ErrConfirmModeUnavailable)
}

func TestPublishAndWaitConfirm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		ack     bool
		wantErr error
	}{
		{name: "ack", ack: true},
		{name: "nack", ack: false, wantErr: ErrPublishNacked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ch := newMockChannel()
			pub, err := NewConfirmablePublisherFromChannel(ch)
			require.NoError(t, err)
			t.Cleanup(func() { _ = pub.Close() })

			go func() {
				ch.waitForPublish(t)
				ch.sendConfirm(tt.ack)
			}()

			err = pub.PublishAndWaitConfirm(context.Background(), "ex", "key", false, false, amqp.Publishing{Body: []byte("{}")})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
		})
	}
}

func TestPublishAndWaitConfirm_PublishError(t *testing.T) {
	t.Parallel()

	ch := newMockChannel()
	ch.publishErr = errors.New("channel gone")

	pub, err := NewConfirmablePublisherFromChannel(ch)
	require.NoError(t, err)

	err = pub.PublishAndWaitConfirm(context.Background(), "ex", "key", false, false, amqp.Publishing{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel gone")
	assert.False(t, pub.Closed())
}

func TestPublishAndWaitConfirm_TimeoutInvalidatesChannel(t *testing.T) {
	t.Parallel()

	ch := newMockChannel()
	pub, err := NewConfirmablePublisherFromChannel(ch, WithConfirmTimeout(10*time.Millisecond))
	require.NoError(t, err)

	err = pub.PublishAndWaitConfirm(context.Background(), "ex", "key", false, false, amqp.Publishing{})
	assert.ErrorIs(t, err, ErrConfirmTimeout)
	assert.True(t, pub.Closed())
	assert.True(t, ch.closed())

	err = pub.PublishAndWaitConfirm(context.Background(), "ex", "key", false, false, amqp.Publishing{})
	assert.ErrorIs(t, err, ErrPublisherClosed)
}

func TestPublishAndWaitConfirm_ContextCancelled(t *testing.T) {
	t.Parallel()

	ch := newMockChannel()
	pub, err := NewConfirmablePublisherFromChannel(ch)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ch.waitForPublish(t)
		cancel()
	}()

	err = pub.PublishAndWaitConfirm(ctx, "ex", "key", false, false, amqp.Publishing{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, pub.Closed())
}

func TestConfirmablePublisher_BrokerCloseStopsPublishing(t *testing.T) {
	t.Parallel()

	ch := newMockChannel()
	pub, err := NewConfirmablePublisherFromChannel(ch)
	require.NoError(t, err)

	ch.closeNotify <- &amqp.Error{Code: amqp.ChannelError, Reason: "gone"}

	require.Eventually(t, pub.Closed, time.Second, time.Millisecond)

	err = pub.PublishAndWaitConfirm(context.Background(), "ex", "key", false, false, amqp.Publishing{})
	assert.ErrorIs(t, err, ErrPublisherClosed)
}

func TestConfirmablePublisher_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	ch := newMockChannel()
	pub, err := NewConfirmablePublisherFromChannel(ch)
	require.NoError(t, err)

	require.NoError(t, pub.Close())
	require.NoError(t, pub.Close())
	assert.True(t, ch.closed())

	var nilPub *ConfirmablePublisher
	assert.ErrorIs(t, nilPub.Close(), ErrPublisherRequired)
}
