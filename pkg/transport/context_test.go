package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextEnqueueAndDeliver(t *testing.T) {
	receiver, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer receiver.Close()

	sender, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer sender.Close()

	ctx := NewContext(ContextConfig{})
	defer ctx.Close()

	dest := receiver.LocalAddr().(*net.UDPAddr)
	payload := []byte{0x01, 0x02, 0x03}

	require.NoError(t, ctx.Enqueue(Outbound{Conn: sender, Dest: dest, Payload: payload}))

	buf := make([]byte, 64)
	require.NoError(t, receiver.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := receiver.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])
}

func TestContextEnqueueBatchAtomic(t *testing.T) {
	ctx := NewContext(ContextConfig{QueueSize: 2})
	defer ctx.Close()

	// Батч больше емкости очереди отклоняется целиком
	batch := []Outbound{{}, {}, {}}
	err := ctx.EnqueueBatch(batch)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueFull)

	// После отказа очередь осталась рабочей и вмещает допустимый батч
	assert.NoError(t, ctx.EnqueueBatch([]Outbound{{}, {}}))
}

func TestContextEnqueueEmptyBatch(t *testing.T) {
	ctx := NewContext(ContextConfig{})
	defer ctx.Close()

	assert.NoError(t, ctx.EnqueueBatch(nil))
}

func TestContextAttachDetach(t *testing.T) {
	ctx := NewContext(ContextConfig{})

	require.NoError(t, ctx.Attach())
	require.NoError(t, ctx.Attach())
	assert.Equal(t, 2, ctx.Attached())

	// Контекст с прикрепленными отправителями закрыть нельзя
	err := ctx.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSendersAttached)

	// Отказ закрытия не ломает контекст
	assert.NoError(t, ctx.Enqueue(Outbound{}))

	ctx.Detach()
	ctx.Detach()
	assert.Equal(t, 0, ctx.Attached())

	assert.NoError(t, ctx.Close())
}

func TestContextCloseIdempotent(t *testing.T) {
	ctx := NewContext(ContextConfig{})

	require.NoError(t, ctx.Close())
	assert.NoError(t, ctx.Close())
}

func TestContextEnqueueAfterClose(t *testing.T) {
	ctx := NewContext(ContextConfig{})
	require.NoError(t, ctx.Close())

	err := ctx.Enqueue(Outbound{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContextClosed)

	err = ctx.Attach()
	assert.ErrorIs(t, err, ErrContextClosed)
}
