package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/metrics"
)

func msg(i int) Message {
	return Message{Topic: fmt.Sprintf("t/%d", i)}
}

func TestInbox_FIFO(t *testing.T) {
	in := NewInbox(4, nil)
	for i := 0; i < 3; i++ {
		assert.False(t, in.Push(msg(i)))
	}
	assert.Equal(t, 3, in.Len())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		m, ok := in.Pop(ctx)
		require.True(t, ok)
		assert.Equal(t, msg(i).Topic, m.Topic)
	}
	assert.Equal(t, 0, in.Len())
}

func TestInbox_DropsOldestWhenFull(t *testing.T) {
	met := metrics.New()
	in := NewInbox(3, met)
	for i := 0; i < 5; i++ {
		in.Push(msg(i))
	}

	assert.Equal(t, uint64(2), in.Dropped())
	assert.Equal(t, 2.0, testutil.ToFloat64(met.InboxDropped))
	assert.Equal(t, 3.0, testutil.ToFloat64(met.InboxDepth))

	ctx := context.Background()
	var got []string
	for in.Len() > 0 {
		m, _ := in.Pop(ctx)
		got = append(got, m.Topic)
	}
	assert.Equal(t, []string{"t/2", "t/3", "t/4"}, got)
}

func TestInbox_PopBlocksUntilPush(t *testing.T) {
	in := NewInbox(1, nil)
	got := make(chan Message, 1)
	go func() {
		m, ok := in.Pop(context.Background())
		if ok {
			got <- m
		}
	}()

	time.Sleep(20 * time.Millisecond)
	in.Push(msg(7))

	select {
	case m := <-got:
		assert.Equal(t, "t/7", m.Topic)
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not wake up")
	}
}

func TestInbox_PopHonoursContext(t *testing.T) {
	in := NewInbox(1, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := in.Pop(ctx)
	assert.False(t, ok)
}

func TestNewInbox_MinimumCapacity(t *testing.T) {
	in := NewInbox(0, nil)
	in.Push(msg(1))
	assert.True(t, in.Push(msg(2)))
	assert.Equal(t, 1, in.Len())
}
