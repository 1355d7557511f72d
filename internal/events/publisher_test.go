package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublisherDeliversToSubscriber(t *testing.T) {
	p := NewMemoryPublisher()
	defer p.Close()

	ch := p.Subscribe("task_1")
	p.Publish(NewEvent(EventTaskStarted, "task_1", nil))

	select {
	case ev := <-ch:
		assert.Equal(t, EventTaskStarted, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestMemoryPublisherGlobalSubscriber(t *testing.T) {
	p := NewMemoryPublisher()
	defer p.Close()

	global := p.Subscribe(GlobalTaskID)
	p.Publish(NewEvent(EventTaskCompleted, "task_2", nil))

	select {
	case ev := <-global:
		assert.Equal(t, "task_2", ev.TaskID)
	case <-time.After(time.Second):
		t.Fatal("global subscriber did not receive event")
	}
}

func TestMemoryPublisherUnsubscribe(t *testing.T) {
	p := NewMemoryPublisher()
	defer p.Close()

	ch := p.Subscribe("task_3")
	p.Unsubscribe("task_3", ch)
	assert.Equal(t, 0, p.SubscriberCount("task_3"))
}

func TestMemoryPublisherCloseClosesSubscribers(t *testing.T) {
	p := NewMemoryPublisher()
	ch := p.Subscribe("task_4")
	p.Close()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestNopPublisher(t *testing.T) {
	p := NewNopPublisher()
	p.Publish(NewEvent(EventTaskStarted, "x", nil))
	ch := p.Subscribe("x")
	_, ok := <-ch
	require.False(t, ok)
}
