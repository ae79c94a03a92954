package realtime

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func assertEmpty(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case msg := <-sub.C():
		t.Fatalf("unexpected message %q", msg.Type)
	default:
	}
}

func TestHubRouting(t *testing.T) {
	hub := NewHub(8)
	staff := hub.Subscribe(TopicStaff)
	userA := hub.Subscribe(SessionTopic("a"))
	userB := hub.Subscribe(SessionTopic("b"))
	defer staff.Close()
	defer userA.Close()
	defer userB.Close()

	b := NewBroadcaster(hub)
	b.ToUser(NewMessage(TypeCommand, "a", map[string]any{"command": CommandAccept}))
	b.ToStaff(NewMessage(TypeSessionUpdate, "a", map[string]any{"event": EventSessionUpdated}))

	assert.Equal(t, TypeCommand, receive(t, userA).Type)
	assert.Equal(t, TypeSessionUpdate, receive(t, staff).Type)
	assertEmpty(t, userB)
	assertEmpty(t, staff)

	b.ToUser(NewMessage(TypeCommand, "", nil))
	assertEmpty(t, userA)
	assertEmpty(t, userB)
}

func TestHubDropsWhenFull(t *testing.T) {
	hub := NewHub(2)
	slow := hub.Subscribe(TopicStaff)
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish(TopicStaff, NewMessage(TypeBroadcast, "", map[string]any{"n": i}))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	assert.Equal(t, 0, receive(t, slow).Payload["n"])
	assert.Equal(t, 1, receive(t, slow).Payload["n"])
	assertEmpty(t, slow)
}

func TestHubPreservesOrderPerSubscriber(t *testing.T) {
	hub := NewHub(64)
	sub := hub.Subscribe(SessionTopic("s"))
	defer sub.Close()

	for i := 0; i < 50; i++ {
		hub.Publish(SessionTopic("s"), NewMessage(TypeSessionUpdate, "s", map[string]any{"seq": i}))
	}
	for i := 0; i < 50; i++ {
		assert.Equal(t, i, receive(t, sub).Payload["seq"])
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub(4)
	sub := hub.Subscribe(TopicStaff)
	assert.Equal(t, 1, hub.Count(TopicStaff))

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.Count(TopicStaff))

	_, ok := <-sub.C()
	assert.False(t, ok)

	hub.Publish(TopicStaff, NewMessage(TypeBroadcast, "", nil))
}

func TestHubConcurrentUse(t *testing.T) {
	hub := NewHub(4)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := hub.Subscribe(TopicStaff)
			time.Sleep(time.Millisecond)
			sub.Close()
		}()
		go func() {
			defer wg.Done()
			hub.Publish(TopicStaff, NewMessage(TypeBroadcast, "", nil))
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Count(TopicStaff))
}

func TestMessageJSON(t *testing.T) {
	ts := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	msg := Message{Type: TypeUserStatus, SessionID: "s1", Timestamp: ts, Payload: map[string]any{"online": true}}

	b, err := json.Marshal(msg)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(b, &flat))
	assert.Equal(t, "user_status", flat["type"])
	assert.Equal(t, "s1", flat["session_id"])
	assert.Equal(t, true, flat["online"])

	var back Message
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, TypeUserStatus, back.Type)
	assert.Equal(t, "s1", back.SessionID)
	assert.True(t, ts.Equal(back.Timestamp))
	assert.Equal(t, true, back.Payload["online"])
	assert.NotContains(t, back.Payload, "type")
}

func TestMessageInboundEnvelope(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"type":"redirect_user","session_id":"abc","target_stage":"kyc"}`), &msg))

	assert.Equal(t, "redirect_user", msg.Type)
	assert.Equal(t, "abc", msg.SessionID)
	assert.Empty(t, msg.StringField("session_id"))
	assert.Equal(t, "kyc", msg.StringField("target_stage"))
}

func TestChannelKind(t *testing.T) {
	assert.Equal(t, "session", channelKind(SessionTopic("abc")))
	assert.Equal(t, "staff", channelKind(TopicStaff))
}
