package ws

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

type recorder struct {
	lines  []string
	closed bool
	fail   bool
}

func (r *recorder) Send(p []byte) error {
	if r.fail {
		return errors.New("broken pipe")
	}
	r.lines = append(r.lines, string(p))
	return nil
}

func (r *recorder) Close() { r.closed = true }

func TestHubReplaysBacklog(t *testing.T) {
	h := NewHub(2)
	h.Broadcast("b1", []byte("Step 1/5"))
	h.Broadcast("b1", []byte("Step 2/5"))
	h.Broadcast("b1", []byte("Step 3/5"))

	late := &recorder{}
	if !h.Register("b1", late) {
		t.Fatalf("expected live registration")
	}
	if strings.Join(late.lines, ",") != "Step 2/5,Step 3/5" {
		t.Fatalf("unexpected replay %v", late.lines)
	}
	h.Broadcast("b1", []byte("Step 4/5"))
	if len(late.lines) != 3 {
		t.Fatalf("expected live line, got %v", late.lines)
	}
}

func TestHubFinishClosesSubscribers(t *testing.T) {
	h := NewHub(10)
	c := &recorder{}
	h.Register("b1", c)
	h.Broadcast("b1", []byte("done"))
	h.Finish("b1")
	if !c.closed {
		t.Fatalf("subscriber not closed")
	}
	if h.Subscribers("b1") != 0 {
		t.Fatalf("subscribers remain after finish")
	}

	late := &recorder{}
	if h.Register("b1", late) {
		t.Fatalf("finished bake must not accept subscribers")
	}
	if len(late.lines) != 1 || !late.closed {
		t.Fatalf("late reader should get the backlog then close: %+v", late)
	}
	h.Broadcast("b1", []byte("ignored"))
	h.Forget("b1")
	fresh := &recorder{}
	h.Register("b1", fresh)
	if len(fresh.lines) != 0 {
		t.Fatalf("backlog should be gone after Forget")
	}
}

func TestHubDropsFailingSubscriber(t *testing.T) {
	h := NewHub(10)
	bad := &recorder{fail: true}
	good := &recorder{}
	h.Register("b1", bad)
	h.Register("b1", good)
	h.Broadcast("b1", []byte("line"))
	if !bad.closed || h.Subscribers("b1") != 1 {
		t.Fatalf("failing subscriber should be dropped")
	}
	if len(good.lines) != 1 {
		t.Fatalf("healthy subscriber missed line")
	}
}

func TestHubDropsFinishedStreams(t *testing.T) {
	h := NewHub(10, WithRetention(10*time.Millisecond))
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("bake-%d", i)
		h.Broadcast(id, []byte("Step 1/9"))
		h.Finish(id)
	}
	deadline := time.Now().Add(5 * time.Second)
	for h.Streams() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("finished streams retained: %d", h.Streams())
		}
		time.Sleep(10 * time.Millisecond)
	}

	h = NewHub(10, WithRetention(0))
	h.Broadcast("b1", []byte("line"))
	h.Finish("b1")
	if h.Known("b1") {
		t.Fatalf("zero retention should drop the stream on finish")
	}
}

type blockingSubscriber struct {
	release chan struct{}
}

func (b *blockingSubscriber) Send([]byte) error {
	<-b.release
	return nil
}

func (b *blockingSubscriber) Close() {}

func TestHubSlowSubscriberDoesNotBlockOtherBakes(t *testing.T) {
	h := NewHub(10)
	slow := &blockingSubscriber{release: make(chan struct{})}
	defer close(slow.release)
	h.Register("slow", slow)
	go h.Broadcast("slow", []byte("stuck"))

	fast := &recorder{}
	h.Register("fast", fast)
	done := make(chan struct{})
	go func() {
		h.Broadcast("fast", []byte("line"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("broadcast to one bake blocked by a slow subscriber of another")
	}
	if len(fast.lines) != 1 {
		t.Fatalf("fast subscriber missed line: %v", fast.lines)
	}
}
