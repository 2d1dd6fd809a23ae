package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/videoapp/api/internal/model"
)

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case data := <-c.Send:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return nil
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestNoticeGoesToCaptureTopic(t *testing.T) {
	hub := startHub(t)

	capture := &Client{Topic: model.TopicCapture, Send: make(chan []byte, 4)}
	other := &Client{Topic: "video_overlay_worker", Send: make(chan []byte, 4)}
	hub.Register(capture)
	hub.Register(other)

	hub.Notice(model.NoticeInfo, "Recording Started.")

	var msg model.WSNoticeMessage
	if err := json.Unmarshal(receive(t, capture), &msg); err != nil {
		t.Fatalf("invalid message: %v", err)
	}
	if msg.Type != model.WSMessageTypeNotice || msg.Message != "Recording Started." || msg.Kind != model.NoticeInfo {
		t.Errorf("unexpected notice %+v", msg)
	}

	select {
	case data := <-other.Send:
		t.Errorf("unexpected message on job topic: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStatusGoesToJobTopic(t *testing.T) {
	hub := startHub(t)

	client := &Client{Topic: "video_overlay_worker", Send: make(chan []byte, 4)}
	hub.Register(client)

	hub.BroadcastStatus(model.JobStatusEvent{JobID: "job-1", Key: "video_overlay_worker", Status: model.JobStatusRunning})

	var msg model.WSStatusMessage
	if err := json.Unmarshal(receive(t, client), &msg); err != nil {
		t.Fatalf("invalid message: %v", err)
	}
	if msg.Event.JobID != "job-1" || msg.Event.Status != model.JobStatusRunning {
		t.Errorf("unexpected status %+v", msg.Event)
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	hub := startHub(t)

	client := &Client{Topic: model.TopicCapture, Send: make(chan []byte, 1)}
	hub.Register(client)
	if n := hub.Subscribers(model.TopicCapture); n != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n)
	}

	hub.Unregister(client)
	hub.StateChanged(model.CaptureStateIdle, "")

	select {
	case _, ok := <-client.Send:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send channel not closed")
	}
	if n := hub.Subscribers(model.TopicCapture); n != 0 {
		t.Errorf("expected 0 subscribers, got %d", n)
	}
}

func TestSlowClientDroppedWithoutPanic(t *testing.T) {
	hub := startHub(t)

	client := &Client{Topic: model.TopicCapture, Send: make(chan []byte, 1)}
	hub.Register(client)

	hub.Notice(model.NoticeInfo, "first")
	hub.Notice(model.NoticeInfo, "second")

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers(model.TopicCapture) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("slow client was not dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The reader still answers pings after the hub gave up on the client.
	if client.trySend([]byte(`{"type":"pong"}`)) {
		t.Error("expected send to a dropped client to be refused")
	}

	<-client.Send
	if _, ok := <-client.Send; ok {
		t.Error("expected closed channel after the buffered message")
	}

	// Unregistering a dropped client must not close Send twice.
	hub.Unregister(client)
}
