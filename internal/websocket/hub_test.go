package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/livewall/api/internal/assetstate"
	"github.com/livewall/api/internal/model"
)

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg, ok := <-c.Send:
		if !ok {
			t.Fatal("client channel closed")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestHub_BroadcastStateReachesSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(zerolog.Nop())
	go hub.Run(ctx)

	subscriber := &Client{WallpaperID: "wp-1", Send: make(chan []byte, 4)}
	other := &Client{WallpaperID: "wp-2", Send: make(chan []byte, 4)}
	hub.Register(subscriber)
	hub.Register(other)

	hub.BroadcastState("wp-1", assetstate.Snapshot{State: assetstate.Loading(), Generation: 3})

	var msg model.WSStateMessage
	if err := json.Unmarshal(receive(t, subscriber), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != model.WSMessageTypeState || msg.State.Kind != assetstate.KindLoading || msg.Generation != 3 {
		t.Errorf("unexpected message %+v", msg)
	}

	// Flush the hub loop before checking the other client.
	hub.BroadcastError("wp-2", "job-1", "ANIMATE_FAILED", "could not animate")
	var errMsg model.WSErrorMessage
	if err := json.Unmarshal(receive(t, other), &errMsg); err != nil {
		t.Fatal(err)
	}
	if errMsg.Error.Message != "could not animate" {
		t.Errorf("other client got %+v", errMsg)
	}
	select {
	case extra := <-other.Send:
		t.Errorf("wp-2 subscriber received wp-1 traffic: %s", extra)
	default:
	}
}

func TestHub_UnregisterClosesChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(zerolog.Nop())
	go hub.Run(ctx)

	c := &Client{WallpaperID: "wp-1", Send: make(chan []byte, 1)}
	hub.Register(c)
	hub.Unregister(c)

	select {
	case _, ok := <-c.Send:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after unregister")
	}
}

func TestHub_DoesNotBlockAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(zerolog.Nop())

	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	subscribed := &Client{WallpaperID: "wp-1", Send: make(chan []byte, 1)}
	hub.Register(subscribed)
	cancel()
	<-stopped

	if _, ok := <-subscribed.Send; ok {
		t.Error("subscriber channel left open at shutdown")
	}

	late := &Client{WallpaperID: "wp-1", Send: make(chan []byte, 1)}
	finished := make(chan struct{})
	go func() {
		// More broadcasts than the buffer holds, as a draining worker would send.
		for i := 0; i < 300; i++ {
			hub.BroadcastState("wp-1", assetstate.Snapshot{State: assetstate.Loading(), Generation: uint64(i)})
		}
		hub.Register(late)
		hub.Unregister(late)
		hub.Unregister(subscribed)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("hub calls blocked after shutdown")
	}
	if _, ok := <-late.Send; ok {
		t.Error("client registered after shutdown must be closed")
	}
}
