package broadcast

import (
	"errors"
	"testing"
	"time"
)

type recordingSender struct {
	rooms []string
	types []string
}

func (r *recordingSender) SendToRoom(roomID, msgType string, data any) error {
	r.rooms = append(r.rooms, roomID)
	r.types = append(r.types, msgType)
	return nil
}

func TestToRoomWithoutSender(t *testing.T) {
	SetSender(nil)
	if err := ToRoom("room1", TypeMessage, nil); !errors.Is(err, ErrNotReady) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestToRoomDelivers(t *testing.T) {
	rec := &recordingSender{}
	SetSender(rec)
	t.Cleanup(func() { SetSender(nil) })

	if err := ToRoom("room1", TypeTriadLocked, map[string]any{"triad_id": "t1"}); err != nil {
		t.Fatalf("ToRoom failed: %v", err)
	}
	if len(rec.rooms) != 1 || rec.rooms[0] != "room1" || rec.types[0] != TypeTriadLocked {
		t.Fatalf("unexpected delivery: rooms=%v types=%v", rec.rooms, rec.types)
	}
}

func TestWarmupRunsRegisteredFunc(t *testing.T) {
	done := make(chan struct{})
	SetWarmup(func() { close(done) })
	t.Cleanup(func() { SetWarmup(nil) })

	Warmup()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("warmup was not called")
	}
}
