package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestInMemoryRoundtrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	q := NewInMemory(4)
	msg, err := Encode(TypeFaceScan, FaceScanEvent{ImageURL: "https://cdn/img.jpg", CourseID: "C1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Publish(ctx, msg); err != nil {
		t.Fatal(err)
	}

	out, err := q.Consume(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got := <-out
	if got.Type != TypeFaceScan {
		t.Fatalf("type = %s, want %s", got.Type, TypeFaceScan)
	}
	var evt FaceScanEvent
	if err := json.Unmarshal(got.Body, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.ImageURL != "https://cdn/img.jpg" || evt.CourseID != "C1" {
		t.Fatalf("event = %+v", evt)
	}
}

func TestSerializeRoundtrip(t *testing.T) {
	msg := Message{Type: TypePhotoEnroll, Body: []byte(`{"student_id":"S|1"}`)}
	got := deserialize(serialize(msg))
	if got.Type != msg.Type || string(got.Body) != string(msg.Body) {
		t.Fatalf("roundtrip = %+v, want %+v", got, msg)
	}

	bare := deserialize("no-separator")
	if bare.Type != "" || string(bare.Body) != "no-separator" {
		t.Fatalf("bare = %+v", bare)
	}
}
