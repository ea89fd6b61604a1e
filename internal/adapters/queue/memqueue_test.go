package queue

import (
	"testing"

	"github.com/parthCJ/Aarma-be/internal/domain"
)

func TestMemQueueKeepsFIFOOrder(t *testing.T) {
	q := NewMemQueue(4)

	if !q.Enqueue(1, &domain.Batch{SensorID: "s1"}) || !q.Enqueue(2, &domain.Batch{SensorID: "s2"}) {
		t.Fatalf("expected successful enqueue")
	}

	first := q.DequeueBatch(1)
	if len(first) != 1 || first[0].ID != 1 || first[0].Batch.SensorID != "s1" {
		t.Fatalf("unexpected first dequeue: %+v", first)
	}

	rest := q.DequeueBatch(10)
	if len(rest) != 1 || rest[0].ID != 2 {
		t.Fatalf("unexpected second dequeue: %+v", rest)
	}
	if q.Len() != 0 {
		t.Fatalf("queue should be empty, got %d", q.Len())
	}
	if q.DequeueBatch(1) != nil {
		t.Fatalf("expected nil from empty queue")
	}
}

func TestMemQueueRejectsWhenFull(t *testing.T) {
	q := NewMemQueue(2)
	b := &domain.Batch{SensorID: "cap"}

	if !q.Enqueue(1, b) || !q.Enqueue(2, b) {
		t.Fatalf("expected enqueue within capacity")
	}
	if q.Enqueue(3, b) {
		t.Fatalf("enqueue should fail when capacity exceeded")
	}

	q.DequeueBatch(1)
	if !q.Enqueue(4, b) {
		t.Fatalf("expected enqueue to succeed after dequeue")
	}
}

func TestMemQueueReadySignals(t *testing.T) {
	q := NewMemQueue(4)
	select {
	case <-q.Ready():
		t.Fatalf("empty queue must not be ready")
	default:
	}

	q.Enqueue(1, &domain.Batch{SensorID: "s1"})
	q.Enqueue(2, &domain.Batch{SensorID: "s1"})
	select {
	case <-q.Ready():
	default:
		t.Fatalf("expected ready signal after enqueue")
	}
}
