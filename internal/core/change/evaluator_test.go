package change

import (
	"testing"

	"github.com/parthCJ/Aarma-be/internal/domain"
)

func TestSignificantWithoutBaseline(t *testing.T) {
	e, err := NewEvaluator(DefaultThreshold)
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	for _, v := range []float64{0, -1000, 1e9} {
		if !e.Significant(domain.Channel{Name: "Temp", Value: v}, nil) {
			t.Fatalf("expected first sighting of value %v to be significant", v)
		}
	}
}

func TestSignificantThreshold(t *testing.T) {
	e, _ := NewEvaluator(DefaultThreshold)
	prev := &domain.Channel{Name: "Temp", Value: 20.0}

	cases := []struct {
		value float64
		want  bool
	}{
		{20.0, false},
		{24.9, false},
		{25.0, true},
		{15.0, true},
		{15.1, false},
		{40.0, true},
	}
	for _, tc := range cases {
		if got := e.Significant(domain.Channel{Name: "Temp", Value: tc.value}, prev); got != tc.want {
			t.Fatalf("value %v against 20.0: expected %v, got %v", tc.value, tc.want, got)
		}
	}
}

func TestSignificantIgnoresNonValueFields(t *testing.T) {
	e, _ := NewEvaluator(DefaultThreshold)
	prev := &domain.Channel{Name: "Temp", Value: 20, Status: "OK", Unit: "C", Health: "Good"}
	next := domain.Channel{Name: "Temp", Value: 20, Status: "Error", Unit: "F", Health: "Bad", Note: "changed"}
	if e.Significant(next, prev) {
		t.Fatalf("metadata changes alone must not be significant")
	}
}

func TestSignificantDeterministic(t *testing.T) {
	e, _ := NewEvaluator(2.5)
	prev := &domain.Channel{Value: 1}
	next := domain.Channel{Value: 3.5}
	first := e.Significant(next, prev)
	for i := 0; i < 100; i++ {
		if e.Significant(next, prev) != first {
			t.Fatalf("evaluation changed between calls")
		}
	}
	if !first {
		t.Fatalf("expected delta equal to threshold to be significant")
	}
}

func TestNewEvaluatorRejectsNegative(t *testing.T) {
	if _, err := NewEvaluator(-0.1); err == nil {
		t.Fatalf("expected negative threshold to be rejected")
	}
	e, err := NewEvaluator(0)
	if err != nil {
		t.Fatalf("zero threshold should be allowed: %v", err)
	}
	if !e.Significant(domain.Channel{Value: 1}, &domain.Channel{Value: 1}) {
		t.Fatalf("zero threshold keeps every reading")
	}
}
