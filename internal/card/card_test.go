package card

import (
	"testing"
	"time"
)

func TestClampPosition(t *testing.T) {
	cases := []struct {
		name string
		in   Position
		want Position
	}{
		{"inside", Position{X: 108, Y: 108}, Position{X: 108, Y: 108}},
		{"negative", Position{X: -10, Y: -1}, Position{X: 0, Y: 0}},
		{"beyond", Position{X: 500, Y: 600}, Position{X: CanvasWidth, Y: CanvasHeight}},
		{"on edge", Position{X: CanvasWidth, Y: 0}, Position{X: CanvasWidth, Y: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClampPosition(tc.in)
			if got != tc.want {
				t.Fatalf("ClampPosition(%v) = %v, want %v", tc.in, got, tc.want)
			}
			// 幂等：再夹一次结果不变。
			if again := ClampPosition(got); again != got {
				t.Fatalf("ClampPosition not idempotent: %v -> %v", got, again)
			}
		})
	}
}

func TestNewField(t *testing.T) {
	f := NewField(276, 392)
	if f.Label != DefaultFieldLabel {
		t.Fatalf("label = %q, want %q", f.Label, DefaultFieldLabel)
	}
	want := Position{X: CanvasWidth - 276, Y: CanvasHeight - 392}
	if f.Position != want {
		t.Fatalf("position = %v, want %v", f.Position, want)
	}

	// 点击画布外侧也要收敛到范围内。
	edge := NewField(-50, CanvasHeight+10)
	if edge.Position.X != CanvasWidth || edge.Position.Y != 0 {
		t.Fatalf("edge position = %v, want (%g, 0)", edge.Position, CanvasWidth)
	}
}

func TestFieldPositionFallsBackToDefault(t *testing.T) {
	var c Card
	if got := c.FieldPosition(); got != DefaultPosition {
		t.Fatalf("position = %v, want default %v", got, DefaultPosition)
	}

	c.TextFields = []TextField{{Label: DefaultFieldLabel, Position: Position{X: 30, Y: 40}}}
	if got := c.FieldPosition(); got != (Position{X: 30, Y: 40}) {
		t.Fatalf("position = %v, want (30, 40)", got)
	}
}

func TestValidateSet(t *testing.T) {
	now := time.Now()
	valid := []Card{
		{ID: "egcard1", Name: "first", Published: true, CreatedAt: now},
		{ID: "egcard2", Name: "second", CreatedAt: now, TextFields: []TextField{{Label: DefaultFieldLabel, Position: Position{X: 108, Y: 108}}}},
	}
	if err := ValidateSet(valid); err != nil {
		t.Fatalf("ValidateSet(valid) = %v", err)
	}

	dup := []Card{{ID: "egcard1"}, {ID: "egcard1"}}
	if err := ValidateSet(dup); err == nil {
		t.Fatal("expected error for duplicate ids")
	}

	tooMany := []Card{{
		ID: "egcard1",
		TextFields: []TextField{
			{Position: Position{X: 1, Y: 1}},
			{Position: Position{X: 2, Y: 2}},
		},
	}}
	if err := ValidateSet(tooMany); err == nil {
		t.Fatal("expected error for multiple text fields")
	}

	outOfBounds := []Card{{
		ID:         "egcard1",
		TextFields: []TextField{{Position: Position{X: CanvasWidth + 1, Y: 0}}},
	}}
	if err := ValidateSet(outOfBounds); err == nil {
		t.Fatal("expected error for out-of-bounds field")
	}
}

func TestPublishedSubset(t *testing.T) {
	cards := []Card{
		{ID: "egcard1", Published: true},
		{ID: "egcard2"},
		{ID: "egcard3", Published: true},
	}
	subset := PublishedSubset(cards)
	if len(subset) != 2 || subset[0].ID != "egcard1" || subset[1].ID != "egcard3" {
		t.Fatalf("subset = %v", subset)
	}

	if got := PublishedSubset(nil); len(got) != 0 {
		t.Fatalf("subset of nil = %v, want empty", got)
	}
}

func TestFindByID(t *testing.T) {
	cards := []Card{{ID: "egcard1"}, {ID: "egcard2"}}
	if _, ok := FindByID(cards, "egcard2"); !ok {
		t.Fatal("expected to find egcard2")
	}
	if _, ok := FindByID(cards, "egcard9"); ok {
		t.Fatal("did not expect to find egcard9")
	}
}
