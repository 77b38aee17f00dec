package domain

import "testing"

func TestStageNextFollowsPipelineOrder(t *testing.T) {
	want := []Stage{
		StageTranscribing,
		StageCaptioning,
		StageGeneratingBRoll,
		StageCompositing,
		StageCompleted,
	}
	cur := StageUploaded
	for i, exp := range want {
		next, ok := cur.Next()
		if !ok {
			t.Fatalf("step %d: no next stage after %q", i, cur)
		}
		if next != exp {
			t.Fatalf("step %d: next of %q: want=%q got=%q", i, cur, exp, next)
		}
		cur = next
	}
	if _, ok := cur.Next(); ok {
		t.Fatalf("completed must be terminal")
	}
}

func TestCanTransitionRejectsSkips(t *testing.T) {
	if CanTransition(StageUploaded, StageCompleted) {
		t.Fatalf("uploaded -> completed must not be an edge")
	}
	if CanTransition(StageTranscribing, StageCompositing) {
		t.Fatalf("transcribing -> compositing must not be an edge")
	}
	if CanTransition(StageCompleted, StageFailed) {
		t.Fatalf("terminal stages must not fail")
	}
}

func TestCanTransitionFailureEdges(t *testing.T) {
	for _, s := range []Stage{StageUploaded, StageTranscribing, StageCaptioning, StageCompositing} {
		if !CanTransition(s, StageFailed) {
			t.Errorf("%q -> failed should be an edge", s)
		}
	}
	// B-roll exhaustion routes to degraded compositing, never to failed.
	if CanTransition(StageGeneratingBRoll, StageFailed) {
		t.Fatalf("generating_broll -> failed must not be an edge")
	}
	if !CanTransition(StageGeneratingBRoll, StageCompositing) {
		t.Fatalf("generating_broll -> compositing must be an edge")
	}
}

func TestShareIDShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewShareID()
		if len(id) != 12 {
			t.Fatalf("share id length: want=12 got=%d (%q)", len(id), id)
		}
		if seen[id] {
			t.Fatalf("duplicate share id %q", id)
		}
		seen[id] = true
	}
}
