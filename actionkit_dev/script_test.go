package main

import (
	"testing"

	"github.com/go-softwarelab/common/pkg/seq"
)

func TestDefaultScript(t *testing.T) {
	s, err := parseScript([]byte(defaultScript))
	if err != nil {
		t.Fatal(err)
	}
	actions := s.actions()
	if len(actions) != 7 {
		t.Fatalf("got %d actions, want 7", len(actions))
	}

	reducer := counterReducer()
	got := reducer.Func().Fold(reducer.InitialState(), seq.FromSlice(actions[:5]))
	if got != 14 {
		t.Fatalf("counter before reset %d, want 14", got)
	}
	got = reducer.Func().Fold(reducer.InitialState(), seq.FromSlice(actions))
	if got != 1 {
		t.Fatalf("counter after reset %d, want 1", got)
	}

	if m, ok := resetAction.MetaOf(actions[5]); !ok || m != "dev run" {
		t.Fatalf("reset meta %q %v", m, ok)
	}
}

func TestParseScriptError(t *testing.T) {
	if _, err := parseScript([]byte("steps: [")); err == nil {
		t.Fatalf("expected a parse error")
	}
}
