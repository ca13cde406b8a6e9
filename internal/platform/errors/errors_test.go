package errors

import (
	stderrs "errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	if CodeOf(nil) != ErrorCodeUnknown {
		t.Fatal("nil should map to unknown")
	}
	if CodeOf(stderrs.New("plain")) != ErrorCodeUnknown {
		t.Fatal("foreign error should map to unknown")
	}
	if CodeOf(Gonef("deleted")) != ErrorCodeGone {
		t.Fatal("gone code lost")
	}
}

func TestIsCode_ThroughWrapping(t *testing.T) {
	inner := NotFoundf("doc %s missing", "x")
	outer := fmt.Errorf("fetch failed: %w", inner)
	if !IsCode(outer, ErrorCodeNotFound) {
		t.Fatal("code lost through fmt wrapping")
	}

	rewrapped := Wrap(inner, ErrorCodeGone, "gone at fetch")
	if !IsCode(rewrapped, ErrorCodeGone) {
		t.Fatal("outermost code should win")
	}
}

func TestErrorString(t *testing.T) {
	err := Wrapf(stderrs.New("tcp reset"), ErrorCodeUnavailable, "registry request")
	want := "registry request: tcp reset"
	if err.Error() != want {
		t.Fatalf("error = %q, want %q", err.Error(), want)
	}
}

func TestRoot(t *testing.T) {
	cause := stderrs.New("cause")
	err := Wrap(fmt.Errorf("mid: %w", cause), ErrorCodeUnavailable, "outer")
	if Root(err) != cause {
		t.Fatalf("root = %v, want cause", Root(err))
	}
}

func TestWithOp(t *testing.T) {
	err := Unavailablef("boom")
	tagged := WithOp(err, "upsert")
	e, ok := As(tagged)
	if !ok || e.Op() != "upsert" {
		t.Fatalf("op = %v", tagged)
	}
	// original untouched
	orig, _ := As(err)
	if orig.Op() != "" {
		t.Fatal("WithOp mutated the original")
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(Gonef("deleted")) {
		t.Fatal("gone must not retry")
	}
	if Retryable(Validationf("bad opts")) {
		t.Fatal("validation must not retry")
	}
	if !Retryable(Unavailablef("down")) {
		t.Fatal("unavailable should retry")
	}
	if !Retryable(stderrs.New("unknown")) {
		t.Fatal("unknown should retry")
	}
}
