package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestFallbackGroup_FirstHealthyWins(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup[string](FallbackConfig{})
	fg.Add("p1", "one")
	fg.Add("p2", "two")

	got, err := ExecuteWithResult(fg, func(v string) (string, error) {
		return v, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "one" {
		t.Errorf("expected first entry to serve, got %q", got)
	}
}

func TestFallbackGroup_FallsThroughOnFailure(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup[string](FallbackConfig{})
	fg.Add("p1", "one")
	fg.Add("p2", "two")

	got, err := ExecuteWithResult(fg, func(v string) (string, error) {
		if v == "one" {
			return "", errBoom
		}
		return v, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "two" {
		t.Errorf("expected fallback entry to serve, got %q", got)
	}
}

func TestFallbackGroup_GateSkipsEntry(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup[string](FallbackConfig{})
	fg.Add("p1", "one", WithGate[string](func() (bool, string) { return false, "quota" }))
	fg.Add("p2", "two")

	var tried []string
	got, err := ExecuteWithResult(fg, func(v string) (string, error) {
		tried = append(tried, v)
		return v, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "two" {
		t.Errorf("expected gated entry skipped, got %q", got)
	}
	if len(tried) != 1 || tried[0] != "two" {
		t.Errorf("gated entry must not be invoked, tried: %v", tried)
	}
}

func TestFallbackGroup_OnSuccessHook(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup[string](FallbackConfig{})
	var hits int
	fg.Add("p1", "one", WithOnSuccess[string](func() { hits++ }))

	if err := fg.Execute(func(string) error { return nil }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if hits != 1 {
		t.Errorf("expected success hook once, got %d", hits)
	}

	if err := fg.Execute(func(string) error { return errBoom }); err == nil {
		t.Fatal("expected error")
	}
	if hits != 1 {
		t.Errorf("hook must not fire on failure, got %d", hits)
	}
}

func TestFallbackGroup_AllFailed(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup[string](FallbackConfig{})
	fg.Add("p1", "one")
	fg.Add("p2", "two")

	err := fg.Execute(func(string) error { return errBoom })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("expected ErrAllFailed, got %v", err)
	}
}

func TestFallbackGroup_NoneEligible(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup[string](FallbackConfig{})
	fg.Add("p1", "one", WithGate[string](func() (bool, string) { return false, "quota" }))

	err := fg.Execute(func(string) error { return nil })
	if !errors.Is(err, ErrNoneEligible) {
		t.Fatalf("expected ErrNoneEligible, got %v", err)
	}
}

func TestFallbackGroup_OpenBreakerSkipsToNext(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup[string](FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute},
	})
	fg.Add("p1", "one")
	fg.Add("p2", "two")

	// Trip p1's breaker.
	_, _ = ExecuteWithResult(fg, func(v string) (string, error) {
		if v == "one" {
			return "", errBoom
		}
		return v, nil
	})

	var tried []string
	got, err := ExecuteWithResult(fg, func(v string) (string, error) {
		tried = append(tried, v)
		return v, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "two" {
		t.Errorf("expected p2 to serve while p1's breaker is open, got %q", got)
	}
	if len(tried) != 1 {
		t.Errorf("p1 must be skipped without invocation, tried: %v", tried)
	}
}

func TestFallbackGroup_Names(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup[int](FallbackConfig{})
	fg.Add("a", 1)
	fg.Add("b", 2)

	names := fg.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("unexpected names: %v", names)
	}
}
