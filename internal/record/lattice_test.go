package record

import (
	"errors"
	"testing"
)

func TestValidateTransition(t *testing.T) {
	all := []Status{StatusCreated, StatusInProgress, StatusBlocked, StatusFailed, StatusComplete}
	allowed := map[Status][]Status{
		StatusCreated:    {StatusCreated, StatusInProgress, StatusBlocked, StatusFailed},
		StatusInProgress: {StatusInProgress, StatusComplete, StatusBlocked, StatusFailed},
		StatusBlocked:    {StatusBlocked, StatusInProgress, StatusFailed},
		StatusFailed:     {StatusFailed, StatusInProgress},
		StatusComplete:   {StatusComplete},
	}
	for _, from := range all {
		permitted := make(map[Status]bool)
		for _, to := range allowed[from] {
			permitted[to] = true
		}
		for _, to := range all {
			err := ValidateTransition(from, to)
			if permitted[to] {
				if err != nil {
					t.Fatalf("%s -> %s should be allowed: %v", from, to, err)
				}
				continue
			}
			var transition *TransitionError
			if !errors.As(err, &transition) {
				t.Fatalf("%s -> %s should be rejected, got %v", from, to, err)
			}
			if CanTransition(from, to) {
				t.Fatalf("CanTransition(%s, %s) disagrees with ValidateTransition", from, to)
			}
		}
	}
}

func TestValidateTransitionUnknownStatus(t *testing.T) {
	if err := ValidateTransition("paused", StatusInProgress); err == nil {
		t.Fatalf("expected error for unknown source status")
	}
	if err := ValidateTransition(StatusCreated, "paused"); err == nil {
		t.Fatalf("expected error for unknown target status")
	}
}

func TestStatusActive(t *testing.T) {
	cases := map[Status]bool{
		StatusCreated:    true,
		StatusInProgress: true,
		StatusBlocked:    true,
		StatusFailed:     false,
		StatusComplete:   false,
	}
	for status, want := range cases {
		if got := status.Active(); got != want {
			t.Fatalf("%s.Active() = %v, want %v", status, got, want)
		}
	}
}
