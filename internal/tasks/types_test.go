package tasks

import "testing"

func TestStatusTerminal(t *testing.T) {
	cases := map[Status]bool{
		StatusQueued:     false,
		StatusProcessing: false,
		StatusCompleted:  true,
		StatusFailed:     true,
		StatusExpired:    true,
		StatusCancelled:  true,
	}
	for status, want := range cases {
		if got := status.terminal(); got != want {
			t.Errorf("Status(%q).terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestContainsStatus(t *testing.T) {
	set := []Status{StatusQueued, StatusFailed}
	if !containsStatus(set, StatusQueued) {
		t.Error("expected StatusQueued to be found")
	}
	if containsStatus(set, StatusProcessing) {
		t.Error("expected StatusProcessing to be absent")
	}
}
