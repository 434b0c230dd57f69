package jobs

import "testing"

func TestStatusTerminal(t *testing.T) {
	cases := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusProcessing, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}
	for _, tc := range cases {
		if got := tc.status.Terminal(); got != tc.terminal {
			t.Fatalf("%s.Terminal() = %v, want %v", tc.status, got, tc.terminal)
		}
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		// 一方向規則に反する遷移はすべて拒否する
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, false},
		{StatusPending, StatusPending, false},
		{StatusProcessing, StatusProcessing, false},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusCompleted, false},
		{StatusFailed, StatusProcessing, false},
		{StatusFailed, StatusCompleted, false},
		{StatusFailed, StatusPending, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.ok {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestValidStatus(t *testing.T) {
	for _, status := range []string{"pending", "processing", "completed", "failed"} {
		if !ValidStatus(status) {
			t.Fatalf("expected %q to be valid", status)
		}
	}
	for _, status := range []string{"", "done", "Completed"} {
		if ValidStatus(status) {
			t.Fatalf("expected %q to be invalid", status)
		}
	}
}

func TestValidTargetKind(t *testing.T) {
	for _, kind := range []string{"company", "person"} {
		if !ValidTargetKind(kind) {
			t.Fatalf("expected %q to be valid", kind)
		}
	}
	for _, kind := range []string{"", "organization", "Company"} {
		if ValidTargetKind(kind) {
			t.Fatalf("expected %q to be invalid", kind)
		}
	}
}

func TestValidDepth(t *testing.T) {
	for _, depth := range []string{"quick", "standard", "deep"} {
		if !ValidDepth(depth) {
			t.Fatalf("expected %q to be valid", depth)
		}
	}
	for _, depth := range []string{"", "exhaustive", "Quick"} {
		if ValidDepth(depth) {
			t.Fatalf("expected %q to be invalid", depth)
		}
	}
}
