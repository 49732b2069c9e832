package audit

import (
	"log/slog"
	"testing"
)

func TestLogConvergence_ClassifiesDelta(t *testing.T) {
	w := NewWriter(nil, slog.Default())

	cases := []struct {
		delta int
		want  string
	}{
		{2, "convergence.scale_up"},
		{-1, "convergence.scale_down"},
		{0, "convergence.no_change"},
	}

	for _, tc := range cases {
		w.LogConvergence("t1", "g1", tc.delta, 3)
		event := <-w.entries
		if event.Kind != tc.want {
			t.Errorf("delta %d: kind = %q, want %q", tc.delta, event.Kind, tc.want)
		}
		if event.TenantID != "t1" || event.GroupID != "g1" {
			t.Errorf("unexpected tenant/group on event: %+v", event)
		}
	}
}

func TestLogConvergence_DropsWhenFull(t *testing.T) {
	w := NewWriter(nil, slog.Default())
	// Don't start the background goroutine — nothing drains the channel.

	for i := 0; i < bufferSize; i++ {
		w.LogConvergence("t1", "g1", 1, 1)
	}

	// The next entry should be dropped (non-blocking), not block the test.
	w.LogConvergence("t1", "g1", 1, 1)

	if len(w.entries) != bufferSize {
		t.Errorf("buffer size = %d, want %d", len(w.entries), bufferSize)
	}
}

func TestEvent_NeverCarriesPolicyOrWebhookID(t *testing.T) {
	// The Event struct has no PolicyID/WebhookID field at all — this test
	// exists to document that redaction is structural, not a convention
	// a caller could bypass. Compile-time enforced: adding such a field
	// would not fail this test, so the real guarantee is in the type
	// definition and in LogConvergence's signature, which this package's
	// only entry point enforces.
	event := Event{TenantID: "t1", GroupID: "g1", Kind: "convergence.scale_up", Delta: 1, Capacity: 2}
	if event.TenantID == "" || event.GroupID == "" {
		t.Fatal("expected tenant/group to be set")
	}
}
