package cli

import (
	"testing"

	"droidfleet/internal/catalog"
	"droidfleet/internal/engine"
)

func TestSummaryExitCode(t *testing.T) {
	cases := []struct {
		name string
		s    engine.BatchSummary
		want engine.ExitCode
	}{
		{"all succeeded", engine.BatchSummary{Success: 3}, engine.ExitSuccess},
		{"all cancelled", engine.BatchSummary{Cancelled: 2}, engine.ExitUserCancelled},
		{"partial failure", engine.BatchSummary{Success: 1, Failed: 1}, engine.ExitPartialFailure},
		{"all failed", engine.BatchSummary{Failed: 2}, engine.ExitPartialFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := summaryExitCode(tc.s); got != tc.want {
				t.Errorf("summaryExitCode(%+v) = %v, want %v", tc.s, got, tc.want)
			}
		})
	}
}

func TestRegistryCoversEveryCatalogCommand(t *testing.T) {
	// internal/catalog is the source of truth for what the CLI advertises;
	// every kebab-case name it lists must resolve to a real Executor.
	for _, name := range catalog.Names() {
		if Registry[name] == nil {
			t.Fatalf("catalog command %q has no CLI executor", name)
		}
	}
}
