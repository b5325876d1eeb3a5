package artifacts

import (
	"context"
	"fmt"
	"strings"

	"github.com/dataflowguard/dto/internal/store"
)

// Writer stores run artifacts. Implementations are advisory: when the
// backend is unavailable they return (nil, nil) and the run proceeds
// without the artifact.
type Writer interface {
	// WriteReport stores report.json for the run.
	WriteReport(ctx context.Context, run store.Run, report *Report) (*store.Artifact, error)
	// WriteLogs stores the run's execution log as logs.txt.
	WriteLogs(ctx context.Context, run store.Run, lines []string) (*store.Artifact, error)
	// WriteSamples stores redacted violation rows for one failing test.
	WriteSamples(ctx context.Context, run store.Run, testName string, rows []map[string]any) (*store.Artifact, error)
	// Health reports whether the backend is reachable.
	Health(ctx context.Context) bool
}

// Disabled is a Writer with no backend. Every write is a no-op.
type Disabled struct{}

func (Disabled) WriteReport(context.Context, store.Run, *Report) (*store.Artifact, error) {
	return nil, nil
}

func (Disabled) WriteLogs(context.Context, store.Run, []string) (*store.Artifact, error) {
	return nil, nil
}

func (Disabled) WriteSamples(context.Context, store.Run, string, []map[string]any) (*store.Artifact, error) {
	return nil, nil
}

func (Disabled) Health(context.Context) bool { return false }

// objectKey builds the deterministic storage key for a run-scoped object.
// The date prefix comes from the run's start time, not the wall clock, so
// retried writes land on the same key.
func objectKey(run store.Run, name string) string {
	return fmt.Sprintf("runs/%s/%s/%s", run.StartedAt.UTC().Format("2006/01/02"), run.ID, name)
}

// sampleKey names the violations object for one test.
func sampleKey(run store.Run, testName string) string {
	return objectKey(run, "samples/"+sanitizeName(testName)+"_violations.json")
}

// sanitizeName maps a test name onto the storage-safe alphabet.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
