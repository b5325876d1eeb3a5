package artifacts

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A writer whose backend never came up must degrade, not fail the run.
func TestDegradedWriterReturnsNilArtifact(t *testing.T) {
	ctx := context.Background()
	w := &S3Writer{bucket: "dataflow-guard", ttl: DefaultPresignTTL, logger: slog.Default()}
	run := finishedRun()

	artifact, err := w.WriteReport(ctx, run, BuildReport(run, nil))
	require.NoError(t, err)
	assert.Nil(t, artifact)

	artifact, err = w.WriteLogs(ctx, run, []string{"line one", "line two"})
	require.NoError(t, err)
	assert.Nil(t, artifact)

	artifact, err = w.WriteSamples(ctx, run, "t", []map[string]any{{"k": "v"}})
	require.NoError(t, err)
	assert.Nil(t, artifact)

	assert.False(t, w.Health(ctx))
}

func TestWriteSamplesSkipsEmptyRows(t *testing.T) {
	w := &S3Writer{bucket: "dataflow-guard", ttl: DefaultPresignTTL, logger: slog.Default()}

	artifact, err := w.WriteSamples(context.Background(), finishedRun(), "t", nil)
	require.NoError(t, err)
	assert.Nil(t, artifact)
}

func TestDisabledWriter(t *testing.T) {
	var w Writer = Disabled{}
	run := finishedRun()

	artifact, err := w.WriteReport(context.Background(), run, BuildReport(run, nil))
	require.NoError(t, err)
	assert.Nil(t, artifact)
	assert.False(t, w.Health(context.Background()))
}

// NewS3 against an unreachable endpoint yields a degraded writer.
func TestNewS3UnreachableEndpoint(t *testing.T) {
	w := NewS3(context.Background(), Settings{
		Endpoint:  "http://127.0.0.1:1",
		Bucket:    "dataflow-guard",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		PathStyle: true,
	}, slog.Default())

	require.NotNil(t, w)
	assert.False(t, w.Health(context.Background()))

	artifact, err := w.WriteLogs(context.Background(), finishedRun(), []string{"x"})
	require.NoError(t, err)
	assert.Nil(t, artifact)
}
