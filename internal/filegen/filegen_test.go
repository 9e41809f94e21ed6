package filegen

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"testing"

	"droidfleet/internal/adbproc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pngExecutor struct{}

func (pngExecutor) CommandContext(ctx context.Context, name string, arg ...string) *exec.Cmd {
	// A minimal but non-empty byte payload stands in for PNG bytes.
	return exec.CommandContext(ctx, "sh", "-c", `printf '\x89PNG\r\n'`)
}

func TestScreenshotWritesFile(t *testing.T) {
	client := adbproc.NewClient("adb")
	client.SetExecutor(pngExecutor{})

	dir := t.TempDir()
	path, err := Screenshot(context.Background(), client, "ABC123", dir)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.Regexp(t, regexp.MustCompile(`^\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}_ABC123\.png$`), filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

type okExecutor struct{}

func (okExecutor) CommandContext(ctx context.Context, name string, arg ...string) *exec.Cmd {
	return exec.CommandContext(ctx, "true")
}

func TestBugReportReportsProgress(t *testing.T) {
	client := adbproc.NewClient("adb")
	client.SetExecutor(okExecutor{})

	dir := t.TempDir()
	var seen BugReportProgress
	path, err := BugReport(context.Background(), client, "ABC123", dir, BugReportProgress{DeviceIndex: 1, TotalCount: 3}, func(p BugReportProgress) {
		seen = p
	})
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.Equal(t, 1, seen.DeviceIndex)
	assert.Equal(t, 3, seen.TotalCount)
}
