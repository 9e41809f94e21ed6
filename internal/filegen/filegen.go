// Package filegen holds the dispatcher-driven workers that produce local
// files from a device: screenshots, bug reports, and UI hierarchy dumps.
package filegen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"droidfleet/internal/adbproc"
	"droidfleet/internal/logging"
)

var log = logging.Component("filegen")

// timestampName builds a "2006-01-02_15-04-05"-stamped filename,
// disambiguated by serial for multi-device batches.
func timestampName(ext, serial string) string {
	return fmt.Sprintf("%s_%s.%s", time.Now().Format("2006-01-02_15-04-05"), serial, ext)
}

// Screenshot captures serial's screen to outputDir via `exec-out
// screencap -p`, avoiding the pull+cleanup round trip the line-oriented
// commands need.
func Screenshot(ctx context.Context, client *adbproc.Client, serial, outputDir string) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	data, err := client.RunRaw(ctx, adbproc.ScreenshotTimeout, adbproc.ScreenshotExecOut(serial))
	if err != nil {
		return "", fmt.Errorf("capture screenshot: %w", err)
	}

	localPath := filepath.Join(outputDir, timestampName("png", serial))
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}

	log.Debug().Str("serial", serial).Str("path", localPath).Msg("screenshot saved")
	return localPath, nil
}

// BugReportProgress reports one device's position within a multi-device
// bug report fan-out, for progress events.
type BugReportProgress struct {
	DeviceIndex int
	TotalCount  int
}

// BugReport runs `adb bugreport` (120s timeout) and reports progress via
// onProgress, which may be nil.
func BugReport(ctx context.Context, client *adbproc.Client, serial, outputDir string, progress BugReportProgress, onProgress func(BugReportProgress)) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	if onProgress != nil {
		onProgress(progress)
	}

	localPath := filepath.Join(outputDir, fmt.Sprintf("bugreport_%s_%s.zip", serial, time.Now().Format("2006-01-02_15-04-05")))
	if _, err := client.Run(ctx, adbproc.BugReportTimeout, adbproc.BugReport(serial, localPath)); err != nil {
		return "", fmt.Errorf("bug report: %w", err)
	}

	log.Debug().Str("serial", serial).Str("path", localPath).Msg("bug report saved")
	return localPath, nil
}

// UIHierarchyDump runs `uiautomator dump`, pulls the resulting XML, takes
// a companion screenshot, and returns both local paths.
func UIHierarchyDump(ctx context.Context, client *adbproc.Client, serial, outputDir string) (xmlPath, pngPath string, err error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create output dir: %w", err)
	}

	remoteXML := "/sdcard/window_dump.xml"
	if _, err := client.Run(ctx, adbproc.DefaultTimeout, adbproc.UIAutomatorDump(serial, remoteXML)); err != nil {
		return "", "", fmt.Errorf("dump ui hierarchy: %w", err)
	}

	stamp := time.Now().Format("2006-01-02_15-04-05")
	xmlPath = filepath.Join(outputDir, fmt.Sprintf("ui_dump_%s_%s.xml", serial, stamp))
	if _, err := client.Run(ctx, adbproc.DefaultTimeout, adbproc.Pull(serial, remoteXML, xmlPath)); err != nil {
		return "", "", fmt.Errorf("pull ui hierarchy: %w", err)
	}
	_, _ = client.Run(ctx, adbproc.DefaultTimeout, adbproc.RemoveRemote(serial, remoteXML))

	pngPath, err = Screenshot(ctx, client, serial, outputDir)
	if err != nil {
		return xmlPath, "", fmt.Errorf("companion screenshot: %w", err)
	}

	return xmlPath, pngPath, nil
}
