package tui

import (
	"fmt"
	"os"
	"strings"
)

// shortenHomePath replaces the user's home directory with ~.
func shortenHomePath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if strings.HasPrefix(path, home) {
		return strings.Replace(path, home, "~", 1)
	}
	return path
}

func formatErrorMessage(operation, deviceSerial string, err error) string {
	return fmt.Sprintf("%s failed on %s: %s", operation, deviceSerial, err.Error())
}

func formatSuccessMessage(operation, deviceSerial, details string) string {
	if details != "" {
		return fmt.Sprintf("%s completed on %s: %s", operation, deviceSerial, details)
	}
	return fmt.Sprintf("%s completed on %s", operation, deviceSerial)
}

func formatBatchMessage(label string, success, failed, cancelled int) string {
	return fmt.Sprintf("%s: %d ok, %d failed, %d cancelled", label, success, failed, cancelled)
}
