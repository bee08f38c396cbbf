package main

import (
	"fmt"
	"os"
)

func writeTextFile(path, text string) error {
	if err := os.WriteFile(path, []byte(text+"\n"), 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// createOutput opens path for a report, or returns nil for stdout.
func createOutput(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	return f, nil
}
