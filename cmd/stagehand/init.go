package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/stagehand/examples"
)

// runInit prepares a working directory with the example config, workflow
// and knowledge files. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Stagehand workspace in %s\n", dir)

	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dataDir, err)
	}

	// config.yaml may carry API keys and broker credentials.
	files := []struct {
		name    string
		content []byte
		mode    os.FileMode
	}{
		{"config.yaml", examples.ConfigYAML, 0o600},
		{"workflow.yaml", examples.WorkflowYAML, 0o644},
		{"knowledge.yaml", examples.KnowledgeYAML, 0o644},
	}
	for _, f := range files {
		if err := writeIfMissing(w, filepath.Join(dir, f.name), f.content, f.mode); err != nil {
			return err
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Next steps:")
	fmt.Fprintln(w, "  stagehand validate workflow.yaml")
	fmt.Fprintln(w, "  stagehand ingest knowledge.yaml")
	fmt.Fprintln(w, "  stagehand chat")
	return nil
}

// writeIfMissing writes content to path only if the file does not already
// exist, reporting the outcome to w.
func writeIfMissing(w io.Writer, path string, content []byte, mode os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "  - %s (exists, skipping)\n", path)
		return nil
	}
	if err := os.WriteFile(path, content, mode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}
