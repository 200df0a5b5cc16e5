package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// SuiteOptions controls RunSuite.
type SuiteOptions struct {
	// Filter is a glob matched against each file name without extension.
	Filter string

	// GoldenDir holds {scenario.Name}.golden files. Empty means a golden
	// directory next to the scenarios.
	GoldenDir string

	// Update writes golden files instead of comparing against them.
	Update bool

	// Logger receives tree logs. Nil discards them.
	Logger *slog.Logger
}

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	Scenarios []ScenarioResult `json:"scenarios" yaml:"scenarios"`
	Total     int              `json:"total" yaml:"total"`
	Passed    int              `json:"passed" yaml:"passed"`
	Failed    int              `json:"failed" yaml:"failed"`
}

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	Name    string   `json:"name" yaml:"name"`
	Path    string   `json:"path" yaml:"path"`
	Pass    bool     `json:"pass" yaml:"pass"`
	Updated bool     `json:"updated,omitempty" yaml:"updated,omitempty"` // golden file rewritten
	Errors  []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// ScenarioFiles returns the .yaml and .yml files directly under dir, sorted.
// A file path is returned as is.
func ScenarioFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("scenario path: %w", err)
	}
	if !info.IsDir() {
		return []string{dir}, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(files)
	return files, nil
}

// RunSuite loads and runs every scenario under path. Load, execution and
// golden failures count as failed scenarios; only an unreadable path or a
// bad filter is an error.
func RunSuite(ctx context.Context, path string, opts SuiteOptions) (*SuiteResult, error) {
	files, err := ScenarioFiles(path)
	if err != nil {
		return nil, err
	}
	if opts.Filter != "" {
		files, err = filterFiles(files, opts.Filter)
		if err != nil {
			return nil, err
		}
	}

	goldenDir := opts.GoldenDir
	if goldenDir == "" {
		base := path
		if len(files) == 1 && files[0] == path {
			base = filepath.Dir(path)
		}
		goldenDir = filepath.Join(base, "golden")
	}

	result := &SuiteResult{Scenarios: make([]ScenarioResult, 0, len(files))}
	for _, file := range files {
		sr := runFile(ctx, file, goldenDir, opts)
		result.Scenarios = append(result.Scenarios, sr)
		result.Total++
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}
	return result, nil
}

func filterFiles(files []string, pattern string) ([]string, error) {
	var out []string
	for _, f := range files {
		name := strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
		matched, err := filepath.Match(pattern, name)
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
		if matched {
			out = append(out, f)
		}
	}
	return out, nil
}

func runFile(ctx context.Context, file, goldenDir string, opts SuiteOptions) ScenarioResult {
	sr := ScenarioResult{Name: filepath.Base(file), Path: file}
	fail := func(msg string) ScenarioResult {
		sr.Errors = append(sr.Errors, msg)
		return sr
	}

	scenario, err := LoadScenario(file)
	if err != nil {
		return fail(fmt.Sprintf("failed to load scenario: %v", err))
	}
	sr.Name = scenario.Name

	run, err := RunContext(ctx, scenario, opts.Logger)
	if err != nil {
		return fail(fmt.Sprintf("execution failed: %v", err))
	}

	goldenPath := filepath.Join(goldenDir, scenario.Name+".golden")
	if opts.Update {
		if err := os.MkdirAll(goldenDir, 0o755); err != nil {
			return fail(fmt.Sprintf("failed to create golden directory: %v", err))
		}
		if err := os.WriteFile(goldenPath, run.Persisted, 0o644); err != nil {
			return fail(fmt.Sprintf("failed to update golden file: %v", err))
		}
		sr.Updated = true
	} else {
		want, err := os.ReadFile(goldenPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// No golden file: assertions only.
		case err != nil:
			return fail(fmt.Sprintf("failed to read golden file: %v", err))
		case !bytes.Equal(want, run.Persisted):
			sr.Errors = append(sr.Errors, "persisted tree does not match golden file (run with --update to regenerate)")
		}
	}

	sr.Errors = append(sr.Errors, run.Errors...)
	sr.Pass = len(sr.Errors) == 0
	return sr
}
