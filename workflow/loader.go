package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse parses YAML content into a validated Workflow
func Parse(data []byte) (*Workflow, error) {
	var w Workflow
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to parse workflow YAML: %w", err)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// Load reads and parses a single workflow file
func Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file %s: %w", path, err)
	}
	w, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

// Discover lists workflow files (*.yml, *.yaml) in a directory, sorted
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yml" || ext == ".yaml" {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}

	sort.Strings(files)
	return files, nil
}

// LoadDir loads every workflow in a directory. A file that fails to parse is
// reported but does not prevent the others from loading.
func LoadDir(dir string) ([]*Workflow, []error) {
	files, err := Discover(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("failed to read workflows directory %s: %w", dir, err)}
	}

	var workflows []*Workflow
	var errs []error
	for _, f := range files {
		w, err := Load(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		workflows = append(workflows, w)
	}
	return workflows, errs
}
