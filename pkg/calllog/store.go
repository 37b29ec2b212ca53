package calllog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

func (l *Logger) writeArtifacts(summary *Summary) error {
	completePath := filepath.Join(l.dir, summary.CallID+"_complete.json")
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal call record: %w", err)
	}
	if err := os.WriteFile(completePath, data, 0o644); err != nil {
		return fmt.Errorf("write call record: %w", err)
	}

	structuredPath := filepath.Join(l.dir, summary.CallID+"_structured.json")
	data, err = json.MarshalIndent(summary.Structured, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal structured data: %w", err)
	}
	if err := os.WriteFile(structuredPath, data, 0o644); err != nil {
		return fmt.Errorf("write structured data: %w", err)
	}
	return nil
}

// Store reads finished call records back from the call log directory.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// ListResult carries the records plus per-file warnings for entries
// that exist but could not be read.
type ListResult struct {
	Records  []Summary
	Warnings []string
}

// List returns finished calls, newest first.
func (s *Store) List() (ListResult, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return ListResult{}, nil
		}
		return ListResult{}, fmt.Errorf("read call log dir: %w", err)
	}

	var out ListResult
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, "_complete.json") {
			continue
		}
		record, err := s.load(filepath.Join(s.dir, name))
		if err != nil {
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		out.Records = append(out.Records, record)
	}

	sort.Slice(out.Records, func(i, j int) bool {
		return out.Records[i].EndTime.After(out.Records[j].EndTime)
	})
	return out, nil
}

// Load returns one finished call record by ID.
func (s *Store) Load(callID string) (Summary, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" || strings.ContainsAny(callID, "/\\") {
		return Summary{}, ErrNotFound
	}
	record, err := s.load(filepath.Join(s.dir, callID+"_complete.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return Summary{}, ErrNotFound
		}
		return Summary{}, err
	}
	return record, nil
}

func (s *Store) load(path string) (Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, err
	}
	var record Summary
	if err := json.Unmarshal(data, &record); err != nil {
		return Summary{}, fmt.Errorf("parse call record: %w", err)
	}
	return record, nil
}
