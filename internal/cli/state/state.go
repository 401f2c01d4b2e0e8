package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const maxRecent = 20

// State remembers submissions made from this machine so commands can
// default to the latest one.
type State struct {
	LastSubmissionID string   `json:"last_submission_id"`
	Recent           []string `json:"recent"`
}

// Remember records id as the latest submission.
func (s *State) Remember(id string) {
	if id == "" {
		return
	}
	s.LastSubmissionID = id
	recent := make([]string, 0, len(s.Recent)+1)
	recent = append(recent, id)
	for _, prev := range s.Recent {
		if prev != id && len(recent) < maxRecent {
			recent = append(recent, prev)
		}
	}
	s.Recent = recent
}

func Load(path string) (State, error) {
	var st State
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, fmt.Errorf("read cli state failed: %w", err)
	}
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parse cli state failed: %w", err)
	}
	return st, nil
}

func Save(path string, st State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cli state dir failed: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cli state failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write cli state failed: %w", err)
	}
	return nil
}

func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cli state failed: %w", err)
	}
	return nil
}
