// Package decisionlog persists one JSON file per decision cycle, sharded by
// agent. Filenames are microsecond timestamps, so lexicographic order is
// chronological order and the newest entry is the max filename.
package decisionlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Entry is one decision cycle as written to disk. Context, Decision and
// Results are left as raw JSON so readers do not need the producing types.
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	AgentID   string          `json:"agent_id"`
	Context   json.RawMessage `json:"context,omitempty"`
	Decision  json.RawMessage `json:"decision,omitempty"`
	Results   json.RawMessage `json:"results,omitempty"`
	DryRun    bool            `json:"dry_run"`
	Error     string          `json:"error,omitempty"`
}

// Log writes entries under <root>/<agent_id>/.
type Log struct {
	root string
}

func New(root string) *Log {
	return &Log{root: root}
}

// Append writes the entry as a new file and returns its path. When two
// entries land on the same microsecond the filename gets a numeric suffix
// rather than overwriting the earlier one.
func (l *Log) Append(agentID string, entry Entry) (string, error) {
	if agentID == "" {
		return "", fmt.Errorf("decision log requires an agent id")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry.AgentID = agentID

	dir := filepath.Join(l.root, agentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create decision directory: %w", err)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode decision entry: %w", err)
	}

	base := entry.Timestamp.Format("20060102_150405") + fmt.Sprintf("_%06d", entry.Timestamp.Nanosecond()/1000)
	for i := 0; ; i++ {
		name := base + ".json"
		if i > 0 {
			name = fmt.Sprintf("%s_%d.json", base, i)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create decision file: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", fmt.Errorf("failed to write decision file: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", err
		}
		return path, nil
	}
}

// Latest returns the most recent entry for the agent, or nil when the agent
// has never logged a decision.
func (l *Log) Latest(agentID string) (*Entry, error) {
	names, err := l.list(agentID)
	if err != nil || len(names) == 0 {
		return nil, err
	}
	return l.read(agentID, names[len(names)-1])
}

// Recent returns up to n entries for the agent, newest first.
func (l *Log) Recent(agentID string, n int) ([]*Entry, error) {
	names, err := l.list(agentID)
	if err != nil {
		return nil, err
	}
	if len(names) > n {
		names = names[len(names)-n:]
	}
	entries := make([]*Entry, 0, len(names))
	for i := len(names) - 1; i >= 0; i-- {
		e, err := l.read(agentID, names[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Agents lists the agent ids that have at least one entry.
func (l *Log) Agents() ([]string, error) {
	dirents, err := os.ReadDir(l.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, d := range dirents {
		if d.IsDir() {
			ids = append(ids, d.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (l *Log) list(agentID string) ([]string, error) {
	dirents, err := os.ReadDir(filepath.Join(l.root, agentID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, d := range dirents {
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".json") {
			names = append(names, d.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (l *Log) read(agentID, name string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(l.root, agentID, name))
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("corrupt decision entry %s: %w", name, err)
	}
	return &e, nil
}
