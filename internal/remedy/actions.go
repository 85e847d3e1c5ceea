package remedy

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ptywatch/internal/util"
)

// ActionRecord is one audit log line, serialized as JSON.
type ActionRecord struct {
	Time      time.Time `json:"time"`
	BatchID   string    `json:"batch_id"`
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	PTYCount  int       `json:"pty_count"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Escalated bool      `json:"escalated,omitempty"`
}

// ActionLog is the append-only remediation audit trail. Appends are
// serialized with a file lock so a daemon cycle and a manual clean running
// concurrently cannot interleave partial lines.
type ActionLog struct {
	path string
	lock *util.FileLock
}

// NewActionLog returns a log writing to path.
func NewActionLog(path string) *ActionLog {
	return &ActionLog{
		path: path,
		lock: util.NewFileLock(path + ".lock"),
	}
}

// Append writes one outcome line.
func (l *ActionLog) Append(batchID string, out Outcome) error {
	rec := ActionRecord{
		Time:      time.Now().UTC(),
		BatchID:   batchID,
		PID:       out.PID,
		Command:   out.Command,
		PTYCount:  out.PTYCount,
		Status:    out.Status,
		Reason:    out.Reason,
		Escalated: out.Escalated,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding action record: %w", err)
	}

	return l.lock.WithLock(func() error {
		if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening action log: %w", err)
		}
		defer f.Close()
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("appending action record: %w", err)
		}
		return nil
	})
}

// Tail returns up to n most recent records, oldest first.
// Unparsable lines are skipped; a truncated final line from a crash must not
// hide the rest of the history.
func (l *ActionLog) Tail(n int) ([]ActionRecord, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening action log: %w", err)
	}
	defer f.Close()

	var records []ActionRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec ActionRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading action log: %w", err)
	}

	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}
