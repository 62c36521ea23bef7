package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"syscall"
	"time"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
)

// recordEnvelope wraps a record with integrity metadata for file storage.
type recordEnvelope struct {
	Version   int64           `json:"version"`
	Checksum  string          `json:"checksum"`
	UpdatedAt time.Time       `json:"updated_at"`
	Record    json.RawMessage `json:"record"`
}

// encodeRecord serializes rec and returns the payload with its checksum.
func encodeRecord(rec *core.Record) ([]byte, string, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, "", fmt.Errorf("marshaling record: %w", err)
	}
	return payload, checksumOf(payload), nil
}

// decodeRecord verifies and deserializes a stored payload. An empty checksum
// skips verification.
func decodeRecord(payload []byte, checksum string) (*core.Record, error) {
	if checksum != "" && checksumOf(payload) != checksum {
		return nil, core.ErrState(core.CodeStateCorrupted, "checksum mismatch")
	}
	var rec core.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling record: %w", err)
	}
	if rec.Attempts == nil {
		rec.Attempts = make(map[core.StepID]int)
	}
	return &rec, nil
}

func checksumOf(payload []byte) string {
	hash := sha256.Sum256(payload)
	return hex.EncodeToString(hash[:])
}

// prepareSave returns the copy of rec that will be written for a CAS from
// expectedVersion.
func prepareSave(rec *core.Record, expectedVersion int64, now time.Time) *core.Record {
	next := rec.Clone()
	next.Version = expectedVersion + 1
	next.UpdatedAt = now
	return next
}

// isActive reports whether a runner should be driving rec.
func isActive(rec *core.Record) bool {
	return !rec.Ended() && !rec.Paused
}

// lockInfo represents lock file contents.
type lockInfo struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// processExists checks if a process is running.
func processExists(pid int) bool {
	// Windows reports no access when signaling the current process; treat that as existing.
	if runtime.GOOS == "windows" && pid == os.Getpid() {
		return true
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds, so we send signal 0.
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
