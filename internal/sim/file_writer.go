package sim

import (
	"encoding/json"
	"os"
	"sync"

	"slicesim/internal/telemetry"
)

// FileWriter writes tick snapshots and run records to JSONL files.
type FileWriter struct {
	mu       sync.Mutex
	snapFile *os.File
	runFile  *os.File
	snapEnc  *json.Encoder
	runEnc   *json.Encoder
}

// NewFileWriter creates a FileWriter. runPath may be empty to skip the run log.
func NewFileWriter(snapshotPath, runPath string) (*FileWriter, error) {
	sf, err := os.Create(snapshotPath)
	if err != nil {
		return nil, err
	}
	fw := &FileWriter{snapFile: sf, snapEnc: json.NewEncoder(sf)}
	if runPath != "" {
		rf, err := os.Create(runPath)
		if err != nil {
			sf.Close()
			return nil, err
		}
		fw.runFile = rf
		fw.runEnc = json.NewEncoder(rf)
	}
	return fw, nil
}

// WriteSnapshot logs a single snapshot.
func (f *FileWriter) WriteSnapshot(s telemetry.TickSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapEnc.Encode(s)
}

// WriteSnapshots logs multiple snapshots.
func (f *FileWriter) WriteSnapshots(rows []telemetry.TickSnapshot) error {
	for _, r := range rows {
		if err := f.WriteSnapshot(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteRun logs a run record, if enabled.
func (f *FileWriter) WriteRun(rec telemetry.RunRecord) error {
	if f.runEnc == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runEnc.Encode(rec)
}

// Close closes any underlying files.
func (f *FileWriter) Close() error {
	var err error
	if f.snapFile != nil {
		if e := f.snapFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	if f.runFile != nil {
		if e := f.runFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
