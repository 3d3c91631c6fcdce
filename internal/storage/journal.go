package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	logx "tailwatch/pkg/logx"
)

// Journal appends between snapshot compactions.
const compactEvery = 1000

type journalEntry struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

// dedupLog is the file-backed dedup map: a JSON snapshot plus an append-only
// journal of updates. Appends stay cheap; every compactEvery writes the
// journal is folded back into the snapshot and truncated. Callers hold the
// store lock.
type dedupLog struct {
	log logx.Logger

	snapshotPath string
	journal      *os.File
	marks        map[string]int64 // key -> suppress-until, unix milli
	appends      int
}

func openDedupLog(prefix string, log logx.Logger) (*dedupLog, error) {
	snapshotPath := prefix + ".dedup.snapshot.json"
	journalPath := prefix + ".dedup.journal.jsonl"

	// Recover state best-effort: a corrupt snapshot or journal costs some
	// suppression, never startup.
	marks := make(map[string]int64)
	var snap map[string]int64
	if ok, err := readJSON(snapshotPath, &snap); err == nil && ok {
		for k, v := range snap {
			marks[k] = v
		}
	}
	replayJournal(journalPath, marks)
	dropExpired(marks)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	return &dedupLog{log: log, snapshotPath: snapshotPath, journal: jf, marks: marks}, nil
}

func (d *dedupLog) get(key string) (int64, bool) {
	ms, ok := d.marks[key]
	return ms, ok
}

// put records key in memory and appends it to the journal.
func (d *dedupLog) put(key string, untilMilli int64) error {
	if d.journal == nil {
		return errors.New("dedup journal closed")
	}
	d.marks[key] = untilMilli
	if err := json.NewEncoder(d.journal).Encode(journalEntry{Key: key, Until: untilMilli}); err != nil {
		return err
	}
	if d.appends++; d.appends%compactEvery == 0 {
		if err := d.compact(); err != nil {
			d.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

// compact folds live marks into the snapshot and truncates the journal.
func (d *dedupLog) compact() error {
	dropExpired(d.marks)
	if err := writeJSONAtomic(d.snapshotPath, d.marks); err != nil {
		return err
	}
	if err := d.journal.Truncate(0); err != nil {
		return err
	}
	_, err := d.journal.Seek(0, io.SeekEnd)
	return err
}

func (d *dedupLog) close() error {
	if d.journal == nil {
		return nil
	}
	err := d.journal.Close()
	d.journal = nil
	return err
}

// replayJournal folds journal lines into marks. Corrupt lines are skipped:
// the journal is recovery state, not a source of truth.
func replayJournal(path string, marks map[string]int64) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e journalEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || e.Key == "" {
			continue
		}
		marks[e.Key] = e.Until
	}
}

func dropExpired(marks map[string]int64) {
	now := time.Now().UnixMilli()
	for k, until := range marks {
		if until < now {
			delete(marks, k)
		}
	}
}

// writeJSONAtomic writes v to path via a temp file and rename, so readers
// never observe a partial write.
func writeJSONAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// readJSON decodes path into out. A missing file reports (false, nil).
func readJSON(path string, out any) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(out); err != nil {
		return false, err
	}
	return true, nil
}
