package backups

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/obsidianmc/controlplane/internal/models"
)

// logFileName is the append-only, newline-delimited JSON record of every
// BackupItem produced for one server — the CAS's equivalent of a ref log.
// It is the sole source of truth for List/Last/Prune/Delete; the manifest
// blobs it references hold the actual file trees.
const logFileName = "log.jsonl"

// FileEntry is one tracked file inside an incremental commit's manifest.
type FileEntry struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
	Mode uint32 `json:"mode"`
}

// manifest is the content hashed to produce an incremental commit's id: the
// sorted file list plus a link to the parent commit (empty for the first
// backup of a server).
type manifest struct {
	Parent      string      `json:"parent,omitempty"`
	Files       []FileEntry `json:"files"`
	Description string      `json:"description"`
	Timestamp   time.Time   `json:"timestamp"`
}

// BackupItem is one completed backup run. For Incremental backups, ID is
// the SHA-256 of its manifest blob in the CAS. For WorldOnly backups there
// is no manifest — ArchivePath names the zip written directly under the
// server directory's backups/ folder.
type BackupItem struct {
	ID          string            `json:"id"`
	ServerID    string            `json:"server_id"`
	ParentID    string            `json:"parent_id,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Description string            `json:"description"`
	SizeBytes   int64             `json:"size_bytes"`
	Kind        models.BackupKind `json:"kind"`
	ArchivePath string            `json:"archive_path,omitempty"`
}

// ChangeRecord is one file-level difference between a commit and its
// parent. Before/After are blob hashes; either may be empty (add/delete).
type ChangeRecord struct {
	Path   string `json:"path"`
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
}

func readLog(root string) ([]*BackupItem, error) {
	f, err := os.Open(filepath.Join(root, logFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var items []*BackupItem
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var item BackupItem
		if err := json.Unmarshal(line, &item); err != nil {
			return nil, err
		}
		items = append(items, &item)
	}
	return items, scanner.Err()
}

func appendLogEntry(root string, item *BackupItem) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(root, logFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = f.Write(data)
	return err
}

// writeLog rewrites the whole log, used by Prune and Delete. It goes
// through a temp file in the same directory so a crash mid-write can never
// leave a truncated log behind.
func writeLog(root string, items []*BackupItem) error {
	tmp := filepath.Join(root, logFileName+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			f.Close()
			return err
		}
		data = append(data, '\n')
		if _, err := f.Write(data); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(root, logFileName))
}

func loadManifest(root, id string) (*manifest, error) {
	data, err := os.ReadFile(blobPath(root, id))
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
