package backups

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
)

// blobPath returns the fanned-out on-disk location of a blob, git-object-
// store style: the first two hex digits of the hash name a subdirectory,
// the rest name the file, so blobs are spread over at most 256
// subdirectories instead of all landing in one.
func blobPath(root, hash string) string {
	return filepath.Join(root, "objects", hash[:2], hash[2:])
}

// putBlobBytes stores data under its SHA-256 hash, doing nothing if a blob
// with that hash already exists. Writes go through a temp file in the same
// objects tree so a crash mid-write never leaves a partially-written blob
// at its final, content-addressed path.
func putBlobBytes(root string, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	dst := blobPath(root, hash)
	if _, err := os.Stat(dst); err == nil {
		return hash, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	return hash, os.Rename(tmp, dst)
}

// putBlobFile streams srcPath into the CAS without buffering the whole file
// in memory, hashing and writing in one pass. The blob's final name isn't
// known until the hash is complete, so it's written to a scratch temp file
// first and renamed into place; a blob already present under the computed
// hash is left untouched (the scratch copy is discarded) since content-
// addressing makes the write idempotent.
func putBlobFile(root, srcPath string) (hash string, size int64, err error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", 0, err
	}
	defer src.Close()

	tmpDir := filepath.Join(root, "objects", "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", 0, err
	}
	tmp, err := os.CreateTemp(tmpDir, "blob-*")
	if err != nil {
		return "", 0, err
	}
	tmpPath := tmp.Name()

	h := sha256.New()
	n, copyErr := io.Copy(io.MultiWriter(tmp, h), src)
	closeErr := tmp.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return "", 0, copyErr
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return "", 0, closeErr
	}

	sum := hex.EncodeToString(h.Sum(nil))
	dst := blobPath(root, sum)
	if _, statErr := os.Stat(dst); statErr == nil {
		os.Remove(tmpPath)
		return sum, n, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		os.Remove(tmpPath)
		return "", 0, err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return "", 0, err
	}
	return sum, n, nil
}

// openBlob opens a stored blob for reading by hash.
func openBlob(root, hash string) (*os.File, error) {
	return os.Open(blobPath(root, hash))
}
