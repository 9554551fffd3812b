package modindex

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"os"
)

// sha1File hashes a jar's full contents, the digest Modrinth's
// version_file lookup keys on.
func sha1File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
