// Package identity derives the stable media-file id used throughout the
// catalog (spec §4.E).
package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// PrefixWindow is the number of leading bytes of the file sampled into
// the hash. Heuristic, not a cryptographic-collision-resistance claim
// (spec §9b).
const PrefixWindow = 32 * 1024

// Hash computes the 8-hex-character stable id for a file submitted by
// userId: SHA-256 over basename || userId || size(8 bytes BE) || first
// up-to-32KiB of content.
func Hash(filePath, userId string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("identity: open %s: %w", filePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("identity: stat %s: %w", filePath, err)
	}

	h := sha256.New()
	h.Write([]byte(filepath.Base(filePath)))
	h.Write([]byte(userId))

	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], uint64(info.Size()))
	h.Write(sizeBuf[:])

	if _, err := io.CopyN(h, f, PrefixWindow); err != nil && err != io.EOF {
		return "", fmt.Errorf("identity: read prefix of %s: %w", filePath, err)
	}

	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:4]), nil
}
