package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"slices"
	"strconv"
)

// Key derives a stage key from its inputs. Order matters.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(strconv.Itoa(len(p))))
		h.Write([]byte{':'})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Digest returns the hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestOf returns a digest over the encoded artifacts of v, so a downstream
// stage can fold its input's identity into its own key.
func DigestOf[T any](codec Codec[T], v T) (string, error) {
	files, err := codec.Encode(v)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)

	parts := make([]string, 0, 2*len(names))
	for _, name := range names {
		parts = append(parts, name, Digest(files[name]))
	}
	return Key(parts...), nil
}

// TreeSignature digests the size and modification time of every file.
// A file that cannot be stat'ed contributes its error text, so it still
// changes the signature when it appears or disappears.
func TreeSignature(paths []string) string {
	h := sha256.New()
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			fmt.Fprintf(h, "%s\x00!%v\n", p, err)
			continue
		}
		fmt.Fprintf(h, "%s\x00%d\x00%d\n", p, info.Size(), info.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil))
}
