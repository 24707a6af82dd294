// Package decode reads files whose text encoding is not known in advance.
package decode

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"

	"github.com/cognicore/zhcorpus/pkg/zhcorpus/internalerr"
)

type candidate struct {
	label string
	// enc is nil for strict UTF-8.
	enc encoding.Encoding
	// utf16 is set for UTF-16 labels, whose code units are checked before
	// decoding.
	utf16 *utf16Layout
	// replacement is the candidate's own encoding of U+FFFD, nil when the
	// encoding cannot represent it.
	replacement []byte
}

type utf16Layout struct {
	bigEndian bool
	useBOM    bool
}

// Decoder tries an ordered list of candidate encodings on each file and
// returns the text from the first one that decodes the whole file cleanly.
// A Decoder is safe for concurrent use.
type Decoder struct {
	candidates []candidate
	logger     *slog.Logger
}

// New resolves the candidate labels. Unknown labels fail with
// internalerr.ErrUnknownEncoding.
func New(labels []string, logger *slog.Logger) (*Decoder, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: no candidate encodings", internalerr.ErrInvalidInput)
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Decoder{logger: logger}
	for _, label := range labels {
		c, err := resolve(label)
		if err != nil {
			return nil, err
		}
		d.candidates = append(d.candidates, c)
	}
	return d, nil
}

func resolve(label string) (candidate, error) {
	label = strings.ToLower(strings.TrimSpace(label))
	switch label {
	case "utf-16", "utf16":
		// Byte order from the BOM, little-endian without one.
		return candidate{
			label: label,
			enc:   unicode.UTF16(unicode.LittleEndian, unicode.UseBOM),
			utf16: &utf16Layout{useBOM: true},
		}, nil
	case "utf-16le", "utf-16be":
		be := label == "utf-16be"
		order := unicode.LittleEndian
		if be {
			order = unicode.BigEndian
		}
		return candidate{
			label: label,
			enc:   unicode.UTF16(order, unicode.IgnoreBOM),
			utf16: &utf16Layout{bigEndian: be},
		}, nil
	}

	enc, name := charset.Lookup(label)
	if enc == nil {
		return candidate{}, fmt.Errorf("%w: %q", internalerr.ErrUnknownEncoding, label)
	}
	if name == "utf-8" {
		return candidate{label: label}, nil
	}
	c := candidate{label: label, enc: enc}
	c.replacement = encodedReplacement(enc)
	return c, nil
}

const replacementChar = string(utf8.RuneError)

// encodedReplacement returns how enc writes U+FFFD, provided the bytes
// decode back to it.
func encodedReplacement(enc encoding.Encoding) []byte {
	r, err := enc.NewEncoder().Bytes([]byte(replacementChar))
	if err != nil || len(r) == 0 {
		return nil
	}
	if back, err := enc.NewDecoder().Bytes(r); err != nil || string(back) != replacementChar {
		return nil
	}
	return r
}

// Labels returns the candidate labels in the order they are tried.
func (d *Decoder) Labels() []string {
	labels := make([]string, len(d.candidates))
	for i, c := range d.candidates {
		labels[i] = c.label
	}
	return labels
}

// Decode reads path and decodes it. It returns the text and the label of the
// encoding that succeeded. When no candidate fits, the error is a
// *internalerr.DecodeExhaustedError listing every attempt; an unreadable file
// is reported the same way with a single attempt.
func (d *Decoder) Decode(path string) (string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", &internalerr.DecodeExhaustedError{
			Path:     path,
			Attempts: []internalerr.Attempt{{Encoding: "read", Err: err}},
		}
	}
	return d.DecodeBytes(path, data)
}

// DecodeBytes decodes data that was read from path.
func (d *Decoder) DecodeBytes(path string, data []byte) (string, string, error) {
	attempts := make([]internalerr.Attempt, 0, len(d.candidates))
	for _, c := range d.candidates {
		text, err := c.decode(data)
		if err == nil {
			if len(attempts) > 0 {
				d.logger.Debug("decoded with fallback encoding", "path", path, "encoding", c.label)
			}
			return text, c.label, nil
		}
		attempts = append(attempts, internalerr.Attempt{Encoding: c.label, Err: err})
	}
	return "", "", &internalerr.DecodeExhaustedError{Path: path, Attempts: attempts}
}

// decode is strict. x/text decoders substitute U+FFFD for invalid input
// instead of failing, so UTF-16 is checked unit by unit up front, and for
// other encodings any U+FFFD beyond those the input itself encodes counts
// as a failure.
func (c candidate) decode(data []byte) (string, error) {
	if c.enc == nil {
		if off := invalidUTF8(data); off >= 0 {
			return "", fmt.Errorf("invalid byte sequence at offset %d", off)
		}
		return string(data), nil
	}
	if c.utf16 != nil {
		if err := c.utf16.check(data); err != nil {
			return "", err
		}
	}

	out, err := c.enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	if c.utf16 == nil {
		if got := bytes.Count(out, []byte(replacementChar)); got > c.encodedReplacements(data) {
			i := bytes.IndexRune(out, utf8.RuneError)
			return "", fmt.Errorf("undecodable input near output offset %d", i)
		}
	}
	return string(out), nil
}

func (c candidate) encodedReplacements(data []byte) int {
	if c.replacement == nil {
		return 0
	}
	return bytes.Count(data, c.replacement)
}

// check reports an odd length or an unpaired surrogate.
func (l utf16Layout) check(data []byte) error {
	be := l.bigEndian
	if l.useBOM && len(data) >= 2 {
		switch {
		case data[0] == 0xFE && data[1] == 0xFF:
			be, data = true, data[2:]
		case data[0] == 0xFF && data[1] == 0xFE:
			be, data = false, data[2:]
		}
	}
	if len(data)%2 != 0 {
		return fmt.Errorf("odd length %d for utf-16", len(data))
	}

	unit := func(i int) uint16 {
		if be {
			return uint16(data[i])<<8 | uint16(data[i+1])
		}
		return uint16(data[i+1])<<8 | uint16(data[i])
	}
	for i := 0; i < len(data); i += 2 {
		u := unit(i)
		switch {
		case u >= 0xD800 && u <= 0xDBFF:
			if i+2 >= len(data) {
				return fmt.Errorf("unpaired surrogate at offset %d", i)
			}
			if next := unit(i + 2); next < 0xDC00 || next > 0xDFFF {
				return fmt.Errorf("unpaired surrogate at offset %d", i)
			}
			i += 2
		case u >= 0xDC00 && u <= 0xDFFF:
			return fmt.Errorf("unpaired surrogate at offset %d", i)
		}
	}
	return nil
}

// invalidUTF8 returns the offset of the first invalid byte, or -1.
func invalidUTF8(data []byte) int {
	if utf8.Valid(data) {
		return -1
	}
	for off := 0; off < len(data); {
		r, size := utf8.DecodeRune(data[off:])
		if r == utf8.RuneError && size <= 1 {
			return off
		}
		off += size
	}
	return -1
}
