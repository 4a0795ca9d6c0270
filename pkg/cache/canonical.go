package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Canonicalize returns the stored form of a JSON document: two-space
// indentation, member order preserved, terminated by a newline.
//
// Canonicalize is a fixed point: Canonicalize(Canonicalize(b)) == Canonicalize(b).
// Entries whose stored bytes differ from their canonical form were written by an
// older version and are rewritten on read.
func Canonicalize(data []byte) ([]byte, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	var out bytes.Buffer
	out.Grow(compact.Len() * 2)
	if err := json.Indent(&out, compact.Bytes(), "", "  "); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}
