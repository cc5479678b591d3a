package embedding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Blob layout (little endian):
//
//	[0:2] magic "FE"
//	[2]   format version
//	[3:5] dimension (uint16)
//	[5:]  dimension * float32
const (
	codecVersion = 1
	headerSize   = 5
)

var codecMagic = [2]byte{'F', 'E'}

// ErrMalformed is returned by Decode for blobs that do not follow the layout.
var ErrMalformed = errors.New("malformed embedding blob")

// Encode serializes e into the versioned storage format.
func Encode(e Embedding) []byte {
	buf := make([]byte, headerSize+4*len(e))
	buf[0], buf[1] = codecMagic[0], codecMagic[1]
	buf[2] = codecVersion
	binary.LittleEndian.PutUint16(buf[3:5], uint16(len(e))) //nolint:gosec // dimension is validated upstream
	for i, v := range e {
		binary.LittleEndian.PutUint32(buf[headerSize+4*i:], math.Float32bits(v))
	}
	return buf
}

// Decode parses a blob written by Encode. A nil or empty blob decodes to a nil
// embedding, which callers treat as "not enrolled".
func Decode(data []byte) (Embedding, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) < headerSize || data[0] != codecMagic[0] || data[1] != codecMagic[1] {
		return nil, fmt.Errorf("%w: bad header", ErrMalformed)
	}
	if data[2] != codecVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, data[2])
	}
	dim := int(binary.LittleEndian.Uint16(data[3:5]))
	if len(data) != headerSize+4*dim {
		return nil, fmt.Errorf("%w: expected %d bytes for dim %d, got %d", ErrMalformed, headerSize+4*dim, dim, len(data))
	}
	out := make(Embedding, dim)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[headerSize+4*i:]))
	}
	return out, nil
}
