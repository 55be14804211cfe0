package repository

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4"
)

const (
	codecRaw byte = iota
	codecLZ4
)

// maxLZ4Ratio bounds how far an lz4 block can expand: a single extra length
// byte encodes at most 255 more bytes of match.
const maxLZ4Ratio = 255

var errCorruptValue = errors.New("corrupt stored value")

// compress frames data as: codec byte, uvarint plain length, payload. Data
// lz4 cannot shrink is stored raw.
func compress(data []byte) ([]byte, error) {
	header := make([]byte, 1+binary.MaxVarintLen64)
	n := 1 + binary.PutUvarint(header[1:], uint64(len(data)))

	buf := make([]byte, lz4.CompressBlockBound(len(data)))
	size, err := lz4.CompressBlock(data, buf, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compression failed: %w", err)
	}
	if size == 0 || size >= len(data) {
		header[0] = codecRaw
		return append(header[:n], data...), nil
	}
	header[0] = codecLZ4
	return append(header[:n], buf[:size]...), nil
}

func decompress(value []byte) ([]byte, error) {
	if len(value) < 2 {
		return nil, errCorruptValue
	}
	plain, n := binary.Uvarint(value[1:])
	if n <= 0 {
		return nil, errCorruptValue
	}
	payload := value[1+n:]

	switch value[0] {
	case codecRaw:
		if uint64(len(payload)) != plain {
			return nil, errCorruptValue
		}
		return payload, nil
	case codecLZ4:
		if plain == 0 || plain > uint64(len(payload))*maxLZ4Ratio {
			return nil, fmt.Errorf("%w: declared length %d for %d byte payload", errCorruptValue, plain, len(payload))
		}
		out := make([]byte, plain)
		size, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompression failed: %w", err)
		}
		if uint64(size) != plain {
			return nil, errCorruptValue
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: codec %d", errCorruptValue, value[0])
}
