package services

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kamune-org/taskbag"
)

// Stored batches carry a version byte ahead of the packed varints, which
// also keeps an empty batch from being an empty value.
const batchV1 byte = 1

var (
	ErrCorruptRecord = errors.New("corrupt record")
)

func encodeBatch(b taskbag.Batch) []byte {
	return append([]byte{batchV1}, taskbag.EncodeBatch(b)...)
}

func decodeBatch(data []byte) (taskbag.Batch, error) {
	if len(data) == 0 || data[0] != batchV1 {
		return nil, fmt.Errorf("%w: unknown batch version", ErrCorruptRecord)
	}
	return taskbag.DecodeBatch(data[1:])
}

func encodeConfiguration(cfg taskbag.Configuration) []byte {
	return encodeBatch(taskbag.Batch{cfg.RangeCeiling, cfg.BatchSize})
}

func decodeConfiguration(data []byte) (taskbag.Configuration, error) {
	b, err := decodeBatch(data)
	if err != nil {
		return taskbag.Configuration{}, err
	}
	if len(b) != 2 {
		return taskbag.Configuration{}, fmt.Errorf("%w: configuration has %d fields", ErrCorruptRecord, len(b))
	}
	return taskbag.Configuration{RangeCeiling: b[0], BatchSize: b[1]}, nil
}

func encodeCursor(v int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(v))
}

func decodeCursor(data []byte) (int64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: cursor length %d", ErrCorruptRecord, len(data))
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}
