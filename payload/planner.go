// Package payload splits a logical upload payload into the ordered chunks transferred by the
// individual requests of one resumable upload.
package payload

import (
	"fmt"
	"iter"
)

// Plan describes how a payload of a fixed length is split into requests.
// Every chunk is min(remaining, maxChunkSize) bytes long, so all chunks except possibly the
// last one are exactly maxChunkSize bytes.
type Plan struct {
	totalLength  int64
	maxChunkSize int64
}

// NewPlan creates a Plan for totalLength bytes sent in requests of at most maxChunkSize bytes.
func NewPlan(totalLength, maxChunkSize int64) (Plan, error) {
	if totalLength < 0 {
		return Plan{}, fmt.Errorf("total length must not be negative, got %d", totalLength)
	}
	if maxChunkSize <= 0 {
		return Plan{}, fmt.Errorf("max chunk size must be positive, got %d", maxChunkSize)
	}

	return Plan{
		totalLength:  totalLength,
		maxChunkSize: maxChunkSize,
	}, nil
}

// TotalLength returns the declared length of the whole payload.
func (p Plan) TotalLength() int64 {
	return p.totalLength
}

// NumChunks returns the total number of chunks.
func (p Plan) NumChunks() int {
	if p.maxChunkSize <= 0 {
		return 0
	}
	return int((p.totalLength + p.maxChunkSize - 1) / p.maxChunkSize)
}

// Sizes yields the chunk index and size pairs in payload order.
// The sequence holds no state and can be ranged over any number of times.
func (p Plan) Sizes() iter.Seq2[int, int64] {
	return func(yield func(int, int64) bool) {
		for offset, index := int64(0), 0; offset < p.totalLength; index++ {
			size := min(p.totalLength-offset, p.maxChunkSize)
			if !yield(index, size) {
				return
			}
			offset += size
		}
	}
}
