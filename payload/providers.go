package payload

import (
	"crypto/rand"
	"fmt"
	"io"
)

// Chunk is one immutable block of a payload.
type Chunk struct {
	Index int
	Data  []byte
}

// Size returns the chunk length in bytes.
func (c Chunk) Size() int64 {
	return int64(len(c.Data))
}

// ChunkProvider provides chunk data for upload.
type ChunkProvider interface {
	// NumChunks returns the total number of chunks.
	NumChunks() int

	// ChunkSize returns the size of the chunk at the given index.
	ChunkSize(index int) int64

	// TotalLength returns the sum of all chunk sizes.
	TotalLength() int64

	// GetChunk returns the chunk at the given index.
	GetChunk(index int) (Chunk, error)
}

// ByteSliceChunkProvider provides chunks from pre-loaded byte slices.
// The slices are never modified, so a provider can be shared by concurrent uploads.
type ByteSliceChunkProvider struct {
	chunks [][]byte
}

// NewByteSliceChunkProvider creates a ChunkProvider from byte slices.
func NewByteSliceChunkProvider(chunks [][]byte) *ByteSliceChunkProvider {
	return &ByteSliceChunkProvider{chunks: chunks}
}

// NewRandomChunkProvider fills every chunk of the plan with bytes read from source.
// A nil source defaults to crypto/rand.
func NewRandomChunkProvider(plan Plan, source io.Reader) (*ByteSliceChunkProvider, error) {
	if source == nil {
		source = rand.Reader
	}

	chunks := make([][]byte, 0, plan.NumChunks())
	for index, size := range plan.Sizes() {
		chunk := make([]byte, size)
		if _, err := io.ReadFull(source, chunk); err != nil {
			return nil, fmt.Errorf("generate chunk %d: %w", index+1, err)
		}
		chunks = append(chunks, chunk)
	}

	return NewByteSliceChunkProvider(chunks), nil
}

// NumChunks returns the total number of chunks.
func (p *ByteSliceChunkProvider) NumChunks() int {
	return len(p.chunks)
}

// ChunkSize returns the size of the chunk at the given index.
func (p *ByteSliceChunkProvider) ChunkSize(index int) int64 {
	if index < 0 || index >= len(p.chunks) {
		return 0
	}
	return int64(len(p.chunks[index]))
}

// TotalLength returns the sum of all chunk sizes.
func (p *ByteSliceChunkProvider) TotalLength() int64 {
	var total int64
	for _, chunk := range p.chunks {
		total += int64(len(chunk))
	}
	return total
}

// GetChunk returns the chunk at the given index.
func (p *ByteSliceChunkProvider) GetChunk(index int) (Chunk, error) {
	if index < 0 || index >= len(p.chunks) {
		return Chunk{}, fmt.Errorf("chunk index %d out of range [0, %d)", index, len(p.chunks))
	}
	return Chunk{Index: index, Data: p.chunks[index]}, nil
}
