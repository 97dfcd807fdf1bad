package processor

import (
	"errors"
	"fmt"
	"io"
	"os"

	"packshare/pkg/types"
)

// DefaultChunkSize applies whenever a peer does not announce one
const DefaultChunkSize = 16 * 1024

// ChunkCount returns ceil(size/chunkSize), never less than 1
func ChunkCount(size uint64, chunkSize int) int {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	n := (size + uint64(chunkSize) - 1) / uint64(chunkSize)
	if n == 0 {
		return 1
	}
	return int(n)
}

// ReadChunk reads chunk index of the file at filePath. The last chunk may be
// short and the only chunk of an empty file is empty.
func ReadChunk(filePath string, index, chunkSize int) ([]byte, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: invalid chunk size %d", types.ErrValidation, chunkSize)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open file: %v", types.ErrIO, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get file info: %v", types.ErrIO, err)
	}

	total := ChunkCount(uint64(stat.Size()), chunkSize)
	if index < 0 || index >= total {
		return nil, fmt.Errorf("%w: chunk index %d out of range [0,%d)", types.ErrValidation, index, total)
	}

	buffer := make([]byte, chunkSize)
	n, err := file.ReadAt(buffer, int64(index)*int64(chunkSize))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: failed to read file: %v", types.ErrIO, err)
	}

	return buffer[:n], nil
}
