package processor

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"packshare/pkg/types"
)

// Assembler buffers the chunks of one file keyed by index
type Assembler struct {
	filename    string
	totalChunks int
	chunks      map[int][]byte
	size        uint64
}

// NewAssembler prepares a buffer for a file of totalChunks chunks
func NewAssembler(filename string, totalChunks int) *Assembler {
	return &Assembler{
		filename:    filename,
		totalChunks: totalChunks,
		chunks:      make(map[int][]byte, totalChunks),
	}
}

// Add stores a chunk. Re-adding an index replaces the earlier data.
func (a *Assembler) Add(index int, data []byte) error {
	if index < 0 || index >= a.totalChunks {
		return fmt.Errorf("%w: chunk index %d out of range [0,%d)", types.ErrValidation, index, a.totalChunks)
	}
	if old, ok := a.chunks[index]; ok {
		a.size -= uint64(len(old))
	}
	a.chunks[index] = data
	a.size += uint64(len(data))
	return nil
}

// Has reports whether index is already buffered
func (a *Assembler) Has(index int) bool {
	_, ok := a.chunks[index]
	return ok
}

// Received returns the number of buffered chunks
func (a *Assembler) Received() int {
	return len(a.chunks)
}

// Complete reports whether every chunk is buffered
func (a *Assembler) Complete() bool {
	return len(a.chunks) >= a.totalChunks
}

// Bytes concatenates the chunks in index order
func (a *Assembler) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(a.size))
	for i := 0; i < a.totalChunks; i++ {
		chunk, ok := a.chunks[i]
		if !ok {
			return nil, fmt.Errorf("%w: %s is missing chunk %d", types.ErrValidation, a.filename, i)
		}
		buf.Write(chunk)
	}
	return buf.Bytes(), nil
}

// Reset drops every buffered chunk
func (a *Assembler) Reset() {
	clear(a.chunks)
	a.size = 0
}

// WriteFile writes data to destPath, creating parent directories
func WriteFile(destPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("%w: failed to create directory: %v", types.ErrIO, err)
	}
	if err := os.WriteFile(destPath, data, 0644); err != nil {
		return fmt.Errorf("%w: failed to write file: %v", types.ErrIO, err)
	}

	logrus.WithFields(logrus.Fields{"path": destPath, "bytes": len(data)}).Debug("File written")
	return nil
}
