package processor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"packshare/pkg/types"
)

// FileService handles manifest building and source file access for the sharer
type FileService struct {
	hashFiles bool
}

// NewFileService creates a new file service. hashFiles controls whether
// manifests carry SHA-256 checksums.
func NewFileService(hashFiles bool) *FileService {
	return &FileService{hashFiles: hashFiles}
}

// calculateFileChecksum calculates SHA-256 checksum of a file
func calculateFileChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file for checksum: %w", err)
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("failed to read file for checksum: %w", err)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// Checksum returns the SHA-256 hex digest of data
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CreateMetadata creates file metadata for a single source file
func (f *FileService) CreateMetadata(filePath string) (*types.FileMetadata, error) {
	stat, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get file info: %v", types.ErrIO, err)
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", types.ErrValidation, filePath)
	}

	metadata := &types.FileMetadata{
		Filename: filepath.Base(filePath),
		Size:     uint64(stat.Size()),
	}

	if f.hashFiles {
		checksum, err := calculateFileChecksum(filePath)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to calculate file checksum: %v", types.ErrIO, err)
		}
		metadata.Hash = checksum
	}

	return metadata, nil
}

// BuildManifest describes the given files as a pack. It returns the manifest
// and the source path for each announced filename.
func (f *FileService) BuildManifest(name, description, creator string, filePaths []string) (*types.PackManifest, map[string]string, error) {
	if name == "" {
		return nil, nil, fmt.Errorf("%w: pack name is required", types.ErrValidation)
	}
	if len(filePaths) == 0 {
		return nil, nil, fmt.Errorf("%w: at least one file is required", types.ErrValidation)
	}

	manifest := &types.PackManifest{
		Name:        name,
		Description: description,
		Creator:     creator,
		Files:       make([]types.FileMetadata, 0, len(filePaths)),
	}
	sources := make(map[string]string, len(filePaths))

	for _, path := range filePaths {
		metadata, err := f.CreateMetadata(path)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := sources[metadata.Filename]; dup {
			return nil, nil, fmt.Errorf("%w: duplicate filename %s", types.ErrValidation, metadata.Filename)
		}

		sources[metadata.Filename] = path
		manifest.Files = append(manifest.Files, *metadata)
	}

	logrus.WithFields(logrus.Fields{
		"pack":  name,
		"files": len(manifest.Files),
		"bytes": manifest.TotalBytes(),
	}).Info("Pack manifest built")

	return manifest, sources, nil
}
