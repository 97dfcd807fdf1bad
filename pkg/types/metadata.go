package types

// FileMetadata describes one file of a pack as announced to the receiver
type FileMetadata struct {
	Filename string `json:"filename"` // Path relative to the output directory
	Size     uint64 `json:"size"`     // File size in bytes
	Hash     string `json:"hash"`     // SHA-256 hex checksum, empty when not computed
}

// PackManifest is the named, ordered set of files offered by a sharer
type PackManifest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Creator     string         `json:"creator,omitempty"`
	Files       []FileMetadata `json:"files"`
}

// TotalBytes returns the summed size of every file in the manifest
func (m *PackManifest) TotalBytes() uint64 {
	var total uint64
	for _, f := range m.Files {
		total += f.Size
	}
	return total
}
