// Package manifest validates and decodes the manifest JSON document
// the orchestrator consumes: an array of {url, filepath?, checksum?,
// checksum-algorithm?} entries.
package manifest

import (
	"encoding/json"
	"fmt"
	"io"

	"blobfetch/internal/xerr"
)

// Algorithm enumerates the supported checksum-algorithm manifest field.
type Algorithm string

const (
	AlgorithmMD5      Algorithm = "md5"
	AlgorithmGSCRC32C Algorithm = "gs_crc32c"
	AlgorithmS3ETag   Algorithm = "s3_etag"
	AlgorithmNull     Algorithm = "null"
)

var validAlgorithms = map[Algorithm]bool{
	AlgorithmMD5: true, AlgorithmGSCRC32C: true, AlgorithmS3ETag: true, AlgorithmNull: true,
}

// Entry is a single manifest item.
type Entry struct {
	URL               string    `json:"url"`
	Filepath          string    `json:"filepath,omitempty"`
	Checksum          string    `json:"checksum,omitempty"`
	ChecksumAlgorithm Algorithm `json:"checksum-algorithm,omitempty"`
}

// Manifest is the decoded, validated list of entries.
type Manifest []Entry

// Decode parses and validates a manifest document. A manifest fails
// validation if either checksum field appears without its partner, or
// if checksum-algorithm is outside the enum.
func Decode(r io.Reader) (Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, xerr.New(xerr.KindInvalidManifest, "", fmt.Errorf("decoding JSON: %w", err))
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks every entry's invariants. Failures are fatal before
// any work begins (SPEC_FULL §7: KindInvalidManifest), so they are
// reported as such rather than as bare errors.
func (m Manifest) Validate() error {
	for i, e := range m {
		if e.URL == "" {
			return xerr.New(xerr.KindInvalidManifest, "", fmt.Errorf("entry %d: url is required", i))
		}
		hasChecksum := e.Checksum != ""
		hasAlgorithm := e.ChecksumAlgorithm != ""
		if hasChecksum != hasAlgorithm {
			return xerr.New(xerr.KindInvalidManifest, e.URL, fmt.Errorf("entry %d: checksum and checksum-algorithm must both be set or both be absent", i))
		}
		if hasAlgorithm && !validAlgorithms[e.ChecksumAlgorithm] {
			return xerr.New(xerr.KindInvalidManifest, e.URL, fmt.Errorf("entry %d: unknown checksum-algorithm %q", i, e.ChecksumAlgorithm))
		}
	}
	return nil
}
