// Package checksum implements the cloud-storage checksum taxonomy:
// streaming verifiers that reproduce Google Cloud Storage's base64
// CRC32C, Amazon S3's single- and multi-part ETag, and plain MD5,
// all exposed through a single Verifier contract.
package checksum

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"math"

	"golang.org/x/sync/errgroup"
)

const mib = 1024 * 1024

// maxLayouts bounds the number of candidate S3 multipart part-size
// layouts a verifier will enumerate. Beyond this the object's true part
// size is considered unrecoverable from headers alone.
const maxLayouts = 5

// Algorithm identifies a checksum variant.
type Algorithm string

const (
	MD5      Algorithm = "md5"
	GSCRC32C Algorithm = "gs_crc32c"
	S3ETag   Algorithm = "s3_etag"
	Null     Algorithm = "null"
)

// Verifier consumes bytes in file order and reports, at EOF, whether
// the accumulated digest matches an expected value.
type Verifier interface {
	Update(data []byte)
	Matches() bool
}

// Md5Verifier reproduces plain MD5 and single-part S3 ETags, which are
// identical in form: the lowercase hex digest of the object.
type Md5Verifier struct {
	expected string
	h        hash.Hash
}

func NewMD5(expected string) *Md5Verifier {
	return &Md5Verifier{expected: expected, h: md5.New()}
}

func (v *Md5Verifier) Update(data []byte) { v.h.Write(data) }

func (v *Md5Verifier) Digest() string { return hex.EncodeToString(v.h.Sum(nil)) }

func (v *Md5Verifier) Matches() bool { return v.Digest() == v.expected }

// crc32cTable is the Castagnoli polynomial table Google presents
// object checksums against.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// GSCRC32CVerifier reproduces Google Cloud Storage's base64-encoded,
// big-endian CRC32C digest as presented in x-goog-hash.
type GSCRC32CVerifier struct {
	expected string
	crc      uint32
}

func NewGSCRC32C(expected string) *GSCRC32CVerifier {
	return &GSCRC32CVerifier{expected: expected}
}

func (v *GSCRC32CVerifier) Update(data []byte) {
	v.crc = crc32.Update(v.crc, crc32cTable, data)
}

func (v *GSCRC32CVerifier) Digest() string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v.crc)
	return base64.StdEncoding.EncodeToString(b[:])
}

func (v *GSCRC32CVerifier) Matches() bool { return v.Digest() == v.expected }

// S3Etag accumulates an MD5-per-part ETag for a single candidate part
// size hypothesis: every partSize bytes of the stream get their own
// MD5, and the final digest concatenates those raw per-part digests
// and MD5-hashes the concatenation.
type S3Etag struct {
	partSize        int64
	etags           [][]byte
	currentMD5      hash.Hash
	currentPartSize int64
}

func NewS3Etag(partSize int64) *S3Etag {
	return &S3Etag{partSize: partSize, currentMD5: md5.New()}
}

func (e *S3Etag) Update(data []byte) {
	for int64(len(data))+e.currentPartSize >= e.partSize {
		toAdd := e.partSize - e.currentPartSize
		e.currentMD5.Write(data[:toAdd])
		e.etags = append(e.etags, e.currentMD5.Sum(nil))
		data = data[toAdd:]
		e.currentPartSize = 0
		e.currentMD5 = md5.New()
	}
	e.currentMD5.Write(data)
	e.currentPartSize += int64(len(data))
}

// Digest returns the S3 ETag this candidate layout implies, either a
// bare MD5 hex digest (single part) or the "<hex>-<N>" composite form.
func (e *S3Etag) Digest() string {
	etags := e.etags
	if e.currentPartSize > 0 {
		etags = append(append([][]byte{}, etags...), e.currentMD5.Sum(nil))
	}
	if len(etags) == 1 {
		return hex.EncodeToString(etags[0])
	}
	concat := make([]byte, 0, len(etags)*md5.Size)
	for _, etag := range etags {
		concat = append(concat, etag...)
	}
	sum := md5.Sum(concat)
	return fmt.Sprintf("%s-%d", hex.EncodeToString(sum[:]), len(etags))
}

// S3MultiEtag fans out to every plausible S3 multipart part-size
// hypothesis in parallel (the part size itself is not carried in
// response headers) and matches if any hypothesis's digest matches.
type S3MultiEtag struct {
	expected string
	etags    []*S3Etag
}

// NewS3MultiEtag builds a verifier for an object of the given total
// size known to have been uploaded in numberOfParts S3 multipart parts.
// It returns an error if more than maxLayouts candidate part sizes are
// plausible — at that point the object's true layout is ambiguous and
// callers should ask for an explicit checksum instead.
func NewS3MultiEtag(size int64, numberOfParts int, expected string) (*S3MultiEtag, error) {
	layouts, err := s3MultipartLayouts(size, numberOfParts)
	if err != nil {
		return nil, err
	}
	m := &S3MultiEtag{expected: expected}
	for _, partSize := range layouts {
		m.etags = append(m.etags, NewS3Etag(partSize))
	}
	return m, nil
}

func (m *S3MultiEtag) Update(data []byte) {
	var g errgroup.Group
	for _, e := range m.etags {
		e := e
		g.Go(func() error {
			e.Update(data)
			return nil
		})
	}
	_ = g.Wait()
}

// Digests returns every candidate layout's digest.
func (m *S3MultiEtag) Digests() []string {
	out := make([]string, len(m.etags))
	for i, e := range m.etags {
		out[i] = e.Digest()
	}
	return out
}

func (m *S3MultiEtag) Matches() bool {
	for _, d := range m.Digests() {
		if d == m.expected {
			return true
		}
	}
	return false
}

// ErrAmbiguousLayout is returned when more than maxLayouts candidate S3
// multipart part sizes are plausible for a given (size, numberOfParts)
// pair.
var ErrAmbiguousLayout = fmt.Errorf("checksum: more than %d candidate S3 part layouts, object is ambiguous", maxLayouts)

// s3MultipartLayouts enumerates all plausible per-part sizes (assumed
// multiples of 1 MiB) for an object of the given size split into
// numberOfParts parts.
func s3MultipartLayouts(size int64, numberOfParts int) ([]int64, error) {
	if numberOfParts == 1 {
		return []int64{size}, nil
	}
	if size < mib {
		return nil, fmt.Errorf("checksum: total size %d less than 1 MiB", size)
	}
	minPartSize := int64(math.Ceil(float64(size)/float64(numberOfParts)/mib)) * mib
	maxPartSize := (int64(math.Ceil(float64(size)/float64(numberOfParts-1)/mib)) - 1) * mib
	if minPartSize == maxPartSize {
		return []int64{minPartSize}, nil
	}
	var layouts []int64
	for p := minPartSize; p <= maxPartSize; p += mib {
		layouts = append(layouts, p)
	}
	if len(layouts) > maxLayouts {
		return nil, ErrAmbiguousLayout
	}
	return layouts, nil
}

// PartCountFromETag parses the "-N" suffix from an S3 ETag, returning 1
// for single-part (bare hex) ETags.
func PartCountFromETag(etag string) (int, error) {
	for i := len(etag) - 1; i >= 0; i-- {
		if etag[i] == '-' {
			var n int
			if _, err := fmt.Sscanf(etag[i+1:], "%d", &n); err != nil {
				return 0, fmt.Errorf("checksum: malformed multipart ETag %q: %w", etag, err)
			}
			return n, nil
		}
	}
	return 1, nil
}

// NullVerifier accepts any digest. Used for the explicit "null"
// algorithm, and by the orchestrator (with a warning) when no checksum
// is known.
type NullVerifier struct{}

func NewNull() *NullVerifier { return &NullVerifier{} }

func (*NullVerifier) Update([]byte) {}

func (*NullVerifier) Matches() bool { return true }

// FromHeaders builds a Verifier from the checksum headers a probe
// returned, following the selection precedence gs_crc32c > s3_etag >
// md5 > none. ok is false when no usable checksum header was present.
func FromHeaders(ctx context.Context, headers map[string]string, size int64) (Verifier, Algorithm, bool, error) {
	if v, ok := headers["gs_crc32c"]; ok {
		return NewGSCRC32C(v), GSCRC32C, true, nil
	}
	if v, ok := headers["s3_etag"]; ok {
		n, err := PartCountFromETag(v)
		if err != nil {
			return nil, "", false, err
		}
		if n == 1 {
			return NewMD5(v), S3ETag, true, nil
		}
		m, err := NewS3MultiEtag(size, n, v)
		if err != nil {
			return nil, "", false, err
		}
		return m, S3ETag, true, nil
	}
	if v, ok := headers["md5"]; ok {
		return NewMD5(v), MD5, true, nil
	}
	return nil, "", false, nil
}

// FromManifest builds a Verifier for an explicit manifest-specified
// checksum and algorithm. For s3_etag the part count is recovered from
// the expected ETag's own "-N" suffix.
func FromManifest(algorithm Algorithm, expected string, size int64) (Verifier, error) {
	switch algorithm {
	case MD5:
		return NewMD5(expected), nil
	case GSCRC32C:
		return NewGSCRC32C(expected), nil
	case S3ETag:
		n, err := PartCountFromETag(expected)
		if err != nil {
			return nil, err
		}
		if n == 1 {
			return NewMD5(expected), nil
		}
		return NewS3MultiEtag(size, n, expected)
	case Null:
		return NewNull(), nil
	default:
		return nil, fmt.Errorf("checksum: unknown algorithm %q", algorithm)
	}
}
