package checksum

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"hash/crc32"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMD5Associative(t *testing.T) {
	data := make([]byte, 10000)
	rand.New(rand.NewSource(1)).Read(data)
	sum := md5.Sum(data)
	expected := hex.EncodeToString(sum[:])

	for _, split := range [][]int{{0, 10000}, {1, 9999}, {5000, 5000}, {1, 1, 9998}} {
		v := NewMD5(expected)
		off := 0
		for _, n := range split {
			v.Update(data[off : off+n])
			off += n
		}
		assert.True(t, v.Matches(), "split=%v", split)
	}
}

func TestGSCRC32CMatchesGoogleEncoding(t *testing.T) {
	data := make([]byte, 1024)
	rand.New(rand.NewSource(2)).Read(data)
	table := crc32.MakeTable(crc32.Castagnoli)
	sum := crc32.Checksum(data, table)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], sum)
	expected := base64.StdEncoding.EncodeToString(b[:])

	v := NewGSCRC32C(expected)
	v.Update(data[:100])
	v.Update(data[100:])
	assert.True(t, v.Matches())
}

func TestS3EtagSinglePart(t *testing.T) {
	data := []byte("hello world")
	sum := md5.Sum(data)
	expected := hex.EncodeToString(sum[:])

	v := NewS3Etag(int64(len(data)) + 1)
	v.Update(data)
	assert.Equal(t, expected, v.Digest())
}

func TestS3MultipartLayouts(t *testing.T) {
	layouts, err := s3MultipartLayouts(54743580, 4)
	require.NoError(t, err)
	assert.Equal(t, []int64{14680064, 15728640, 16777216, 17825792}, layouts)

	layouts, err = s3MultipartLayouts(4*mib, 4)
	require.NoError(t, err)
	assert.Equal(t, []int64{mib}, layouts)

	layouts, err = s3MultipartLayouts(5*mib, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{mib}, layouts)
}

func TestS3MultipartAmbiguousLayoutIsFatal(t *testing.T) {
	// A pathological (size, numberOfParts) pair with more than 5
	// candidate 1 MiB-aligned part sizes.
	_, err := s3MultipartLayouts(1000*mib, 2)
	assert.ErrorIs(t, err, ErrAmbiguousLayout)
}

func TestS3MultiEtagMatchesActualLayout(t *testing.T) {
	const partSize = 5 * mib
	const numParts = 4
	size := partSize * numParts
	data := make([]byte, size)
	rand.New(rand.NewSource(3)).Read(data)

	// Compute the real composite ETag for this exact part size.
	real := NewS3Etag(partSize)
	real.Update(data)
	expected := real.Digest()

	m, err := NewS3MultiEtag(int64(size), numParts, expected)
	require.NoError(t, err)
	m.Update(data)
	assert.True(t, m.Matches())
}

func TestPartCountFromETag(t *testing.T) {
	n, err := PartCountFromETag("85cb78a5c58c243195d5f5fb84027968-4")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = PartCountFromETag("d41d8cd98f00b204e9800998ecf8427e")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNullVerifierAlwaysMatches(t *testing.T) {
	v := NewNull()
	v.Update([]byte("anything"))
	assert.True(t, v.Matches())
}

func TestFromHeadersPrecedence(t *testing.T) {
	ctx := context.Background()
	_, algo, ok, err := FromHeaders(ctx, map[string]string{
		"gs_crc32c": "abcd",
		"s3_etag":   "deadbeef",
		"md5":       "feedface",
	}, 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, GSCRC32C, algo)

	_, algo, ok, err = FromHeaders(ctx, map[string]string{
		"s3_etag": "deadbeefdeadbeefdeadbeefdeadbeef",
		"md5":     "feedface",
	}, 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, S3ETag, algo)

	_, _, ok, err = FromHeaders(ctx, map[string]string{}, 100)
	require.NoError(t, err)
	assert.False(t, ok)
}
