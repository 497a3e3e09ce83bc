package shm

import (
	"testing"

	"github.com/frankban/quicktest"
)

func TestCircularBufferNoWrapReadWrite(t *testing.T) {
	c := quicktest.New(t)
	buf, err := NewCircularBuffer(16)
	c.Assert(err, quicktest.IsNil)

	c.Assert(buf.Write(0, []byte("hello world!!!!!")), quicktest.IsNil)
	got, err := buf.Read(0, 16)
	c.Assert(err, quicktest.IsNil)
	c.Assert(string(got), quicktest.Equals, "hello world!!!!!")
}

func TestCircularBufferWrapSplitsWrite(t *testing.T) {
	c := quicktest.New(t)
	buf, err := NewCircularBuffer(10)
	c.Assert(err, quicktest.IsNil)

	// Logical offsets don't reset at the backing array boundary: writing
	// [8, 14) onto a 10-byte backing array wraps, landing bytes 0-1 at
	// physical 8-9 and bytes 2-5 at physical 0-3.
	c.Assert(buf.Write(8, []byte("ABCDEF")), quicktest.IsNil)
	got, err := buf.Read(8, 14)
	c.Assert(err, quicktest.IsNil)
	// Read on a wrapped slice only returns the prefix up to the end of
	// the backing array; the caller issues a second Read for the tail.
	c.Assert(string(got), quicktest.Equals, "AB")
}

func TestCircularBufferRejectsOversizedSlice(t *testing.T) {
	c := quicktest.New(t)
	buf, err := NewCircularBuffer(4)
	c.Assert(err, quicktest.IsNil)
	_, err = buf.Read(0, 5)
	c.Assert(err, quicktest.ErrorMatches, ".*exceeds capacity.*")
}

func TestCircularBufferStartStopCoordinates(t *testing.T) {
	c := quicktest.New(t)
	buf, err := NewCircularBuffer(8)
	c.Assert(err, quicktest.IsNil)
	c.Assert(buf.Start(), quicktest.Equals, int64(0))
	c.Assert(buf.Stop(), quicktest.Equals, int64(0))
	buf.SetStop(4)
	c.Assert(buf.Stop(), quicktest.Equals, int64(4))
	buf.SetStart(Closed)
	c.Assert(buf.Start(), quicktest.Equals, int64(-1))
}

func TestBufferArraySlots(t *testing.T) {
	c := quicktest.New(t)
	arr, err := NewBufferArray(4, 3)
	c.Assert(err, quicktest.IsNil)
	c.Assert(arr.ChunkSize(), quicktest.Equals, 4)
	c.Assert(arr.NumChunks(), quicktest.Equals, 3)

	s0, err := arr.Slot(0)
	c.Assert(err, quicktest.IsNil)
	copy(s0, []byte("abcd"))
	s1, err := arr.Slot(1)
	c.Assert(err, quicktest.IsNil)
	copy(s1, []byte("efgh"))

	got0, _ := arr.Slot(0)
	c.Assert(string(got0), quicktest.Equals, "abcd")
	got1, _ := arr.Slot(1)
	c.Assert(string(got1), quicktest.Equals, "efgh")

	_, err = arr.Slot(3)
	c.Assert(err, quicktest.ErrorMatches, ".*out of range.*")
}
