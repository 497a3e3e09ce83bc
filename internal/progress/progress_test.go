package progress

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNoopSinkDiscardsUpdates(t *testing.T) {
	s := Noop()
	s.Add(100)
	s.Close()
}

func TestLogSinkLogsFinalLineAtCompletion(t *testing.T) {
	var out bytes.Buffer
	logger := zerolog.New(&out)
	s := NewLog(logger, "object.bin", 100)
	s.Add(40)
	s.Add(60)
	assert.Equal(t, int64(100), s.progress)
	assert.Contains(t, out.String(), `"percent":100`)
	s.Close()
}

func TestTruncateLeavesShortNamesAlone(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 40))
	assert.Equal(t, "0123456789", truncate("0123456789abcdef", 10))
}
