package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	from, to, err := parseRange("3-9")
	require.NoError(t, err)
	assert.Equal(t, 3, from)
	assert.Equal(t, 9, to)

	from, to, err = parseRange("7")
	require.NoError(t, err)
	assert.Equal(t, 7, from)
	assert.Equal(t, 7, to)

	for _, bad := range []string{"9-3", "0-4", "a-b", ""} {
		_, _, err := parseRange(bad)
		assert.Error(t, err, bad)
	}
}

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(5), percentile(sorted, 50))
	assert.Equal(t, time.Duration(10), percentile(sorted, 99))
	assert.Equal(t, time.Duration(1), percentile(sorted, 0))
	assert.Equal(t, time.Duration(0), percentile(nil, 50))
}

func TestStatsRecord(t *testing.T) {
	s := NewStats()
	s.Record(time.Millisecond, 200, nil)
	s.Record(time.Millisecond, 503, nil)
	s.Record(0, 0, errors.New("refused"))
	assert.Equal(t, int64(3), s.total.Load())
	assert.Equal(t, int64(1), s.success.Load())
	assert.Equal(t, int64(2), s.errors.Load())
	assert.Len(t, s.latencies, 2)
	assert.Equal(t, int64(1), s.codes[503])
}
