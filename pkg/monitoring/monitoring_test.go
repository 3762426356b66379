package monitoring

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLineProtocolIncludesMeasurementTagsAndFields(t *testing.T) {
	p := point{
		measurement: "lost_datagram",
		tags:        map[string]string{"rank": "rank0"},
		fields:      map[string]interface{}{"count": int64(3)},
		at:          time.Unix(0, 1700000000000000000),
	}

	line, err := encodeLineProtocol(p)
	require.NoError(t, err)

	s := string(line)
	assert.True(t, strings.HasPrefix(s, "lost_datagram,rank=rank0"))
	assert.Contains(t, s, "count=3i")
}

func TestEncodeLineProtocolSupportsAllFieldTypes(t *testing.T) {
	p := point{
		measurement: "buffer_fill",
		fields: map[string]interface{}{
			"ratio": 0.5,
			"full":  false,
			"note":  "ok",
		},
		at: time.Unix(0, 1),
	}

	line, err := encodeLineProtocol(p)
	require.NoError(t, err)
	s := string(line)
	assert.Contains(t, s, "ratio=0.5")
	assert.Contains(t, s, "full=false")
	assert.Contains(t, s, `note="ok"`)
}

func TestRankLabelFormatsServiceRankDistinctly(t *testing.T) {
	assert.Equal(t, "rank0", rankLabel(0))
	assert.Equal(t, "rank3", rankLabel(3))
	assert.Equal(t, "rank-service", rankLabel(-1))
}
