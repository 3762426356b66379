package datagram

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeTestDatagram(productID, beam, slice, block, card, channel int, ts int64, samples []complex64, flags []bool) []byte {
	buf := make([]byte, headerLen+len(samples)*8+len(flags))
	binary.BigEndian.PutUint32(buf[0:4], uint32(int32(productID)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(int32(beam)))
	binary.BigEndian.PutUint32(buf[8:12], uint32(int32(slice)))
	binary.BigEndian.PutUint32(buf[12:16], uint32(int32(block)))
	binary.BigEndian.PutUint32(buf[16:20], uint32(int32(card)))
	binary.BigEndian.PutUint32(buf[20:24], uint32(int32(channel)))
	binary.BigEndian.PutUint64(buf[24:32], uint64(ts))
	binary.BigEndian.PutUint32(buf[32:36], uint32(int32(len(samples))))

	off := headerLen
	for _, s := range samples {
		binary.BigEndian.PutUint32(buf[off:off+4], math.Float32bits(real(s)))
		binary.BigEndian.PutUint32(buf[off+4:off+8], math.Float32bits(imag(s)))
		off += 8
	}
	for i, f := range flags {
		if f {
			buf[off+i] = 1
		}
	}
	return buf
}

func TestDecodeRoundTrips(t *testing.T) {
	samples := []complex64{complex(1, 2), complex(3, 4)}
	flags := []bool{false, true}
	buf := encodeTestDatagram(1, 2, 3, 4, 5, 6, 1234567890, samples, flags)

	d, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, d.ProductID)
	assert.Equal(t, 2, d.Beam)
	assert.Equal(t, 3, d.Slice)
	assert.Equal(t, 4, d.Block)
	assert.Equal(t, 5, d.Card)
	assert.Equal(t, 6, d.Channel)
	assert.Equal(t, int64(1234567890), d.TimestampMicros)
	assert.Equal(t, samples, d.Samples)
	assert.Equal(t, flags, d.Flags)
}

func TestDecodeRejectsShortHeader(t *testing.T) {
	_, err := Decode(make([]byte, headerLen-1))
	assert.Error(t, err)
}

func TestDecodeRejectsNegativeSampleCount(t *testing.T) {
	buf := make([]byte, headerLen)
	binary.BigEndian.PutUint32(buf[32:36], uint32(int32(-1)))
	_, err := Decode(buf)
	assert.Error(t, err)
}

func TestDecodeRejectsTruncatedPayload(t *testing.T) {
	buf := make([]byte, headerLen)
	binary.BigEndian.PutUint32(buf[32:36], uint32(int32(2)))
	_, err := Decode(buf)
	assert.Error(t, err)
}

func TestDatagramIdentityExcludesTimestampAndSamples(t *testing.T) {
	d1 := Datagram{Beam: 1, Block: 2, Card: 3, Channel: 4, Slice: 5, TimestampMicros: 100}
	d2 := Datagram{Beam: 1, Block: 2, Card: 3, Channel: 4, Slice: 5, TimestampMicros: 200}
	assert.Equal(t, d1.Identity(), d2.Identity())
}
