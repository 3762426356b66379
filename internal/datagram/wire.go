package datagram

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Wire layout of one ADE correlator datagram: a fixed header followed by
// nChanPerSlice complex64 samples and nChanPerSlice flag bytes. All
// integers are big-endian.
//
//	productID  int32
//	beam       int32
//	slice      int32
//	block      int32
//	card       int32
//	channel    int32
//	timestamp  int64  (microseconds since epoch)
//	nSamples   int32
//	samples    nSamples * (float32 real, float32 imag)
//	flags      nSamples * byte (0 or 1)
const headerLen = 4*6 + 8 + 4

// Decode parses one UDP payload into a Datagram.
func Decode(buf []byte) (Datagram, error) {
	if len(buf) < headerLen {
		return Datagram{}, fmt.Errorf("datagram: short header, got %d bytes", len(buf))
	}

	d := Datagram{
		ProductID:       int(int32(binary.BigEndian.Uint32(buf[0:4]))),
		Beam:            int(int32(binary.BigEndian.Uint32(buf[4:8]))),
		Slice:           int(int32(binary.BigEndian.Uint32(buf[8:12]))),
		Block:           int(int32(binary.BigEndian.Uint32(buf[12:16]))),
		Card:            int(int32(binary.BigEndian.Uint32(buf[16:20]))),
		Channel:         int(int32(binary.BigEndian.Uint32(buf[20:24]))),
		TimestampMicros: int64(binary.BigEndian.Uint64(buf[24:32])),
	}

	nSamples := int(int32(binary.BigEndian.Uint32(buf[32:36])))
	if nSamples < 0 {
		return Datagram{}, fmt.Errorf("datagram: negative sample count %d", nSamples)
	}

	want := headerLen + nSamples*8 + nSamples
	if len(buf) < want {
		return Datagram{}, fmt.Errorf("datagram: truncated payload, want %d bytes got %d", want, len(buf))
	}

	d.Samples = make([]complex64, nSamples)
	off := headerLen
	for i := 0; i < nSamples; i++ {
		re := math.Float32frombits(binary.BigEndian.Uint32(buf[off : off+4]))
		im := math.Float32frombits(binary.BigEndian.Uint32(buf[off+4 : off+8]))
		d.Samples[i] = complex(re, im)
		off += 8
	}

	d.Flags = make([]bool, nSamples)
	for i := 0; i < nSamples; i++ {
		d.Flags[i] = buf[off+i] != 0
	}

	return d, nil
}
