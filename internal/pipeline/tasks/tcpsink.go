package tasks

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net"
	"time"

	"github.com/linkedin/goavro/v2"

	"github.com/radiotel/ingestd/internal/config"
	"github.com/radiotel/ingestd/internal/pipeline"
	"github.com/radiotel/ingestd/pkg/ingesterr"
	"github.com/radiotel/ingestd/pkg/vischunk"
)

func init() {
	pipeline.Register("TCPSinkTask", newTCPSinkTask)
}

type tcpSinkParams struct {
	Address          string  `json:"address"`
	MockBeamOffsetX  float64 `json:"mock_beam_offset_x"`
	MockBeamOffsetY  float64 `json:"mock_beam_offset_y"`
}

// chunkSchemaVersion is bumped whenever chunkAvroSchema's field set
// changes; it is written into every envelope so a receiver can tell
// which schema decoded the payload.
const chunkSchemaVersion int32 = 1

const chunkAvroSchema = `{
	"type": "record",
	"name": "VisChunkEnvelope",
	"fields": [
		{"name": "mjd", "type": "double"},
		{"name": "interval", "type": "double"},
		{"name": "scanId", "type": "int"},
		{"name": "targetName", "type": "string"},
		{"name": "nRow", "type": "int"},
		{"name": "nChannel", "type": "int"},
		{"name": "nPol", "type": "int"},
		{"name": "antenna1", "type": {"type": "array", "items": "int"}},
		{"name": "antenna2", "type": {"type": "array", "items": "int"}},
		{"name": "uvwU", "type": {"type": "array", "items": "double"}},
		{"name": "uvwV", "type": {"type": "array", "items": "double"}},
		{"name": "uvwW", "type": {"type": "array", "items": "double"}},
		{"name": "frequency", "type": {"type": "array", "items": "double"}},
		{"name": "visibilityReal", "type": "bytes"},
		{"name": "visibilityImag", "type": "bytes"},
		{"name": "flag", "type": "bytes"}
	]
}`

// TCPSinkTask serialises each chunk with goavro and writes it to a
// configured TCP endpoint, length-prefixed with a schema-version
// envelope so a receiver never needs to guess which schema to decode
// against.
type TCPSinkTask struct {
	address string
	offsetX, offsetY float64

	codec *goavro.Codec
	conn  net.Conn
}

func newTCPSinkTask(cfg *config.Config, desc config.TaskDescriptor) (pipeline.Task, error) {
	var p tcpSinkParams
	if err := json.Unmarshal(desc.Parameters, &p); err != nil {
		return nil, err
	}
	if p.Address == "" {
		return nil, ingesterr.New(ingesterr.ConfigInvalid, "TCPSinkTask", "address is required")
	}

	codec, err := goavro.NewCodec(chunkAvroSchema)
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.ConfigInvalid, "TCPSinkTask", err)
	}

	return &TCPSinkTask{address: p.Address, offsetX: p.MockBeamOffsetX, offsetY: p.MockBeamOffsetY, codec: codec}, nil
}

func (t *TCPSinkTask) Name() string        { return "TCPSinkTask" }
func (t *TCPSinkTask) IsAlwaysActive() bool { return false }

func (t *TCPSinkTask) dial() error {
	conn, err := net.DialTimeout("tcp", t.address, 5*time.Second)
	if err != nil {
		return ingesterr.Wrap(ingesterr.TransportError, "TCPSinkTask", err)
	}
	t.conn = conn
	return nil
}

func (t *TCPSinkTask) Process(ctx context.Context, chunk *vischunk.VisChunk) (*vischunk.VisChunk, error) {
	if chunk == nil {
		return nil, nil
	}
	if t.conn == nil {
		if err := t.dial(); err != nil {
			return nil, err
		}
	}

	native := chunkToNative(chunk, t.offsetX, t.offsetY)
	binaryBody, err := t.codec.BinaryFromNative(nil, native)
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.TransportError, "TCPSinkTask", err)
	}

	header := make([]byte, 8)
	binary.BigEndian.PutUint32(header[0:4], uint32(chunkSchemaVersion))
	binary.BigEndian.PutUint32(header[4:8], uint32(len(binaryBody)))

	if _, err := t.conn.Write(header); err != nil {
		return nil, t.reconnectError(err)
	}
	if _, err := t.conn.Write(binaryBody); err != nil {
		return nil, t.reconnectError(err)
	}

	return chunk, nil
}

func (t *TCPSinkTask) reconnectError(err error) error {
	t.conn.Close()
	t.conn = nil
	return ingesterr.Wrap(ingesterr.TransportError, "TCPSinkTask", err)
}

// SchemaVersion reports the Avro schema version this task writes, so a
// receiver sharing this package can verify compatibility.
func (t *TCPSinkTask) SchemaVersion() int32 { return chunkSchemaVersion }

func chunkToNative(chunk *vischunk.VisChunk, offsetX, offsetY float64) map[string]interface{} {
	nRow, nChan, nPol := chunk.NRow(), chunk.NChannel(), chunk.NPol()

	antenna1 := make([]interface{}, nRow)
	antenna2 := make([]interface{}, nRow)
	uvwU := make([]interface{}, nRow)
	uvwV := make([]interface{}, nRow)
	uvwW := make([]interface{}, nRow)
	for row := 0; row < nRow; row++ {
		antenna1[row] = chunk.Antenna1[row]
		antenna2[row] = chunk.Antenna2[row]
		u := chunk.UVW[row]
		uvwU[row] = u.U + offsetX
		uvwV[row] = u.V + offsetY
		uvwW[row] = u.W
	}

	freq := make([]interface{}, nChan)
	for i, f := range chunk.Frequency {
		freq[i] = f
	}

	n := nRow * nChan * nPol
	visReal := make([]byte, n*4)
	visImag := make([]byte, n*4)
	flag := make([]byte, n)
	for i, v := range chunk.Visibility {
		binary.BigEndian.PutUint32(visReal[i*4:], math.Float32bits(real(v)))
		binary.BigEndian.PutUint32(visImag[i*4:], math.Float32bits(imag(v)))
	}
	for i, f := range chunk.Flag {
		if f {
			flag[i] = 1
		}
	}

	return map[string]interface{}{
		"mjd":            chunk.MJD,
		"interval":       chunk.Interval,
		"scanId":         int32(chunk.ScanID),
		"targetName":     chunk.TargetName,
		"nRow":           int32(nRow),
		"nChannel":       int32(nChan),
		"nPol":           int32(nPol),
		"antenna1":       antenna1,
		"antenna2":       antenna2,
		"uvwU":           uvwU,
		"uvwV":           uvwV,
		"uvwW":           uvwW,
		"frequency":      freq,
		"visibilityReal": visReal,
		"visibilityImag": visImag,
		"flag":           flag,
	}
}
