package msstore

import (
	"encoding/binary"
	"math"

	sq "github.com/Masterminds/squirrel"

	"github.com/radiotel/ingestd/pkg/ingesterr"
	"github.com/radiotel/ingestd/pkg/vischunk"
)

// EnsureScan inserts the chunk's scan row, keyed by the chunk's scan id,
// if it is not already present, detecting a scan change the way a
// measurement set opens a new SCAN sub-table entry.
func (s *Store) EnsureScan(chunk *vischunk.VisChunk) error {
	pc := chunk.PhaseCentre[0]
	_, err := sq.Insert("scan").
		Columns("scan_id", "target_name", "direction_lon", "direction_lat", "direction_frame", "started_mjd").
		Values(chunk.ScanID, chunk.TargetName, pc.Lon, pc.Lat, chunk.DirectionFrame, chunk.MJD).
		Suffix("ON CONFLICT(scan_id) DO NOTHING").
		RunWith(s.DB).Exec()
	if err != nil {
		return ingesterr.Wrap(ingesterr.TransportError, "msstore", err)
	}
	return nil
}

// EnsureSpectralWindow inserts a spectral-window row for the chunk's
// current channel layout if one does not already exist for this scan,
// detecting a spectral-window change the way a measurement set opens a
// new SPECTRAL_WINDOW sub-table entry. Returns its row id.
func (s *Store) EnsureSpectralWindow(chunk *vischunk.VisChunk) (int64, error) {
	refFreq := 0.0
	if len(chunk.Frequency) > 0 {
		refFreq = chunk.Frequency[0]
	}

	var id int64
	err := s.DB.QueryRow(
		`SELECT id FROM spectral_window WHERE scan_id=? AND n_chan=? AND channel_width=? AND ref_frequency=?`,
		chunk.ScanID, chunk.NChannel(), chunk.ChannelWidth, refFreq,
	).Scan(&id)
	if err == nil {
		return id, nil
	}

	res, err := sq.Insert("spectral_window").
		Columns("scan_id", "n_chan", "channel_width", "ref_frequency").
		Values(chunk.ScanID, chunk.NChannel(), chunk.ChannelWidth, refFreq).
		RunWith(s.DB).Exec()
	if err != nil {
		return 0, ingesterr.Wrap(ingesterr.TransportError, "msstore", err)
	}
	return res.LastInsertId()
}

// AppendRows writes every row of chunk to vis_row, keyed to the given
// spectral-window id.
func (s *Store) AppendRows(chunk *vischunk.VisChunk, spwID int64) error {
	tx, err := s.DB.Beginx()
	if err != nil {
		return ingesterr.Wrap(ingesterr.TransportError, "msstore", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO vis_row
		(scan_id, spw_id, mjd, interval, antenna1, antenna2, beam1, beam2, uvw_u, uvw_v, uvw_w, visibility, flag)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		return ingesterr.Wrap(ingesterr.TransportError, "msstore", err)
	}
	defer stmt.Close()

	for row := 0; row < chunk.NRow(); row++ {
		vis, flag := encodeRowPlane(chunk, row)
		uvw := chunk.UVW[row]
		if _, err := stmt.Exec(
			chunk.ScanID, spwID, chunk.MJD, chunk.Interval,
			chunk.Antenna1[row], chunk.Antenna2[row], chunk.Beam1[row], chunk.Beam2[row],
			uvw.U, uvw.V, uvw.W, vis, flag,
		); err != nil {
			tx.Rollback()
			return ingesterr.Wrap(ingesterr.TransportError, "msstore", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ingesterr.Wrap(ingesterr.TransportError, "msstore", err)
	}
	return nil
}

// encodeRowPlane packs one row's (nChannel, nPol) visibility/flag plane
// into flat blobs: 8 bytes per complex64 sample, 1 byte per flag.
func encodeRowPlane(chunk *vischunk.VisChunk, row int) (vis, flag []byte) {
	nChan, nPol := chunk.NChannel(), chunk.NPol()
	vis = make([]byte, nChan*nPol*8)
	flag = make([]byte, nChan*nPol)

	k := 0
	for ch := 0; ch < nChan; ch++ {
		for pol := 0; pol < nPol; pol++ {
			idx := chunk.Index(row, ch, pol)
			v := chunk.Visibility[idx]
			binary.BigEndian.PutUint32(vis[k*8:], math.Float32bits(real(v)))
			binary.BigEndian.PutUint32(vis[k*8+4:], math.Float32bits(imag(v)))
			if chunk.Flag[idx] {
				flag[k] = 1
			}
			k++
		}
	}
	return vis, flag
}
