package datagram

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/radiotel/ingestd/internal/ccalog"
	"github.com/radiotel/ingestd/pkg/monitoring"
)

// VisSource is the bounded UDP datagram queue sitting between the
// receive goroutine and the merge loop. A fixed-capacity channel gives
// no-realloc, drop-when-full behaviour without a hand-rolled ring
// buffer.
type VisSource struct {
	conn     *net.UDPConn
	capacity int
	ring     chan Datagram
	rank     int
	monitor  *monitoring.Monitor

	readBuf []byte
}

// NewVisSource wraps conn with a capacity-sized ring buffer. capacity is
// the configured fixed queue depth (spec suggests ~460000 datagrams).
func NewVisSource(conn *net.UDPConn, capacity int, rank int, monitor *monitoring.Monitor) *VisSource {
	return &VisSource{
		conn:     conn,
		capacity: capacity,
		ring:     make(chan Datagram, capacity),
		rank:     rank,
		monitor:  monitor,
		readBuf:  make([]byte, 65536),
	}
}

// Run is the background receive loop: it reads datagrams off the wire
// and deposits them into the ring, dropping (and counting) the newest
// datagram when the ring is full, until ctx is cancelled.
func (s *VisSource) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	go func() {
		<-ctx.Done()
		_ = s.conn.SetReadDeadline(time.Now())
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, _, err := s.conn.ReadFromUDP(s.readBuf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			ccalog.Warnf("vissource: read error: %v", err)
			continue
		}

		dg, err := Decode(s.readBuf[:n])
		if err != nil {
			ccalog.Warnf("vissource: decode error: %v", err)
			continue
		}

		select {
		case s.ring <- dg:
		default:
			if s.monitor != nil {
				s.monitor.LostDatagram(s.rank)
			}
		}

		if s.monitor != nil {
			s.monitor.BufferFill(s.rank, len(s.ring), s.capacity)
		}
	}
}

// Next returns the next datagram, blocking up to timeoutMicros
// microseconds. A timeout returning (Datagram{}, false) is not an error;
// the source task interprets repeated empties as stream idle.
func (s *VisSource) Next(timeoutMicros int64) (Datagram, bool) {
	if timeoutMicros <= 0 {
		select {
		case dg := <-s.ring:
			return dg, true
		default:
			return Datagram{}, false
		}
	}

	timer := time.NewTimer(time.Duration(timeoutMicros) * time.Microsecond)
	defer timer.Stop()

	select {
	case dg := <-s.ring:
		return dg, true
	case <-timer.C:
		return Datagram{}, false
	}
}

// Size returns the current ring occupancy.
func (s *VisSource) Size() int { return len(s.ring) }

// Capacity returns the fixed ring capacity.
func (s *VisSource) Capacity() int { return s.capacity }
