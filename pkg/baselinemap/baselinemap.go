// Package baselinemap implements the correlator product id to (ant1, ant2,
// Stokes) mapping, its reverse lookup, triangle detection and the slice
// operation used for sparse-array operation.
package baselinemap

import (
	"fmt"
	"sort"

	"github.com/radiotel/ingestd/pkg/ingesterr"
	"github.com/radiotel/ingestd/pkg/stokes"
)

// Product is one correlator product: a pair of antenna indices and the
// Stokes parameter it carries.
type Product struct {
	Ant1, Ant2 int
	Stokes     stokes.Stokes
}

// BaselineMap maps 1-based correlator product ids onto Products.
type BaselineMap struct {
	products map[int]Product
	maxID    int
	nAntenna int
}

// Size returns the number of mapped products.
func (m *BaselineMap) Size() int { return len(m.products) }

// MaxID returns the largest product id present in the map.
func (m *BaselineMap) MaxID() int { return m.maxID }

// NAntenna returns the number of distinct antennas referenced.
func (m *BaselineMap) NAntenna() int { return m.nAntenna }

// Lookup returns the Product for id, or ok=false if id is unmapped.
func (m *BaselineMap) Lookup(id int) (Product, bool) {
	p, ok := m.products[id]
	return p, ok
}

// GetID returns the product id matching (ant1, ant2, pol), or -1 if none.
func (m *BaselineMap) GetID(ant1, ant2 int, pol stokes.Stokes) int {
	for id, p := range m.products {
		if p.Ant1 == ant1 && p.Ant2 == ant2 && p.Stokes == pol {
			return id
		}
	}
	return -1
}

// IsLowerTriangle reports whether every mapped product has ant1 <= ant2.
func (m *BaselineMap) IsLowerTriangle() bool {
	for _, p := range m.products {
		if p.Ant1 > p.Ant2 {
			return false
		}
	}
	return true
}

// IsUpperTriangle reports whether every mapped product has ant1 >= ant2,
// the dual of IsLowerTriangle.
func (m *BaselineMap) IsUpperTriangle() bool {
	for _, p := range m.products {
		if p.Ant1 < p.Ant2 {
			return false
		}
	}
	return true
}

// NewStandard builds the closed-form ADE baseline map for nAntenna
// antennas: a first pass over (ant2 outer, ant1 <= ant2 inner) emits XX
// always and YX for off-diagonal pairs; a second identical pass emits XY
// and YY for every pair. Diagonal (autocorrelation) pairs therefore carry
// 3 products (XX, XY, YY); off-diagonal pairs carry 4. For nAntenna=36
// this yields the standard 2628-product map.
func NewStandard(nAntenna int) *BaselineMap {
	products := make(map[int]Product)
	id := 0

	emit := func(a1, a2 int, s stokes.Stokes) {
		id++
		products[id] = Product{Ant1: a1, Ant2: a2, Stokes: s}
	}

	for ant2 := 0; ant2 < nAntenna; ant2++ {
		for ant1 := 0; ant1 <= ant2; ant1++ {
			emit(ant1, ant2, stokes.XX)
			if ant1 != ant2 {
				emit(ant1, ant2, stokes.YX)
			}
		}
	}
	for ant2 := 0; ant2 < nAntenna; ant2++ {
		for ant1 := 0; ant1 <= ant2; ant1++ {
			emit(ant1, ant2, stokes.XY)
			emit(ant1, ant2, stokes.YY)
		}
	}

	return &BaselineMap{products: products, maxID: id, nAntenna: nAntenna}
}

// ExplicitEntry is one (id, ant1, ant2, pol) row of an explicit map.
type ExplicitEntry struct {
	ID         int
	Ant1, Ant2 int
	Stokes     stokes.Stokes
}

// NewExplicit builds a map from a literal product list.
func NewExplicit(entries []ExplicitEntry) *BaselineMap {
	products := make(map[int]Product, len(entries))
	maxID := 0
	maxAnt := -1
	for _, e := range entries {
		products[e.ID] = Product{Ant1: e.Ant1, Ant2: e.Ant2, Stokes: e.Stokes}
		if e.ID > maxID {
			maxID = e.ID
		}
		if e.Ant1 > maxAnt {
			maxAnt = e.Ant1
		}
		if e.Ant2 > maxAnt {
			maxAnt = e.Ant2
		}
	}
	return &BaselineMap{products: products, maxID: maxID, nAntenna: maxAnt + 1}
}

// Slice retains only products whose both antennas are in antennaIndices
// (a strictly increasing list), renumbering retained antennas densely
// from 0. antennaIndices must be strictly increasing or ConfigInvalid is
// returned.
func (m *BaselineMap) Slice(antennaIndices []int) (*BaselineMap, error) {
	for i := 1; i < len(antennaIndices); i++ {
		if antennaIndices[i] <= antennaIndices[i-1] {
			return nil, ingesterr.New(ingesterr.ConfigInvalid, "baselinemap", fmt.Sprintf("antenna indices not strictly increasing: %v", antennaIndices))
		}
	}

	renumber := make(map[int]int, len(antennaIndices))
	for newIdx, oldIdx := range antennaIndices {
		renumber[oldIdx] = newIdx
	}

	ids := make([]int, 0, len(m.products))
	for id := range m.products {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make(map[int]Product)
	maxID := 0
	for _, id := range ids {
		p := m.products[id]
		n1, ok1 := renumber[p.Ant1]
		n2, ok2 := renumber[p.Ant2]
		if !ok1 || !ok2 {
			continue
		}
		out[id] = Product{Ant1: n1, Ant2: n2, Stokes: p.Stokes}
		if id > maxID {
			maxID = id
		}
	}

	return &BaselineMap{products: out, maxID: maxID, nAntenna: len(antennaIndices)}, nil
}

// Resolve looks up id and returns the Undefined-Stokes sentinel triple if
// it is unmapped, rather than an error; VisConverter treats unmapped
// products as an ignored-datagram count, not a fatal condition.
func (m *BaselineMap) Resolve(id int) Product {
	if p, ok := m.products[id]; ok {
		return p
	}
	return Product{Ant1: -1, Ant2: -1, Stokes: stokes.Undefined}
}
