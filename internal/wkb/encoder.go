package wkb

import (
	"encoding/binary"
	"math"

	"github.com/paulmach/orb"
)

// WKB type constants (ISO SQL/MM specification)
const (
	wkbPoint   = 1
	wkbPolygon = 3

	// SRID flag for EWKB (PostGIS extended WKB)
	wkbSRIDFlag = 0x20000000
)

// SRID4326 is WGS84, the only reference system tiles are produced in
const SRID4326 = 4326

// Encoder encodes geometries to EWKB: little-endian with the SRID embedded.
// The returned slices alias the encoder buffer and are only valid until the
// next call.
type Encoder struct {
	buf  []byte
	srid uint32
}

// NewEncoder creates a new EWKB encoder with SRID 4326
func NewEncoder(initialSize int) *Encoder {
	return &Encoder{
		buf:  make([]byte, 0, initialSize),
		srid: SRID4326,
	}
}

// SRID returns the encoder's SRID
func (e *Encoder) SRID() int {
	return int(e.srid)
}

// EncodePoint encodes a point (X=lon, Y=lat)
func (e *Encoder) EncodePoint(p orb.Point) []byte {
	e.header(wkbPoint, 25)
	e.appendFloat64(p.X())
	e.appendFloat64(p.Y())
	return e.buf
}

// EncodeRing encodes a polygon with a single outer ring. The ring is closed
// if its endpoints differ.
func (e *Encoder) EncodeRing(ring orb.Ring) []byte {
	n := len(ring)
	closed := n > 0 && ring[0] == ring[n-1]
	if !closed && n > 0 {
		n++
	}
	e.header(wkbPolygon, 17+n*16)

	e.appendUint32(1)
	e.appendUint32(uint32(n))
	for _, p := range ring {
		e.appendFloat64(p.X())
		e.appendFloat64(p.Y())
	}
	if !closed && len(ring) > 0 {
		e.appendFloat64(ring[0].X())
		e.appendFloat64(ring[0].Y())
	}
	return e.buf
}

// EncodeBound encodes an axis-aligned box as a polygon, counter-clockwise
// from the south-west corner
func (e *Encoder) EncodeBound(b orb.Bound) []byte {
	return e.EncodeRing(orb.Ring{
		{b.Min.X(), b.Min.Y()},
		{b.Max.X(), b.Min.Y()},
		{b.Max.X(), b.Max.Y()},
		{b.Min.X(), b.Max.Y()},
		{b.Min.X(), b.Min.Y()},
	})
}

// header resets the buffer and writes byte order, type and SRID
func (e *Encoder) header(geomType uint32, size int) {
	if cap(e.buf) < size {
		e.buf = make([]byte, 0, size)
	}
	e.buf = e.buf[:0]
	e.buf = append(e.buf, 0x01)
	e.appendUint32(geomType | wkbSRIDFlag)
	e.appendUint32(e.srid)
}

func (e *Encoder) appendUint32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) appendFloat64(v float64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, math.Float64bits(v))
}
