package codec

import (
	"errors"
	"fmt"
)

// DefaultChunkSize keeps packets under the SCTP message size every
// browser and pion accept.
const DefaultChunkSize = 16 * 1024

// maxChunks bounds the allocation a single packet header can request.
const maxChunks = 1 << 16

var ErrMalformedPacket = errors.New("malformed packet")

// Packet is one data channel message: a slice of an encoded frame.
type Packet struct {
	ID    uint64 `cbor:"id"`
	Index uint32 `cbor:"i"`
	Total uint32 `cbor:"n"`
	Data  []byte `cbor:"d"`
}

// Chunk splits payload into packets of at most size data bytes, tagged
// with id.
func Chunk(id uint64, payload []byte, size int) ([]Packet, error) {
	if size <= 0 {
		size = DefaultChunkSize
	}
	total := (len(payload) + size - 1) / size
	if total == 0 {
		total = 1
	}
	if total > maxChunks {
		return nil, fmt.Errorf("%w: payload needs %d chunks", ErrMalformedPacket, total)
	}
	packets := make([]Packet, 0, total)
	for i := 0; i < total; i++ {
		start := i * size
		end := min(start+size, len(payload))
		packets = append(packets, Packet{
			ID:    id,
			Index: uint32(i),
			Total: uint32(total),
			Data:  payload[start:end],
		})
	}
	return packets, nil
}

func EncodePacket(p Packet) ([]byte, error) {
	return marshal(p)
}

func DecodePacket(data []byte) (Packet, error) {
	var p Packet
	if err := unmarshal(data, &p); err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	if p.Total == 0 || p.Total > maxChunks || p.Index >= p.Total {
		return Packet{}, fmt.Errorf("%w: index %d of %d", ErrMalformedPacket, p.Index, p.Total)
	}
	return p, nil
}

type partial struct {
	parts    [][]byte
	received uint32
}

// Reassembler rebuilds payloads from packets. At most limit incomplete
// payloads are kept; the oldest is evicted when a new one would exceed it.
// Not safe for concurrent use.
type Reassembler struct {
	limit   int
	pending map[uint64]*partial
	order   []uint64
}

func NewReassembler(limit int) *Reassembler {
	if limit <= 0 {
		limit = 8
	}
	return &Reassembler{
		limit:   limit,
		pending: make(map[uint64]*partial),
	}
}

// Add consumes one packet. It returns the full payload and true once the
// last missing packet of a set arrives.
func (r *Reassembler) Add(p Packet) ([]byte, bool, error) {
	if p.Total == 1 {
		return p.Data, true, nil
	}
	part, ok := r.pending[p.ID]
	if !ok {
		if len(r.order) >= r.limit {
			oldest := r.order[0]
			r.order = r.order[1:]
			delete(r.pending, oldest)
		}
		part = &partial{parts: make([][]byte, p.Total)}
		r.pending[p.ID] = part
		r.order = append(r.order, p.ID)
	}
	if uint32(len(part.parts)) != p.Total {
		r.drop(p.ID)
		return nil, false, fmt.Errorf("%w: packet %d changed total to %d", ErrMalformedPacket, p.ID, p.Total)
	}
	if part.parts[p.Index] != nil {
		return nil, false, nil
	}
	data := p.Data
	if data == nil {
		data = []byte{}
	}
	part.parts[p.Index] = data
	part.received++
	if part.received < p.Total {
		return nil, false, nil
	}
	r.drop(p.ID)
	size := 0
	for _, b := range part.parts {
		size += len(b)
	}
	out := make([]byte, 0, size)
	for _, b := range part.parts {
		out = append(out, b...)
	}
	return out, true, nil
}

// Pending reports how many payloads are incomplete.
func (r *Reassembler) Pending() int { return len(r.pending) }

func (r *Reassembler) drop(id uint64) {
	delete(r.pending, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
