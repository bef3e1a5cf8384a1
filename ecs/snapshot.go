package ecs

import (
	"bufio"
	"encoding/binary"
	"io"
	"slices"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// EntitySize is the encoded width of an Entity.
const EntitySize = 8

var snapshotMagic = [4]byte{'L', 'S', 'N', 'P'}

const snapshotVersion uint32 = 1

// ErrBadSnapshot is returned when decoding malformed snapshot data.
var ErrBadSnapshot = eris.New("malformed snapshot")

// MarshalBinary encodes e as index then generation, both little-endian u32.
func (e Entity) MarshalBinary() ([]byte, error) {
	return e.AppendBinary(make([]byte, 0, EntitySize))
}

// AppendBinary appends the fixed-width encoding of e to b.
func (e Entity) AppendBinary(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint32(b, e.Index)
	return binary.LittleEndian.AppendUint32(b, e.Generation), nil
}

// UnmarshalBinary decodes the fixed-width encoding produced by MarshalBinary.
func (e *Entity) UnmarshalBinary(data []byte) error {
	if len(data) != EntitySize {
		return eris.Wrapf(ErrBadSnapshot, "entity: expected %d bytes, got %d", EntitySize, len(data))
	}
	e.Index = binary.LittleEndian.Uint32(data[0:4])
	e.Generation = binary.LittleEndian.Uint32(data[4:8])
	return nil
}

// ArchetypeDump is one archetype's current-buffer state.
type ArchetypeDump struct {
	ID         ArchetypeId
	Components []ComponentId
	Rows       int
	Entities   []Entity
	Live       []bool
	// Columns holds one current-buffer blob per component, in Components order.
	Columns [][]byte
}

// Snapshot is the per-archetype dump consumed by replication and save code.
type Snapshot struct {
	WorldID    uuid.UUID
	Tick       uint64
	Archetypes []ArchetypeDump
}

// Snapshot copies every archetype's current buffer. Call it between ticks.
func (w *World) Snapshot(tick uint64) *Snapshot {
	snap := &Snapshot{
		WorldID:    w.id,
		Tick:       tick,
		Archetypes: make([]ArchetypeDump, 0, len(w.order)),
	}
	for _, a := range w.Archetypes() {
		dump := ArchetypeDump{
			ID:         a.id,
			Components: slices.Clone(a.ids),
			Rows:       a.rows,
			Entities:   slices.Clone(a.entities[:a.rows]),
			Live:       slices.Clone(a.live[:a.rows]),
			Columns:    make([][]byte, len(a.columns)),
		}
		for i, col := range a.columns {
			dump.Columns[i] = slices.Clone(col.buffers[a.current])
		}
		snap.Archetypes = append(snap.Archetypes, dump)
	}
	return snap
}

// Snapshot dumps the scheduled world tagged with the scheduler's tick count.
func (s *Scheduler) Snapshot() *Snapshot {
	return s.world.Snapshot(s.tick)
}

type snapshotWriter struct {
	w   *bufio.Writer
	n   int64
	buf []byte
	err error
}

func (sw *snapshotWriter) write(p []byte) {
	if sw.err != nil {
		return
	}
	n, err := sw.w.Write(p)
	sw.n += int64(n)
	sw.err = err
}

func (sw *snapshotWriter) u32(v uint32) {
	sw.buf = binary.LittleEndian.AppendUint32(sw.buf[:0], v)
	sw.write(sw.buf)
}

func (sw *snapshotWriter) u64(v uint64) {
	sw.buf = binary.LittleEndian.AppendUint64(sw.buf[:0], v)
	sw.write(sw.buf)
}

// WriteTo encodes the snapshot as a little-endian, length-prefixed stream.
func (s *Snapshot) WriteTo(w io.Writer) (int64, error) {
	sw := &snapshotWriter{w: bufio.NewWriter(w), buf: make([]byte, 0, 8)}
	sw.write(snapshotMagic[:])
	sw.u32(snapshotVersion)
	sw.write(s.WorldID[:])
	sw.u64(s.Tick)
	sw.u32(uint32(len(s.Archetypes)))

	for _, a := range s.Archetypes {
		sw.u64(uint64(a.ID))
		sw.u32(uint32(len(a.Components)))
		for _, cid := range a.Components {
			sw.u32(uint32(cid))
		}
		sw.u32(uint32(a.Rows))
		for row := 0; row < a.Rows; row++ {
			sw.u32(a.Entities[row].Index)
			sw.u32(a.Entities[row].Generation)
			if a.Live[row] {
				sw.write([]byte{1})
			} else {
				sw.write([]byte{0})
			}
		}
		for _, blob := range a.Columns {
			sw.u32(uint32(len(blob)))
			sw.write(blob)
		}
	}

	if sw.err == nil {
		sw.err = sw.w.Flush()
	}
	if sw.err != nil {
		return sw.n, eris.Wrap(sw.err, "write snapshot")
	}
	return sw.n, nil
}

type snapshotReader struct {
	r   *bufio.Reader
	buf [8]byte
	err error
}

func (sr *snapshotReader) read(p []byte) {
	if sr.err != nil {
		return
	}
	_, sr.err = io.ReadFull(sr.r, p)
}

func (sr *snapshotReader) u32() uint32 {
	sr.read(sr.buf[:4])
	return binary.LittleEndian.Uint32(sr.buf[:4])
}

func (sr *snapshotReader) u64() uint64 {
	sr.read(sr.buf[:8])
	return binary.LittleEndian.Uint64(sr.buf[:8])
}

// maxSnapshotCount bounds decoded counts so corrupt input cannot force huge
// allocations before the stream runs dry.
const maxSnapshotCount = 1 << 28

// ReadSnapshot decodes a stream produced by Snapshot.WriteTo.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	sr := &snapshotReader{r: bufio.NewReader(r)}

	var magic [4]byte
	sr.read(magic[:])
	if sr.err == nil && magic != snapshotMagic {
		return nil, eris.Wrapf(ErrBadSnapshot, "bad magic %q", magic[:])
	}
	if v := sr.u32(); sr.err == nil && v != snapshotVersion {
		return nil, eris.Wrapf(ErrBadSnapshot, "unsupported version %d", v)
	}

	snap := &Snapshot{}
	sr.read(snap.WorldID[:])
	snap.Tick = sr.u64()
	count := sr.u32()
	if count > maxSnapshotCount {
		return nil, eris.Wrapf(ErrBadSnapshot, "archetype count %d", count)
	}

	for i := uint32(0); i < count && sr.err == nil; i++ {
		dump := ArchetypeDump{ID: ArchetypeId(sr.u64())}
		ncomp := sr.u32()
		if ncomp > maxSnapshotCount {
			return nil, eris.Wrapf(ErrBadSnapshot, "component count %d", ncomp)
		}
		dump.Components = make([]ComponentId, 0, ncomp)
		for j := uint32(0); j < ncomp && sr.err == nil; j++ {
			dump.Components = append(dump.Components, ComponentId(sr.u32()))
		}

		rows := sr.u32()
		if rows > maxSnapshotCount {
			return nil, eris.Wrapf(ErrBadSnapshot, "row count %d", rows)
		}
		dump.Rows = int(rows)
		dump.Entities = make([]Entity, 0, rows)
		dump.Live = make([]bool, 0, rows)
		var flag [1]byte
		for row := uint32(0); row < rows && sr.err == nil; row++ {
			e := Entity{Index: sr.u32(), Generation: sr.u32()}
			sr.read(flag[:])
			dump.Entities = append(dump.Entities, e)
			dump.Live = append(dump.Live, flag[0] == 1)
		}

		dump.Columns = make([][]byte, 0, ncomp)
		for j := uint32(0); j < ncomp && sr.err == nil; j++ {
			size := sr.u32()
			if size > maxSnapshotCount {
				return nil, eris.Wrapf(ErrBadSnapshot, "column size %d", size)
			}
			blob := make([]byte, size)
			sr.read(blob)
			dump.Columns = append(dump.Columns, blob)
		}
		snap.Archetypes = append(snap.Archetypes, dump)
	}

	if sr.err != nil {
		return nil, eris.Wrapf(ErrBadSnapshot, "read: %v", sr.err)
	}
	return snap, nil
}
