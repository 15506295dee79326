// Package valuetable implements the dense 2-D join table and ordered
// action registry the ACL compiler chains lookups through: ACL matching
// is a fixed sequence of LPM and value-table lookups, each combining two
// upstream ids into one downstream id, terminating in a registry that
// expands the final id into the packet's ordered action list.
package valuetable

// Table is a dense row-major 2-D array: Get(a, b) = data[a*cols+b].
// Construction happens once at compile time; lookups are a single
// multiply-add-index, matching the original's value_table_get.
type Table struct {
	rows, cols uint32
	data       []uint32
}

// New allocates a rows x cols table, zero-initialized (0 is the
// "no classification" sentinel throughout this module).
func New(rows, cols uint32) *Table {
	return &Table{rows: rows, cols: cols, data: make([]uint32, uint64(rows)*uint64(cols))}
}

// Set stores out at (a, b).
func (t *Table) Set(a, b, out uint32) {
	t.data[uint64(a)*uint64(t.cols)+uint64(b)] = out
}

// Get returns the value stored at (a, b).
func (t *Table) Get(a, b uint32) uint32 {
	return t.data[uint64(a)*uint64(t.cols)+uint64(b)]
}

// FillRange sets every (a, b) for a in [aFrom, aTo] and b in [bFrom, bTo]
// (inclusive) to out. Used by the ACL compiler's range-to-table-cell
// expansion — a compile-time-only cost.
func (t *Table) FillRange(aFrom, aTo, bFrom, bTo, out uint32) {
	for a := aFrom; a <= aTo; a++ {
		base := uint64(a) * uint64(t.cols)
		for b := bFrom; b <= bTo; b++ {
			t.data[base+uint64(b)] = out
		}
	}
}

// Rows and Cols report the table's dimensions.
func (t *Table) Rows() uint32 { return t.rows }
func (t *Table) Cols() uint32 { return t.cols }

// RangeRegistry maps a result id to an ordered action list, deduplicating
// identical lists so the same classification outcome reuses one id.
type RangeRegistry struct {
	entries [][]uint32
	index   map[string]uint32
}

// NewRangeRegistry constructs an empty registry. Id 0 is reserved to mean
// "no actions" so zero-initialized value tables resolve safely.
func NewRangeRegistry() *RangeRegistry {
	return &RangeRegistry{
		entries: [][]uint32{nil},
		index:   map[string]uint32{"": 0},
	}
}

// Register returns the id for actions, reusing an existing entry if an
// identical action list was already registered.
func (r *RangeRegistry) Register(actions []uint32) uint32 {
	key := encodeKey(actions)
	if id, ok := r.index[key]; ok {
		return id
	}
	id := uint32(len(r.entries))
	cp := append([]uint32(nil), actions...)
	r.entries = append(r.entries, cp)
	r.index[key] = id
	return id
}

// Get returns the ordered action list for id.
func (r *RangeRegistry) Get(id uint32) []uint32 {
	if int(id) >= len(r.entries) {
		return nil
	}
	return r.entries[id]
}

func encodeKey(actions []uint32) string {
	buf := make([]byte, len(actions)*4)
	for i, a := range actions {
		buf[i*4] = byte(a)
		buf[i*4+1] = byte(a >> 8)
		buf[i*4+2] = byte(a >> 16)
		buf[i*4+3] = byte(a >> 24)
	}
	return string(buf)
}
