package swiftstream

// Field is one cell of a Record. Valid is false for null cells.
type Field struct {
	Value string
	Valid bool
}

// emptyField is the value shared by every empty, non-null cell.
var emptyField = Field{Value: "", Valid: true}

// nullField is the value of every null cell.
var nullField = Field{}

// IsNull reports whether the cell is null.
func (f Field) IsNull() bool { return !f.Valid }

// Record is one parsed row: either a FieldList or a FieldMap.
type Record interface {
	// Len returns the number of cells.
	Len() int

	record()
}

// FieldList holds cells positioned by column index.
type FieldList []Field

func (FieldList) record() {}

// Len implements Record.
func (l FieldList) Len() int { return len(l) }

// At returns the cell at column i.
func (l FieldList) At(i int) (Field, bool) {
	if i < 0 || i >= len(l) {
		return Field{}, false
	}
	return l[i], true
}

// Values returns the cell values with nulls as empty strings.
func (l FieldList) Values() []string {
	out := make([]string, len(l))
	for i, f := range l {
		out[i] = f.Value
	}
	return out
}

// FieldMap holds cells keyed by interned header.
type FieldMap map[Header]Field

func (FieldMap) record() {}

// Len implements Record.
func (m FieldMap) Len() int { return len(m) }

// Get returns the cell under h.
func (m FieldMap) Get(h Header) (Field, bool) {
	f, ok := m[h]
	return f, ok
}

// Lookup finds a cell by header text. Prefer Get with a
// Header from Engine.Headers in hot loops.
func (m FieldMap) Lookup(name string) (Field, bool) {
	for h, f := range m {
		if h.Name() == name {
			return f, true
		}
	}
	return Field{}, false
}
