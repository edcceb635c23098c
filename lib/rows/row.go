package rows

// Row is a mapping from column name to a scalar value (string, number,
// boolean, time.Time or nil). Rows move through the transform pipeline by
// value: transformers clone before mutating so the same source row can be
// fanned out to several destinations without aliasing.
type Row map[string]any

func (r Row) Clone() Row {
	clone := make(Row, len(r))
	for k, v := range r {
		clone[k] = v
	}
	return clone
}

// NamedRows maps a destination table name to the rows bound for it. A single
// entry holds one row for the plain update case, or several for the
// insert-plus-history-versioning case.
type NamedRows map[string][]Row

func (n NamedRows) Clone() NamedRows {
	clone := make(NamedRows, len(n))
	for name, rs := range n {
		cloned := make([]Row, len(rs))
		for i, r := range rs {
			cloned[i] = r.Clone()
		}
		clone[name] = cloned
	}
	return clone
}
