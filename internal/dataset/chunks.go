package dataset

// DefaultChunkSize is the number of rows processed per committed chunk.
const DefaultChunkSize = 100

// RowRange is a half-open row interval [From, To).
type RowRange struct {
	From int
	To   int
}

// Len returns the number of rows in the range.
func (r RowRange) Len() int { return r.To - r.From }

// Chunks splits rows [0, rowCount) into consecutive ranges of at most size
// rows. A non-positive size uses DefaultChunkSize.
func Chunks(rowCount, size int) []RowRange {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if rowCount <= 0 {
		return nil
	}
	out := make([]RowRange, 0, (rowCount+size-1)/size)
	for from := 0; from < rowCount; from += size {
		to := from + size
		if to > rowCount {
			to = rowCount
		}
		out = append(out, RowRange{From: from, To: to})
	}
	return out
}
