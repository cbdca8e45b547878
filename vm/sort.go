package vm

import (
	"sort"

	"daemondb/record"
)

// Row is one output row: values in projection column order.
type Row []record.Value

// sortRows stably orders rows by keys. NULLs sort first under ASC and
// last under DESC.
func sortRows(rows []Row, keys []SortKey) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			a, b := rows[i][k.Column], rows[j][k.Column]
			cmp := record.Compare(a, b)
			if k.Desc {
				cmp = -cmp
			}
			if cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
}

// limitRows drops the first offset rows and keeps at most n of what
// remains: a slice of the post-sort buffer.
func limitRows(rows []Row, n, offset int) []Row {
	if offset >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if n >= 0 && n < len(rows) {
		rows = rows[:n]
	}
	return rows
}
