// Package plan builds and optimizes the logical query plan (Scan/Filter/
// Projection/Sort/Limit plus the DML/DDL leaf nodes), and lowers it to the
// physical plan (Scan -> TableScan). Node shapes follow sql/ast's own
// Statement/Expr pattern: a small sum-type-via-interface per node kind.
package plan

import "daemondb/sql/ast"

// Node is any plan node, logical or physical.
type Node interface{}

// Scan reads every row of a table in key order. Physical lowering turns
// this into TableScan; the package has no index-scan node.
type Scan struct {
	Table string
}

// TableScan is Scan's physical counterpart.
type TableScan struct {
	Table string
}

// Filter keeps only rows for which Predicate is truthy.
type Filter struct {
	Input     Node
	Predicate ast.Expr
}

// Projection computes Items over each input row.
type Projection struct {
	Input Node
	Items []ProjectionItem
}

// ProjectionItem is one projected expression with its optional alias.
type ProjectionItem struct {
	Expr  ast.Expr
	Alias string
}

// Sort orders the input by Keys in sequence.
type Sort struct {
	Input Node
	Keys  []SortKey
}

// SortKey is one ORDER BY key.
type SortKey struct {
	Expr ast.Expr
	Desc bool
}

// Limit slices the input to at most N rows after skipping Offset.
type Limit struct {
	Input  Node
	Count  ast.Expr
	Offset ast.Expr
}

// Insert appends rows to Table. Columns is empty when the statement named
// no explicit column list (all columns, in schema order).
type Insert struct {
	Table   string
	Columns []string
	Rows    [][]ast.Expr
}

// Update rewrites matching rows of Table.
type Update struct {
	Table       string
	Assignments []ast.Assignment
	Predicate   ast.Expr // nil means "all rows"
}

// Delete removes matching rows of Table.
type Delete struct {
	Table     string
	Predicate ast.Expr // nil means "all rows"
}

// CreateTable defines a new table.
type CreateTable struct {
	Table   string
	Columns []ast.ColumnDef
}

// Transaction represents BEGIN/COMMIT/ROLLBACK, carried through the plan
// layer only so Engine.Execute has one uniform path from AST to action.
type Transaction struct {
	Operation string // "BEGIN", "COMMIT" or "ROLLBACK"
}
