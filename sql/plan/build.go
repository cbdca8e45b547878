package plan

import (
	"daemondb/internal/dbutil"
	"daemondb/sql/ast"
)

// Build translates one parsed statement into its (unoptimized) logical
// plan tree.
func Build(stmt ast.Statement) (Node, error) {
	switch s := stmt.(type) {
	case *ast.SelectStmt:
		return buildSelect(s), nil
	case *ast.InsertStmt:
		return &Insert{Table: s.Table, Columns: s.Columns, Rows: s.Rows}, nil
	case *ast.UpdateStmt:
		return &Update{Table: s.Table, Assignments: s.Assignments, Predicate: s.Where}, nil
	case *ast.DeleteStmt:
		return &Delete{Table: s.Table, Predicate: s.Where}, nil
	case *ast.CreateTableStmt:
		return &CreateTable{Table: s.Table, Columns: s.Columns}, nil
	case *ast.BeginStmt:
		return &Transaction{Operation: "BEGIN"}, nil
	case *ast.CommitStmt:
		return &Transaction{Operation: "COMMIT"}, nil
	case *ast.RollbackStmt:
		return &Transaction{Operation: "ROLLBACK"}, nil
	default:
		return nil, dbutil.New(dbutil.KindInternal, "plan: unhandled statement type %T", s)
	}
}

func buildSelect(s *ast.SelectStmt) Node {
	var node Node = &Scan{Table: s.Table}

	if s.Where != nil {
		node = &Filter{Input: node, Predicate: s.Where}
	}

	items := make([]ProjectionItem, len(s.Columns))
	for i, c := range s.Columns {
		items[i] = ProjectionItem{Expr: c.Expr, Alias: c.Alias}
	}
	node = &Projection{Input: node, Items: items}

	if len(s.OrderBy) > 0 {
		keys := make([]SortKey, len(s.OrderBy))
		for i, k := range s.OrderBy {
			keys[i] = SortKey{Expr: k.Expr, Desc: k.Desc}
		}
		node = &Sort{Input: node, Keys: keys}
	}

	if s.Limit != nil {
		node = &Limit{Input: node, Count: s.Limit, Offset: s.Offset}
	}

	return node
}
