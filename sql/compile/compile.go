// Package compile lowers an optimized physical plan.Node into a
// vm.Program: a switch dispatching on the node's concrete type, building
// the instruction sequence one case at a time, targeting the register-VM
// opcode set for SELECT (with and without aggregates) and for
// UPDATE/DELETE's scan+filter loop.
package compile

import (
	"reflect"
	"strings"

	"daemondb/catalog"
	"daemondb/internal/dbutil"
	"daemondb/record"
	"daemondb/sql/ast"
	"daemondb/sql/plan"
	"daemondb/vm"
)

// sentinel mirrors vm's unresolved-jump marker; compile never reads it
// back, only writes and later patches it.
const sentinel = -1

// Compile lowers one physical plan node into a program. CreateTable and
// Transaction nodes have no corresponding opcode (DDL and txn control are
// handled directly by the engine, never through the VM) and are rejected
// here; callers must route those node types around Compile entirely.
func Compile(node plan.Node, cat *catalog.Catalog) (*vm.Program, []string, error) {
	switch n := node.(type) {
	case *plan.Insert:
		prog, err := compileInsert(n, cat)
		return prog, nil, err
	case *plan.Update:
		prog, err := compileUpdate(n, cat)
		return prog, nil, err
	case *plan.Delete:
		prog, err := compileDelete(n, cat)
		return prog, nil, err
	default:
		shape, err := unwrapSelect(node)
		if err != nil {
			return nil, nil, err
		}
		return compileSelect(shape, cat)
	}
}

// selectShape is the unwrapped physical-plan chain for one SELECT,
// exposing the pieces compileSelect needs without repeated type switches.
type selectShape struct {
	table    string
	filter   ast.Expr
	items    []plan.ProjectionItem
	sortKeys []plan.SortKey
	hasLimit bool
	limitN   int
	offsetN  int
}

func unwrapSelect(node plan.Node) (*selectShape, error) {
	shape := &selectShape{}
	cur := node

	if lim, ok := cur.(*plan.Limit); ok {
		n, err := constInt(lim.Count)
		if err != nil {
			return nil, err
		}
		shape.hasLimit = true
		shape.limitN = n
		if lim.Offset != nil {
			off, err := constInt(lim.Offset)
			if err != nil {
				return nil, err
			}
			shape.offsetN = off
		}
		cur = lim.Input
	}

	if srt, ok := cur.(*plan.Sort); ok {
		shape.sortKeys = srt.Keys
		cur = srt.Input
	}

	proj, ok := cur.(*plan.Projection)
	if !ok {
		return nil, dbutil.New(dbutil.KindInternal, "compile: expected a Projection node, got %T", cur)
	}
	shape.items = proj.Items
	cur = proj.Input

	// limit pushdown moves a Limit that has no Sort above it beneath the
	// Projection.
	if lim, ok := cur.(*plan.Limit); ok && !shape.hasLimit {
		n, err := constInt(lim.Count)
		if err != nil {
			return nil, err
		}
		shape.hasLimit = true
		shape.limitN = n
		if lim.Offset != nil {
			if shape.offsetN, err = constInt(lim.Offset); err != nil {
				return nil, err
			}
		}
		cur = lim.Input
	}

	if f, ok := cur.(*plan.Filter); ok {
		shape.filter = f.Predicate
		cur = f.Input
	}

	ts, ok := cur.(*plan.TableScan)
	if !ok {
		return nil, dbutil.New(dbutil.KindInternal, "compile: expected a TableScan node, got %T", cur)
	}
	shape.table = ts.Table
	return shape, nil
}

func constInt(expr ast.Expr) (int, error) {
	lit, ok := expr.(ast.Literal)
	if !ok || lit.Kind != ast.LitInt {
		return 0, dbutil.New(dbutil.KindInternal, "LIMIT/OFFSET must be a constant integer")
	}
	return int(lit.Int), nil
}

func resultColumnName(item plan.ProjectionItem) string {
	if item.Alias != "" {
		return item.Alias
	}
	switch e := item.Expr.(type) {
	case ast.ColumnRef:
		return e.Name
	case ast.CallExpr:
		if e.Star {
			return e.Name + "(*)"
		}
		if len(e.Args) == 1 {
			if ref, ok := e.Args[0].(ast.ColumnRef); ok {
				return e.Name + "(" + ref.Name + ")"
			}
		}
		return e.Name + "(...)"
	default:
		return "expr"
	}
}

func aggFuncFor(name string) (vm.AggFunc, bool) {
	switch strings.ToUpper(name) {
	case "COUNT":
		return vm.AggCount, true
	case "SUM":
		return vm.AggSum, true
	case "AVG":
		return vm.AggAvg, true
	case "MIN":
		return vm.AggMin, true
	case "MAX":
		return vm.AggMax, true
	default:
		return 0, false
	}
}

// detectAggregates reports whether items is an aggregate projection (every
// item a recognized aggregate call) and, if so, which function each item
// uses. Mixing aggregate and plain columns is rejected: this module has no
// GROUP BY, so there is no row to pair a plain column against.
func detectAggregates(items []plan.ProjectionItem) (bool, []vm.AggFunc, error) {
	fns := make([]vm.AggFunc, len(items))
	var any bool
	for i, item := range items {
		call, ok := item.Expr.(ast.CallExpr)
		if !ok {
			continue
		}
		fn, ok := aggFuncFor(call.Name)
		if !ok {
			return false, nil, dbutil.New(dbutil.KindInternal, "compile: unknown function %q", call.Name)
		}
		fns[i] = fn
		any = true
	}
	if any {
		for _, item := range items {
			if _, ok := item.Expr.(ast.CallExpr); !ok {
				return false, nil, dbutil.New(dbutil.KindInternal, "cannot mix aggregate and non-aggregate columns without GROUP BY")
			}
		}
	}
	return any, fns, nil
}

func resolveSortKeys(keys []plan.SortKey, items []plan.ProjectionItem) ([]vm.SortKey, error) {
	out := make([]vm.SortKey, len(keys))
	for i, k := range keys {
		col := -1
		for j, item := range items {
			if reflect.DeepEqual(k.Expr, item.Expr) {
				col = j
				break
			}
			if ref, ok := k.Expr.(ast.ColumnRef); ok && ref.Qualifier == "" && item.Alias == ref.Name {
				col = j
				break
			}
		}
		if col < 0 {
			return nil, dbutil.New(dbutil.KindInternal, "ORDER BY column must appear in the SELECT list")
		}
		out[i] = vm.SortKey{Column: col, Desc: k.Desc}
	}
	return out, nil
}

// compileSelect emits one of two SELECT patterns: the scan+filter+project
// loop, or (when every projected item is an aggregate call) the
// scan+accumulate loop followed by a single finalize-and-emit step.
func compileSelect(shape *selectShape, cat *catalog.Catalog) (*vm.Program, []string, error) {
	schema, err := cat.GetTable(shape.table)
	if err != nil {
		return nil, nil, err
	}

	isAgg, aggFns, err := detectAggregates(shape.items)
	if err != nil {
		return nil, nil, err
	}

	columns := make([]string, len(shape.items))
	for i, item := range shape.items {
		columns[i] = resultColumnName(item)
	}

	prog := vm.NewProgram()
	prog.Emit(vm.Instr{Op: vm.OpTableScan, A: 0, Table: shape.table})
	rewindPC := prog.Emit(vm.Instr{Op: vm.OpRewind, A: 0, B: sentinel})
	loopStart := prog.PC()

	hasFilter := shape.filter != nil
	var filterPC int
	if hasFilter {
		filterPC = prog.Emit(vm.Instr{Op: vm.OpFilter, A: sentinel, Expr: shape.filter})
	}

	if isAgg {
		for i, item := range shape.items {
			call := item.Expr.(ast.CallExpr)
			var expr ast.Expr
			if !call.Star {
				if len(call.Args) != 1 {
					return nil, nil, dbutil.New(dbutil.KindInternal, "aggregate %s takes exactly one argument", call.Name)
				}
				expr = call.Args[0]
			}
			prog.Emit(vm.Instr{Op: vm.OpAggregate, A: i, Agg: aggFns[i], Expr: expr})
		}
	} else {
		for i, item := range shape.items {
			if ref, ok := item.Expr.(ast.ColumnRef); ok {
				idx := schema.ColumnIndex(ref.Name)
				if idx < 0 {
					return nil, nil, dbutil.New(dbutil.KindColumnNotFound, "column %q not found in %q", ref.Name, shape.table)
				}
				prog.Emit(vm.Instr{Op: vm.OpColumn, A: 0, B: idx, C: i})
			} else {
				prog.Emit(vm.Instr{Op: vm.OpEval, A: i, Expr: item.Expr})
			}
		}
		prog.Emit(vm.Instr{Op: vm.OpResultRow, A: 0, B: len(shape.items)})
	}

	nextPC := prog.Emit(vm.Instr{Op: vm.OpNext, A: 0, B: sentinel})
	prog.Emit(vm.Instr{Op: vm.OpGoto, A: loopStart})
	post := prog.PC()

	if isAgg {
		for i := range shape.items {
			prog.Emit(vm.Instr{Op: vm.OpFinalizeAggregate, A: i, B: i})
		}
		prog.Emit(vm.Instr{Op: vm.OpResultRow, A: 0, B: len(shape.items)})
	} else {
		if len(shape.sortKeys) > 0 {
			keys, err := resolveSortKeys(shape.sortKeys, shape.items)
			if err != nil {
				return nil, nil, err
			}
			prog.Emit(vm.Instr{Op: vm.OpSort, Keys: keys})
		}
		if shape.hasLimit {
			prog.Emit(vm.Instr{Op: vm.OpLimit, A: shape.limitN, B: shape.offsetN})
		}
	}
	prog.Emit(vm.Instr{Op: vm.OpHalt})

	if err := prog.Patch(rewindPC, post); err != nil {
		return nil, nil, err
	}
	if hasFilter {
		if err := prog.Patch(filterPC, nextPC); err != nil {
			return nil, nil, err
		}
	}
	if err := prog.Patch(nextPC, post); err != nil {
		return nil, nil, err
	}

	return prog, columns, nil
}

// literalFromValue renders a catalog default back into an ast.Expr so it
// can flow through the same Eval opcode explicit INSERT values do. Blob
// defaults have no SQL literal syntax (the lexer defines none) and fall
// back to NULL; a blob-typed column can only reach a real default through
// direct catalog construction, not through this SQL front end.
func literalFromValue(col catalog.ColumnDef) ast.Expr {
	v := col.Value()
	switch v.Kind() {
	case record.Integer:
		return ast.Literal{Kind: ast.LitInt, Int: v.Int()}
	case record.Real:
		return ast.Literal{Kind: ast.LitReal, Real: v.Real()}
	case record.Text:
		return ast.Literal{Kind: ast.LitText, Text: v.Text()}
	default:
		return ast.Literal{Kind: ast.LitNull}
	}
}

func compileInsert(ins *plan.Insert, cat *catalog.Catalog) (*vm.Program, error) {
	schema, err := cat.GetTable(ins.Table)
	if err != nil {
		return nil, err
	}

	var colIdx []int
	if len(ins.Columns) == 0 {
		colIdx = make([]int, len(schema.Columns))
		for i := range colIdx {
			colIdx[i] = i
		}
	} else {
		colIdx = make([]int, len(ins.Columns))
		for i, name := range ins.Columns {
			idx := schema.ColumnIndex(name)
			if idx < 0 {
				return nil, dbutil.New(dbutil.KindColumnNotFound, "column %q not found in %q", name, ins.Table)
			}
			colIdx[i] = idx
		}
	}

	prog := vm.NewProgram()
	prog.Emit(vm.Instr{Op: vm.OpTableScan, A: 0, Table: ins.Table})

	for _, row := range ins.Rows {
		if len(row) != len(colIdx) {
			return nil, dbutil.New(dbutil.KindInternal, "INSERT value count does not match column count")
		}
		exprs := make([]ast.Expr, len(schema.Columns))
		for i, col := range schema.Columns {
			exprs[i] = literalFromValue(col)
		}
		for i, expr := range row {
			exprs[colIdx[i]] = expr
		}
		for i, expr := range exprs {
			prog.Emit(vm.Instr{Op: vm.OpEval, A: i, Expr: expr})
		}
		prog.Emit(vm.Instr{Op: vm.OpInsert, A: 0, B: 0, C: len(schema.Columns)})
	}
	prog.Emit(vm.Instr{Op: vm.OpHalt})
	return prog, nil
}

func compileUpdate(upd *plan.Update, cat *catalog.Catalog) (*vm.Program, error) {
	schema, err := cat.GetTable(upd.Table)
	if err != nil {
		return nil, err
	}
	assigns := make([]vm.ColAssign, len(upd.Assignments))
	for i, a := range upd.Assignments {
		idx := schema.ColumnIndex(a.Column)
		if idx < 0 {
			return nil, dbutil.New(dbutil.KindColumnNotFound, "column %q not found in %q", a.Column, upd.Table)
		}
		assigns[i] = vm.ColAssign{ColumnIndex: idx, Expr: a.Value}
	}

	prog := vm.NewProgram()
	prog.Emit(vm.Instr{Op: vm.OpTableScan, A: 0, Table: upd.Table})
	rewindPC := prog.Emit(vm.Instr{Op: vm.OpRewind, A: 0, B: sentinel})
	loopStart := prog.PC()

	hasFilter := upd.Predicate != nil
	var filterPC int
	if hasFilter {
		filterPC = prog.Emit(vm.Instr{Op: vm.OpFilter, A: sentinel, Expr: upd.Predicate})
	}
	prog.Emit(vm.Instr{Op: vm.OpUpdate, A: 0, Assigns: assigns})

	nextPC := prog.Emit(vm.Instr{Op: vm.OpNext, A: 0, B: sentinel})
	prog.Emit(vm.Instr{Op: vm.OpGoto, A: loopStart})
	post := prog.PC()
	prog.Emit(vm.Instr{Op: vm.OpHalt})

	if err := prog.Patch(rewindPC, post); err != nil {
		return nil, err
	}
	if hasFilter {
		if err := prog.Patch(filterPC, nextPC); err != nil {
			return nil, err
		}
	}
	if err := prog.Patch(nextPC, post); err != nil {
		return nil, err
	}
	return prog, nil
}

func compileDelete(del *plan.Delete, cat *catalog.Catalog) (*vm.Program, error) {
	if _, err := cat.GetTable(del.Table); err != nil {
		return nil, err
	}

	prog := vm.NewProgram()
	prog.Emit(vm.Instr{Op: vm.OpTableScan, A: 0, Table: del.Table})
	rewindPC := prog.Emit(vm.Instr{Op: vm.OpRewind, A: 0, B: sentinel})
	loopStart := prog.PC()

	hasFilter := del.Predicate != nil
	var filterPC int
	if hasFilter {
		filterPC = prog.Emit(vm.Instr{Op: vm.OpFilter, A: sentinel, Expr: del.Predicate})
	}
	prog.Emit(vm.Instr{Op: vm.OpDelete, A: 0})

	nextPC := prog.Emit(vm.Instr{Op: vm.OpNext, A: 0, B: sentinel})
	prog.Emit(vm.Instr{Op: vm.OpGoto, A: loopStart})
	post := prog.PC()
	prog.Emit(vm.Instr{Op: vm.OpHalt})

	if err := prog.Patch(rewindPC, post); err != nil {
		return nil, err
	}
	if hasFilter {
		if err := prog.Patch(filterPC, nextPC); err != nil {
			return nil, err
		}
	}
	if err := prog.Patch(nextPC, post); err != nil {
		return nil, err
	}
	return prog, nil
}
