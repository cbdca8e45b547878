package plan

import (
	"daemondb/catalog"
	"daemondb/sql/ast"
)

// Optimize applies a fixed rule set to fixpoint: wildcard
// expansion, constant folding, algebraic simplification, filter merging,
// predicate pushdown and limit pushdown. There is no projection pushdown:
// columns the query does not use are not pruned. cat resolves
// the column list for wildcard expansion; it may be nil if the plan
// contains no wildcard projection (e.g. DML/DDL plans built by Build).
func Optimize(node Node, cat *catalog.Catalog) Node {
	for {
		next := node
		next = expandWildcards(next, cat)
		next = foldConstants(next)
		next = simplify(next)
		next = mergeFilters(next)
		next = pushdownPredicates(next)
		next = pushdownLimit(next)
		if equalShape(next, node) {
			return next
		}
		node = next
	}
}

// equalShape is the fixpoint check: it compares the describe() renderings
// of the plan before and after a pass, and equal renderings end the loop.
func equalShape(a, b Node) bool {
	return samePlanString(a) == samePlanString(b)
}

func samePlanString(n Node) string {
	return describe(n)
}

// describe renders a plan's shape (not its literal pointer values) for
// the fixpoint comparison above; it is not meant as user-facing output.
func describe(n Node) string {
	switch p := n.(type) {
	case *Scan:
		return "Scan(" + p.Table + ")"
	case *TableScan:
		return "TableScan(" + p.Table + ")"
	case *Filter:
		return "Filter(" + describeExpr(p.Predicate) + "," + describe(p.Input) + ")"
	case *Projection:
		s := "Projection("
		for _, it := range p.Items {
			s += describeExpr(it.Expr) + ":" + it.Alias + ","
		}
		return s + describe(p.Input) + ")"
	case *Sort:
		return "Sort(" + describe(p.Input) + ")"
	case *Limit:
		return "Limit(" + describe(p.Input) + ")"
	default:
		return "?"
	}
}

func describeExpr(e ast.Expr) string {
	switch v := e.(type) {
	case ast.Literal:
		switch v.Kind {
		case ast.LitInt:
			return "int"
		case ast.LitReal:
			return "real"
		case ast.LitText:
			return "text:" + v.Text
		case ast.LitBool:
			if v.Bool {
				return "true"
			}
			return "false"
		default:
			return "null"
		}
	case ast.ColumnRef:
		return "col:" + v.Qualifier + "." + v.Name
	case ast.UnaryExpr:
		return v.Op + describeExpr(v.Expr)
	case ast.BinaryExpr:
		return "(" + describeExpr(v.Left) + v.Op + describeExpr(v.Right) + ")"
	case ast.CallExpr:
		s := v.Name + "("
		if v.Star {
			s += "*"
		}
		for _, a := range v.Args {
			s += describeExpr(a) + ","
		}
		return s + ")"
	case ast.ParenExpr:
		return describeExpr(v.Expr)
	default:
		return "?"
	}
}

// --- wildcard expansion ---

func expandWildcards(n Node, cat *catalog.Catalog) Node {
	proj, ok := n.(*Projection)
	if !ok {
		return recurseChild(n, func(child Node) Node { return expandWildcards(child, cat) })
	}
	input := expandWildcards(proj.Input, cat)
	table := underlyingTable(input)
	if table == "" || cat == nil {
		return &Projection{Input: input, Items: proj.Items}
	}

	var expanded []ProjectionItem
	for _, item := range proj.Items {
		ref, ok := item.Expr.(ast.ColumnRef)
		if !ok || ref.Name != "*" {
			expanded = append(expanded, item)
			continue
		}
		schema, err := cat.GetTable(table)
		if err != nil {
			expanded = append(expanded, item)
			continue
		}
		for _, col := range schema.Columns {
			expanded = append(expanded, ProjectionItem{Expr: ast.ColumnRef{Name: col.Name}})
		}
	}
	return &Projection{Input: input, Items: expanded}
}

func underlyingTable(n Node) string {
	switch p := n.(type) {
	case *Scan:
		return p.Table
	case *TableScan:
		return p.Table
	case *Filter:
		return underlyingTable(p.Input)
	default:
		return ""
	}
}

func recurseChild(n Node, f func(Node) Node) Node {
	switch p := n.(type) {
	case *Filter:
		return &Filter{Input: f(p.Input), Predicate: p.Predicate}
	case *Sort:
		return &Sort{Input: f(p.Input), Keys: p.Keys}
	case *Limit:
		return &Limit{Input: f(p.Input), Count: p.Count, Offset: p.Offset}
	default:
		return n
	}
}

// --- constant folding ---

func foldConstants(n Node) Node {
	switch p := n.(type) {
	case *Filter:
		return &Filter{Input: foldConstants(p.Input), Predicate: foldExpr(p.Predicate)}
	case *Projection:
		items := make([]ProjectionItem, len(p.Items))
		for i, it := range p.Items {
			items[i] = ProjectionItem{Expr: foldExpr(it.Expr), Alias: it.Alias}
		}
		return &Projection{Input: foldConstants(p.Input), Items: items}
	case *Sort:
		keys := make([]SortKey, len(p.Keys))
		for i, k := range p.Keys {
			keys[i] = SortKey{Expr: foldExpr(k.Expr), Desc: k.Desc}
		}
		return &Sort{Input: foldConstants(p.Input), Keys: keys}
	case *Limit:
		return &Limit{Input: foldConstants(p.Input), Count: foldExpr(p.Count), Offset: foldExpr(p.Offset)}
	default:
		return n
	}
}

func foldExpr(e ast.Expr) ast.Expr {
	switch v := e.(type) {
	case ast.ParenExpr:
		return foldExpr(v.Expr)
	case ast.UnaryExpr:
		inner := foldExpr(v.Expr)
		if lit, ok := inner.(ast.Literal); ok {
			if folded, ok := foldUnary(v.Op, lit); ok {
				return folded
			}
		}
		return ast.UnaryExpr{Op: v.Op, Expr: inner}
	case ast.BinaryExpr:
		left := foldExpr(v.Left)
		right := foldExpr(v.Right)
		litL, okL := left.(ast.Literal)
		litR, okR := right.(ast.Literal)
		if okL && okR {
			if folded, ok := foldBinary(litL, v.Op, litR); ok {
				return folded
			}
		}
		return ast.BinaryExpr{Op: v.Op, Left: left, Right: right}
	default:
		return e
	}
}

func foldUnary(op string, v ast.Literal) (ast.Literal, bool) {
	switch op {
	case "-":
		switch v.Kind {
		case ast.LitInt:
			return ast.Literal{Kind: ast.LitInt, Int: -v.Int}, true
		case ast.LitReal:
			return ast.Literal{Kind: ast.LitReal, Real: -v.Real}, true
		}
	case "NOT":
		if v.Kind == ast.LitBool {
			return ast.Literal{Kind: ast.LitBool, Bool: !v.Bool}, true
		}
	}
	return ast.Literal{}, false
}

func numeric(v ast.Literal) (float64, bool) {
	switch v.Kind {
	case ast.LitInt:
		return float64(v.Int), true
	case ast.LitReal:
		return v.Real, true
	default:
		return 0, false
	}
}

func foldBinary(l ast.Literal, op string, r ast.Literal) (ast.Literal, bool) {
	if l.Kind == ast.LitBool && r.Kind == ast.LitBool {
		switch op {
		case "AND":
			return ast.Literal{Kind: ast.LitBool, Bool: l.Bool && r.Bool}, true
		case "OR":
			return ast.Literal{Kind: ast.LitBool, Bool: l.Bool || r.Bool}, true
		}
	}
	lf, lok := numeric(l)
	rf, rok := numeric(r)
	if !lok || !rok {
		return ast.Literal{}, false
	}
	bothInt := l.Kind == ast.LitInt && r.Kind == ast.LitInt
	switch op {
	case "+":
		if bothInt {
			return ast.Literal{Kind: ast.LitInt, Int: l.Int + r.Int}, true
		}
		return ast.Literal{Kind: ast.LitReal, Real: lf + rf}, true
	case "-":
		if bothInt {
			return ast.Literal{Kind: ast.LitInt, Int: l.Int - r.Int}, true
		}
		return ast.Literal{Kind: ast.LitReal, Real: lf - rf}, true
	case "*":
		if bothInt {
			return ast.Literal{Kind: ast.LitInt, Int: l.Int * r.Int}, true
		}
		return ast.Literal{Kind: ast.LitReal, Real: lf * rf}, true
	case "/":
		if rf == 0 {
			return ast.Literal{}, false
		}
		return ast.Literal{Kind: ast.LitReal, Real: lf / rf}, true
	case "%":
		if bothInt && r.Int != 0 {
			return ast.Literal{Kind: ast.LitInt, Int: l.Int % r.Int}, true
		}
		return ast.Literal{}, false
	}
	return ast.Literal{}, false
}

// --- algebraic simplification ---

func simplify(n Node) Node {
	switch p := n.(type) {
	case *Filter:
		return &Filter{Input: simplify(p.Input), Predicate: simplifyExpr(p.Predicate)}
	case *Projection:
		items := make([]ProjectionItem, len(p.Items))
		for i, it := range p.Items {
			items[i] = ProjectionItem{Expr: simplifyExpr(it.Expr), Alias: it.Alias}
		}
		return &Projection{Input: simplify(p.Input), Items: items}
	case *Sort:
		return &Sort{Input: simplify(p.Input), Keys: p.Keys}
	case *Limit:
		return &Limit{Input: simplify(p.Input), Count: p.Count, Offset: p.Offset}
	default:
		return n
	}
}

func isIntLiteral(e ast.Expr, want int64) bool {
	lit, ok := e.(ast.Literal)
	return ok && lit.Kind == ast.LitInt && lit.Int == want
}

func isBoolLiteral(e ast.Expr, want bool) (bool, bool) {
	lit, ok := e.(ast.Literal)
	if !ok || lit.Kind != ast.LitBool {
		return false, false
	}
	return lit.Bool == want, true
}

func simplifyExpr(e ast.Expr) ast.Expr {
	bin, ok := e.(ast.BinaryExpr)
	if !ok {
		return e
	}
	left := simplifyExpr(bin.Left)
	right := simplifyExpr(bin.Right)

	switch bin.Op {
	case "+":
		if isIntLiteral(right, 0) {
			return left
		}
		if isIntLiteral(left, 0) {
			return right
		}
	case "*":
		if isIntLiteral(right, 1) {
			return left
		}
		if isIntLiteral(left, 1) {
			return right
		}
		if isIntLiteral(right, 0) || isIntLiteral(left, 0) {
			return ast.Literal{Kind: ast.LitInt, Int: 0}
		}
	case "AND":
		if v, isLit := isBoolLiteral(right, true); isLit && v {
			return left
		}
		if v, isLit := isBoolLiteral(left, true); isLit && v {
			return right
		}
		if v, isLit := isBoolLiteral(right, false); isLit && v {
			return ast.Literal{Kind: ast.LitBool, Bool: false}
		}
		if v, isLit := isBoolLiteral(left, false); isLit && v {
			return ast.Literal{Kind: ast.LitBool, Bool: false}
		}
	case "OR":
		if v, isLit := isBoolLiteral(right, false); isLit && v {
			return left
		}
		if v, isLit := isBoolLiteral(left, false); isLit && v {
			return right
		}
		if v, isLit := isBoolLiteral(right, true); isLit && v {
			return ast.Literal{Kind: ast.LitBool, Bool: true}
		}
		if v, isLit := isBoolLiteral(left, true); isLit && v {
			return ast.Literal{Kind: ast.LitBool, Bool: true}
		}
	}
	return ast.BinaryExpr{Op: bin.Op, Left: left, Right: right}
}

// --- filter merging ---

func mergeFilters(n Node) Node {
	switch p := n.(type) {
	case *Filter:
		input := mergeFilters(p.Input)
		if inner, ok := input.(*Filter); ok {
			return &Filter{
				Input:     inner.Input,
				Predicate: ast.BinaryExpr{Op: "AND", Left: inner.Predicate, Right: p.Predicate},
			}
		}
		return &Filter{Input: input, Predicate: p.Predicate}
	case *Projection:
		return &Projection{Input: mergeFilters(p.Input), Items: p.Items}
	case *Sort:
		return &Sort{Input: mergeFilters(p.Input), Keys: p.Keys}
	case *Limit:
		return &Limit{Input: mergeFilters(p.Input), Count: p.Count, Offset: p.Offset}
	default:
		return n
	}
}

// --- predicate pushdown: Filter above Projection moves below it, since
// every column the predicate can reference is still visible there ---

func pushdownPredicates(n Node) Node {
	switch p := n.(type) {
	case *Filter:
		input := pushdownPredicates(p.Input)
		if proj, ok := input.(*Projection); ok {
			return &Projection{
				Input: &Filter{Input: proj.Input, Predicate: p.Predicate},
				Items: proj.Items,
			}
		}
		return &Filter{Input: input, Predicate: p.Predicate}
	case *Projection:
		return &Projection{Input: pushdownPredicates(p.Input), Items: p.Items}
	case *Sort:
		return &Sort{Input: pushdownPredicates(p.Input), Keys: p.Keys}
	case *Limit:
		return &Limit{Input: pushdownPredicates(p.Input), Count: p.Count, Offset: p.Offset}
	default:
		return n
	}
}

// --- limit pushdown: a Limit directly above a Projection moves below it,
// since a Projection maps rows one to one; a Limit above a Sort stays
// where it is ---

func pushdownLimit(n Node) Node {
	lim, ok := n.(*Limit)
	if !ok {
		return recurseChild(n, pushdownLimit)
	}
	input := pushdownLimit(lim.Input)
	if proj, ok := input.(*Projection); ok {
		return &Projection{
			Input: &Limit{Input: proj.Input, Count: lim.Count, Offset: lim.Offset},
			Items: proj.Items,
		}
	}
	return &Limit{Input: input, Count: lim.Count, Offset: lim.Offset}
}
