package ast

import (
	"strings"

	"daemondb/internal/dbutil"
	"daemondb/sql/lexer"
)

// Parser is a recursive-descent parser over a two-token lookahead window
// (cur/peek, advanced by next and checked by expect), returning every
// error as a *dbutil.Error carrying the offending token's line/col.
type Parser struct {
	lex  *lexer.Lexer
	cur  lexer.Token
	peek lexer.Token
	err  error
}

// New wires a Parser around a fresh Lexer and primes the lookahead window.
func New(l *lexer.Lexer) (*Parser, error) {
	p := &Parser{lex: l}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Parser) advance() error {
	p.cur = p.peek
	tok, err := p.lex.NextToken()
	if err != nil {
		return err
	}
	p.peek = tok
	return nil
}

func (p *Parser) errAt(format string, args ...interface{}) error {
	return dbutil.ParseErrorf(p.cur.Line, p.cur.Col, format, args...)
}

func (p *Parser) expect(k lexer.Kind) error {
	if p.cur.Kind != k {
		return p.errAt("expected %s, got %s (%q)", k, p.cur.Kind, p.cur.Value)
	}
	return nil
}

func (p *Parser) consume(k lexer.Kind) error {
	if err := p.expect(k); err != nil {
		return err
	}
	return p.advance()
}

// ParseStatement parses exactly one statement, not consuming a trailing
// semicolon (the caller, typically a REPL splitting on ';', handles that).
func (p *Parser) ParseStatement() (Statement, error) {
	switch p.cur.Kind {
	case lexer.KwSelect:
		return p.parseSelect()
	case lexer.KwInsert:
		return p.parseInsert()
	case lexer.KwUpdate:
		return p.parseUpdate()
	case lexer.KwDelete:
		return p.parseDelete()
	case lexer.KwCreate:
		return p.parseCreateTable()
	case lexer.KwBegin:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &BeginStmt{}, nil
	case lexer.KwCommit:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &CommitStmt{}, nil
	case lexer.KwRollback:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &RollbackStmt{}, nil
	default:
		return nil, p.errAt("unexpected token %s (%q)", p.cur.Kind, p.cur.Value)
	}
}

// --- CREATE TABLE ---

func (p *Parser) parseCreateTable() (*CreateTableStmt, error) {
	if err := p.advance(); err != nil { // consume CREATE
		return nil, err
	}
	if err := p.consume(lexer.KwTable); err != nil {
		return nil, err
	}
	if err := p.expect(lexer.Ident); err != nil {
		return nil, err
	}
	table := p.cur.Value
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.consume(lexer.LParen); err != nil {
		return nil, err
	}

	var cols []ColumnDef
	for {
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
		if p.cur.Kind == lexer.Comma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.consume(lexer.RParen); err != nil {
		return nil, err
	}
	return &CreateTableStmt{Table: table, Columns: cols}, nil
}

func (p *Parser) parseColumnDef() (ColumnDef, error) {
	if err := p.expect(lexer.Ident); err != nil {
		return ColumnDef{}, err
	}
	col := ColumnDef{Name: p.cur.Value}
	if err := p.advance(); err != nil {
		return ColumnDef{}, err
	}
	if err := p.expect(lexer.Ident); err != nil {
		return ColumnDef{}, err
	}
	col.Type = strings.ToUpper(p.cur.Value)
	if err := p.advance(); err != nil {
		return ColumnDef{}, err
	}

	for {
		switch p.cur.Kind {
		case lexer.KwNot:
			if err := p.advance(); err != nil {
				return ColumnDef{}, err
			}
			if err := p.consume(lexer.KwNull); err != nil {
				return ColumnDef{}, err
			}
			col.NotNull = true
		case lexer.KwUnique:
			if err := p.advance(); err != nil {
				return ColumnDef{}, err
			}
			col.Unique = true
		case lexer.KwPrimary:
			if err := p.advance(); err != nil {
				return ColumnDef{}, err
			}
			if err := p.consume(lexer.KwKey); err != nil {
				return ColumnDef{}, err
			}
			col.PrimaryKey = true
		case lexer.KwDefault:
			if err := p.advance(); err != nil {
				return ColumnDef{}, err
			}
			expr, err := p.parseUnary()
			if err != nil {
				return ColumnDef{}, err
			}
			col.Default = expr
		default:
			return col, nil
		}
	}
}

// --- INSERT ---

func (p *Parser) parseInsert() (*InsertStmt, error) {
	if err := p.advance(); err != nil { // consume INSERT
		return nil, err
	}
	if err := p.consume(lexer.KwInto); err != nil {
		return nil, err
	}
	if err := p.expect(lexer.Ident); err != nil {
		return nil, err
	}
	table := p.cur.Value
	if err := p.advance(); err != nil {
		return nil, err
	}

	var columns []string
	if p.cur.Kind == lexer.LParen {
		if err := p.advance(); err != nil {
			return nil, err
		}
		for {
			if err := p.expect(lexer.Ident); err != nil {
				return nil, err
			}
			columns = append(columns, p.cur.Value)
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.cur.Kind == lexer.Comma {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
		if err := p.consume(lexer.RParen); err != nil {
			return nil, err
		}
	}

	if err := p.consume(lexer.KwValues); err != nil {
		return nil, err
	}

	var rows [][]Expr
	for {
		row, err := p.parseValueTuple()
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
		if p.cur.Kind == lexer.Comma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}

	return &InsertStmt{Table: table, Columns: columns, Rows: rows}, nil
}

func (p *Parser) parseValueTuple() ([]Expr, error) {
	if err := p.consume(lexer.LParen); err != nil {
		return nil, err
	}
	var values []Expr
	for {
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		values = append(values, expr)
		if p.cur.Kind == lexer.Comma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.consume(lexer.RParen); err != nil {
		return nil, err
	}
	return values, nil
}

// --- SELECT ---

func (p *Parser) parseSelect() (*SelectStmt, error) {
	if err := p.advance(); err != nil { // consume SELECT
		return nil, err
	}

	var items []SelectItem
	if p.cur.Kind == lexer.Star {
		items = append(items, SelectItem{Expr: ColumnRef{Name: "*"}})
		if err := p.advance(); err != nil {
			return nil, err
		}
	} else {
		for {
			item, err := p.parseSelectItem()
			if err != nil {
				return nil, err
			}
			items = append(items, item)
			if p.cur.Kind == lexer.Comma {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
	}

	if err := p.consume(lexer.KwFrom); err != nil {
		return nil, err
	}
	if err := p.expect(lexer.Ident); err != nil {
		return nil, err
	}
	table := p.cur.Value
	if err := p.advance(); err != nil {
		return nil, err
	}

	stmt := &SelectStmt{Columns: items, Table: table}

	if p.cur.Kind == lexer.KwWhere {
		if err := p.advance(); err != nil {
			return nil, err
		}
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}

	if p.cur.Kind == lexer.KwOrder {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.consume(lexer.KwBy); err != nil {
			return nil, err
		}
		for {
			expr, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			desc := false
			if p.cur.Kind == lexer.KwAsc {
				if err := p.advance(); err != nil {
					return nil, err
				}
			} else if p.cur.Kind == lexer.KwDesc {
				desc = true
				if err := p.advance(); err != nil {
					return nil, err
				}
			}
			stmt.OrderBy = append(stmt.OrderBy, OrderKey{Expr: expr, Desc: desc})
			if p.cur.Kind == lexer.Comma {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
	}

	if p.cur.Kind == lexer.KwLimit {
		if err := p.advance(); err != nil {
			return nil, err
		}
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Limit = expr

		if p.cur.Kind == lexer.KwOffset {
			if err := p.advance(); err != nil {
				return nil, err
			}
			expr, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			stmt.Offset = expr
		}
	}

	return stmt, nil
}

func (p *Parser) parseSelectItem() (SelectItem, error) {
	expr, err := p.parseExpr()
	if err != nil {
		return SelectItem{}, err
	}
	item := SelectItem{Expr: expr}
	if p.cur.Kind == lexer.KwAs {
		if err := p.advance(); err != nil {
			return SelectItem{}, err
		}
		if err := p.expect(lexer.Ident); err != nil {
			return SelectItem{}, err
		}
		item.Alias = p.cur.Value
		if err := p.advance(); err != nil {
			return SelectItem{}, err
		}
	} else if p.cur.Kind == lexer.Ident {
		// bare alias, e.g. "SELECT count(*) total"
		item.Alias = p.cur.Value
		if err := p.advance(); err != nil {
			return SelectItem{}, err
		}
	}
	return item, nil
}

// --- UPDATE ---

func (p *Parser) parseUpdate() (*UpdateStmt, error) {
	if err := p.advance(); err != nil { // consume UPDATE
		return nil, err
	}
	if err := p.expect(lexer.Ident); err != nil {
		return nil, err
	}
	table := p.cur.Value
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.consume(lexer.KwSet); err != nil {
		return nil, err
	}

	var assigns []Assignment
	for {
		if err := p.expect(lexer.Ident); err != nil {
			return nil, err
		}
		col := p.cur.Value
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.consume(lexer.Eq); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		assigns = append(assigns, Assignment{Column: col, Value: val})
		if p.cur.Kind == lexer.Comma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}

	stmt := &UpdateStmt{Table: table, Assignments: assigns}
	if p.cur.Kind == lexer.KwWhere {
		if err := p.advance(); err != nil {
			return nil, err
		}
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	return stmt, nil
}

// --- DELETE ---

func (p *Parser) parseDelete() (*DeleteStmt, error) {
	if err := p.advance(); err != nil { // consume DELETE
		return nil, err
	}
	if err := p.consume(lexer.KwFrom); err != nil {
		return nil, err
	}
	if err := p.expect(lexer.Ident); err != nil {
		return nil, err
	}
	table := p.cur.Value
	if err := p.advance(); err != nil {
		return nil, err
	}

	stmt := &DeleteStmt{Table: table}
	if p.cur.Kind == lexer.KwWhere {
		if err := p.advance(); err != nil {
			return nil, err
		}
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	return stmt, nil
}

// --- expressions, precedence climbing:
// OR < AND < (=,!=) < (<,<=,>,>=) < (+,-) < (*,/,%) < unary

func (p *Parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.Kind == lexer.KwOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.cur.Kind == lexer.KwAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseEquality() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.cur.Kind == lexer.Eq || p.cur.Kind == lexer.NotEq {
		op := "="
		if p.cur.Kind == lexer.NotEq {
			op = "!="
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch p.cur.Kind {
		case lexer.Lt:
			op = "<"
		case lexer.LtEq:
			op = "<="
		case lexer.Gt:
			op = ">"
		case lexer.GtEq:
			op = ">="
		default:
			return left, nil
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.cur.Kind == lexer.Plus || p.cur.Kind == lexer.Minus {
		op := "+"
		if p.cur.Kind == lexer.Minus {
			op = "-"
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.Kind == lexer.Star || p.cur.Kind == lexer.Slash || p.cur.Kind == lexer.Percent {
		var op string
		switch p.cur.Kind {
		case lexer.Star:
			op = "*"
		case lexer.Slash:
			op = "/"
		case lexer.Percent:
			op = "%"
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	switch p.cur.Kind {
	case lexer.KwNot:
		if err := p.advance(); err != nil {
			return nil, err
		}
		expr, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return UnaryExpr{Op: "NOT", Expr: expr}, nil
	case lexer.Minus:
		if err := p.advance(); err != nil {
			return nil, err
		}
		expr, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return UnaryExpr{Op: "-", Expr: expr}, nil
	default:
		return p.parsePrimary()
	}
}

func (p *Parser) parsePrimary() (Expr, error) {
	switch p.cur.Kind {
	case lexer.Int:
		v, err := lexer.ParseInt(p.cur.Value)
		if err != nil {
			return nil, p.errAt("invalid integer literal %q", p.cur.Value)
		}
		lit := Literal{Kind: LitInt, Int: v}
		return lit, p.advance()
	case lexer.Real:
		v, err := lexer.ParseReal(p.cur.Value)
		if err != nil {
			return nil, p.errAt("invalid real literal %q", p.cur.Value)
		}
		lit := Literal{Kind: LitReal, Real: v}
		return lit, p.advance()
	case lexer.String:
		lit := Literal{Kind: LitText, Text: p.cur.Value}
		return lit, p.advance()
	case lexer.KwNull:
		return Literal{Kind: LitNull}, p.advance()
	case lexer.KwTrue:
		return Literal{Kind: LitBool, Bool: true}, p.advance()
	case lexer.KwFalse:
		return Literal{Kind: LitBool, Bool: false}, p.advance()
	case lexer.LParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.consume(lexer.RParen); err != nil {
			return nil, err
		}
		return ParenExpr{Expr: expr}, nil
	case lexer.Ident:
		name := p.cur.Value
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.Kind == lexer.LParen {
			return p.parseCallTail(name)
		}
		if p.cur.Kind == lexer.Dot {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if err := p.expect(lexer.Ident); err != nil {
				return nil, err
			}
			col := p.cur.Value
			return ColumnRef{Qualifier: name, Name: col}, p.advance()
		}
		return ColumnRef{Name: name}, nil
	default:
		return nil, p.errAt("unexpected token %s (%q) in expression", p.cur.Kind, p.cur.Value)
	}
}

func (p *Parser) parseCallTail(name string) (Expr, error) {
	if err := p.advance(); err != nil { // consume '('
		return nil, err
	}
	call := CallExpr{Name: strings.ToUpper(name)}
	if p.cur.Kind == lexer.Star {
		call.Star = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	} else if p.cur.Kind != lexer.RParen {
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, arg)
			if p.cur.Kind == lexer.Comma {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
	}
	if err := p.consume(lexer.RParen); err != nil {
		return nil, err
	}
	return call, nil
}
