// Package catalog implements the persisted schema store: table and column
// definitions, per-table root page and auto-increment counter, serialized
// as one JSON document spread across a chain of meta pages, the chain
// itself linked the same way the B+Tree's interior pages link to a
// right_child.
package catalog

import (
	"encoding/binary"
	"encoding/json"

	"daemondb/internal/dbutil"
	"daemondb/page"
	"daemondb/pager"
	"daemondb/record"
)

// ColumnDef describes one column of a table, in declaration order.
type ColumnDef struct {
	Name       string        `json:"name"`
	Type       string        `json:"type"` // "INTEGER", "REAL", "TEXT", "BLOB"
	NotNull    bool          `json:"nullable_false,omitempty"`
	Unique     bool          `json:"unique,omitempty"`
	PrimaryKey bool          `json:"primary_key,omitempty"`
	Default    *DefaultValue `json:"default,omitempty"`
}

// Kind maps Type to the record.Kind used at the value layer.
func (c ColumnDef) Kind() record.Kind {
	switch c.Type {
	case "INTEGER":
		return record.Integer
	case "REAL":
		return record.Real
	case "TEXT":
		return record.Text
	case "BLOB":
		return record.Blob
	default:
		return record.Null
	}
}

// DefaultValue is a JSON-serializable mirror of record.Value, since Value
// itself keeps its fields private to enforce construction through its
// typed constructors.
type DefaultValue struct {
	Kind  string   `json:"kind"`
	Int   *int64   `json:"int,omitempty"`
	Real  *float64 `json:"real,omitempty"`
	Text  *string  `json:"text,omitempty"`
	Blob  []byte   `json:"blob,omitempty"`
}

func NewDefaultValue(v record.Value) *DefaultValue {
	switch v.Kind() {
	case record.Integer:
		i := v.Int()
		return &DefaultValue{Kind: "INTEGER", Int: &i}
	case record.Real:
		r := v.Real()
		return &DefaultValue{Kind: "REAL", Real: &r}
	case record.Text:
		s := v.Text()
		return &DefaultValue{Kind: "TEXT", Text: &s}
	case record.Blob:
		return &DefaultValue{Kind: "BLOB", Blob: v.Blob()}
	default:
		return nil
	}
}

func (d *DefaultValue) value() record.Value {
	if d == nil {
		return record.NewNull()
	}
	switch d.Kind {
	case "INTEGER":
		return record.NewInt(*d.Int)
	case "REAL":
		return record.NewReal(*d.Real)
	case "TEXT":
		return record.NewText(*d.Text)
	case "BLOB":
		return record.NewBlob(d.Blob)
	default:
		return record.NewNull()
	}
}

// Value returns the column's default as a record.Value, NULL if unset.
func (c ColumnDef) Value() record.Value { return c.Default.value() }

// TableSchema is one table's persisted definition.
type TableSchema struct {
	Name        string      `json:"table_name"`
	Columns     []ColumnDef `json:"columns"`
	RootPageID  uint32      `json:"root_page_id"`
	LastInsertID int64      `json:"last_insert_id"`
}

// PrimaryKeyIndex returns the index of the primary key column, or -1 if
// the table has none.
func (s *TableSchema) PrimaryKeyIndex() int {
	for i, c := range s.Columns {
		if c.PrimaryKey {
			return i
		}
	}
	return -1
}

// ColumnIndex returns the index of the named column, or -1 if absent.
func (s *TableSchema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// document is the JSON shape persisted to the meta-page chain.
type document struct {
	Tables []*TableSchema `json:"tables"`
}

// Catalog is the in-memory, persisted schema store for one open database.
type Catalog struct {
	pager  *pager.Pager
	tables map[string]*TableSchema
}

// Load reads and parses the catalog from the file header's catalog root
// page, returning an empty catalog if none has been persisted yet.
func Load(p *pager.Pager) (*Catalog, error) {
	c := &Catalog{pager: p, tables: make(map[string]*TableSchema)}
	root := p.CatalogRoot()
	if root == 0 {
		return c, nil
	}

	data, err := readChain(p, root)
	if err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, dbutil.Wrap(dbutil.KindCorrupt, err, "catalog: parse meta page chain")
	}
	for _, t := range doc.Tables {
		c.tables[t.Name] = t
	}
	return c, nil
}

// readChain concatenates the payload of every meta page in the chain
// starting at root. The first page's first 4 bytes hold the total
// document length (big-endian u32); the remaining bytes of every page in
// the chain are payload, continued via right_child until exhausted.
func readChain(p *pager.Pager, root uint32) ([]byte, error) {
	pg, err := p.ReadPage(root)
	if err != nil {
		return nil, err
	}
	if pg.Type() != page.TypeMeta {
		return nil, dbutil.New(dbutil.KindCorrupt, "catalog: root page %d is not a meta page", root)
	}
	body := pg.Buf[page.HeaderSize:]
	total := binary.BigEndian.Uint32(body[0:4])
	chunk := body[4:]

	out := make([]byte, 0, total)
	take := chunk
	if uint32(len(take)) > total {
		take = take[:total]
	}
	out = append(out, take...)

	next := pg.RightChild()
	for uint32(len(out)) < total && next != 0 {
		pg, err = p.ReadPage(next)
		if err != nil {
			return nil, err
		}
		chunk = pg.Buf[page.HeaderSize:]
		remaining := total - uint32(len(out))
		if uint32(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		out = append(out, chunk...)
		next = pg.RightChild()
	}
	if uint32(len(out)) != total {
		return nil, dbutil.New(dbutil.KindCorrupt, "catalog: meta page chain truncated")
	}
	return out, nil
}

// Persist serializes the catalog to JSON and writes it across a freshly
// allocated chain of meta pages, freeing the previous chain (if any) and
// updating the file header's catalog root pointer.
func (c *Catalog) Persist() error {
	doc := document{Tables: make([]*TableSchema, 0, len(c.tables))}
	for _, t := range c.tables {
		doc.Tables = append(doc.Tables, t)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return dbutil.Wrap(dbutil.KindInternal, err, "catalog: marshal")
	}

	if old := c.pager.CatalogRoot(); old != 0 {
		if err := freeChain(c.pager, old); err != nil {
			return err
		}
	}

	root, err := writeChain(c.pager, data)
	if err != nil {
		return err
	}
	c.pager.SetCatalogRoot(root)
	return nil
}

func freeChain(p *pager.Pager, root uint32) error {
	id := root
	for id != 0 {
		pg, err := p.ReadPage(id)
		if err != nil {
			return err
		}
		next := pg.RightChild()
		if err := p.FreePage(id); err != nil {
			return err
		}
		id = next
	}
	return nil
}

func writeChain(p *pager.Pager, data []byte) (uint32, error) {
	pages := []*page.Page{}

	first, err := p.AllocatePage(page.TypeMeta)
	if err != nil {
		return 0, err
	}
	pages = append(pages, first)

	body := first.Buf[page.HeaderSize:]
	binary.BigEndian.PutUint32(body[0:4], uint32(len(data)))
	n := copy(body[4:], data)
	data = data[n:]

	prev := first
	for len(data) > 0 {
		next, err := p.AllocatePage(page.TypeMeta)
		if err != nil {
			return 0, err
		}
		prev.SetRightChild(next.ID)
		body := next.Buf[page.HeaderSize:]
		m := copy(body, data)
		data = data[m:]
		pages = append(pages, next)
		prev = next
	}

	for _, pg := range pages {
		if err := p.WritePage(pg); err != nil {
			return 0, err
		}
	}
	return first.ID, nil
}

// CreateTable registers a new table, allocating its leaf root page.
// Fails KindTableExists if name is already present.
func (c *Catalog) CreateTable(name string, columns []ColumnDef) (*TableSchema, error) {
	if _, exists := c.tables[name]; exists {
		return nil, dbutil.New(dbutil.KindTableExists, "table %q already exists", name)
	}
	root, err := c.pager.AllocatePage(page.TypeLeaf)
	if err != nil {
		return nil, err
	}
	if err := c.pager.WritePage(root); err != nil {
		return nil, err
	}
	schema := &TableSchema{Name: name, Columns: columns, RootPageID: root.ID}
	c.tables[name] = schema
	return schema, nil
}

// GetTable returns the named table's schema, or KindTableNotFound.
func (c *Catalog) GetTable(name string) (*TableSchema, error) {
	t, ok := c.tables[name]
	if !ok {
		return nil, dbutil.New(dbutil.KindTableNotFound, "table %q does not exist", name)
	}
	return t, nil
}

// ListTables returns every table name, in no particular order.
func (c *Catalog) ListTables() []string {
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	return names
}

// UpdateTable replaces the stored schema for schema.Name (e.g. after its
// root page id changes following a B+Tree split, or its LastInsertID
// advances). The caller is responsible for calling Persist.
func (c *Catalog) UpdateTable(schema *TableSchema) {
	c.tables[schema.Name] = schema
}

// DropTable removes a table's schema entry. The caller is expected to
// have already freed the B+Tree's pages if reclaiming space; no SQL
// statement currently calls this, but it stays as a small, obviously
// correct primitive for whatever does.
func (c *Catalog) DropTable(name string) error {
	if _, ok := c.tables[name]; !ok {
		return dbutil.New(dbutil.KindTableNotFound, "table %q does not exist", name)
	}
	delete(c.tables, name)
	return nil
}

