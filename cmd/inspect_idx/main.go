// Inspect one table's B+Tree index by walking it in key order.
// Usage: inspect_idx <path-to.db> <table>
package main

import (
	"fmt"
	"os"

	"daemondb/btree"
	"daemondb/engine"
	"daemondb/record"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <db-file> <table>\n", os.Args[0])
		os.Exit(1)
	}
	dbPath, table := os.Args[1], os.Args[2]

	if err := inspect(dbPath, table); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func inspect(dbPath, table string) error {
	db, err := engine.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	schema, err := db.Schema(table)
	if err != nil {
		return err
	}
	fmt.Printf("table %s, root page %d, %d columns\n", schema.Name, schema.RootPageID, len(schema.Columns))

	tree := btree.New(db.Pager(), schema.RootPageID)
	cur := btree.NewCursor(tree)
	if err := cur.SeekFirst(); err != nil {
		return err
	}

	count := 0
	for cur.Valid() {
		values, err := record.Decode(cur.Payload())
		if err != nil {
			return err
		}
		fmt.Printf("%x -> %s\n", cur.Key(), formatRow(values))
		count++
		if err := cur.Next(); err != nil {
			return err
		}
	}
	fmt.Printf("%d entries\n", count)
	return nil
}

func formatRow(values []record.Value) string {
	s := "["
	for i, v := range values {
		if i > 0 {
			s += ", "
		}
		switch v.Kind() {
		case record.Null:
			s += "NULL"
		case record.Integer:
			s += fmt.Sprintf("%d", v.Int())
		case record.Real:
			s += fmt.Sprintf("%g", v.Real())
		case record.Text:
			s += fmt.Sprintf("%q", v.Text())
		case record.Blob:
			s += fmt.Sprintf("%x", v.Blob())
		}
	}
	return s + "]"
}
