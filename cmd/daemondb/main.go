// Command daemondb is the interactive shell: it calls engine.Execute and
// formats whatever QueryResult comes back, plus a couple of dot-commands
// that just call a core operation directly. REPL loop with prompt "db> ",
// bufio.Scanner, "exit" to quit.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"daemondb/engine"
	"daemondb/record"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: daemondb <path-to-db-file>")
		os.Exit(1)
	}

	db, err := engine.Open(os.Args[1])
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("db> ")

		if !scanner.Scan() { // Ctrl+D pressed
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "exit") {
			break
		}

		if strings.HasPrefix(line, ".") {
			runDotCommand(db, line)
			continue
		}

		res, err := db.Execute(line)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		printResult(res)
	}
}

func runDotCommand(db *engine.Engine, line string) {
	switch strings.TrimSpace(line) {
	case ".tables":
		for _, name := range db.ListTables() {
			fmt.Println(name)
		}
	case ".checkpoint":
		if err := db.Checkpoint(); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	default:
		fmt.Printf("unknown command: %s\n", line)
	}
}

func printResult(res *engine.QueryResult) {
	if len(res.Columns) == 0 && len(res.Rows) == 0 {
		if res.RowsAffected > 0 {
			fmt.Printf("%d row(s) affected\n", res.RowsAffected)
		}
		return
	}

	fmt.Println(strings.Join(res.Columns, " | "))
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatValue(v)
		}
		fmt.Println(strings.Join(cells, " | "))
	}
}

func formatValue(v record.Value) string {
	switch v.Kind() {
	case record.Null:
		return "NULL"
	case record.Integer:
		return fmt.Sprintf("%d", v.Int())
	case record.Real:
		return fmt.Sprintf("%g", v.Real())
	case record.Text:
		return v.Text()
	case record.Blob:
		return fmt.Sprintf("%x", v.Blob())
	default:
		return ""
	}
}
