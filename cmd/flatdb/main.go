package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/nbroyles/flatdb/internal/config"
	"github.com/nbroyles/flatdb/internal/search"
	"github.com/nbroyles/flatdb/internal/storage"
	"github.com/nbroyles/flatdb/pkg"
	log "github.com/sirupsen/logrus"
)

const prompt = "flatdb> "

type console struct {
	cfg *config.Config
	db  *pkg.DB
}

func main() {
	configPath := flag.String("config", "", "path to YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Could not load configuration: %v\n", err)
		os.Exit(1)
	}
	log.SetLevel(cfg.Level())

	c := &console{cfg: cfg}
	defer c.closeIfOpen()

	fmt.Printf("flatdb (data dir: %s). Type 'help' for commands.\n", cfg.DataDir)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(prompt)
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "create":
			c.handleCreate(args)
		case "open":
			c.handleOpen(args)
		case "close":
			c.handleClose()
		case "read":
			c.handleRead(args)
		case "display", "get":
			c.handleDisplay(args)
		case "find":
			c.handleFind(args)
		case "report":
			c.handleReport()
		case "add":
			c.handleAdd(args)
		case "update":
			c.handleUpdate(args)
		case "delete", "del":
			c.handleDelete(args)
		case "free":
			c.handleFree(args)
		case "help":
			printHelp()
		case "quit", "exit":
			fmt.Println("Bye!")
			return
		default:
			fmt.Printf("Unknown command: '%s'. Type 'help'.\n", cmd)
		}
	}
}

func (c *console) closeIfOpen() {
	if c.db != nil && c.db.IsOpen() {
		if err := c.db.Close(); err != nil {
			fmt.Printf("Error closing %s: %v\n", c.db.Name(), err)
		}
	}
}

// open returns the active database or reports that none is open
func (c *console) open() (*pkg.DB, bool) {
	if c.db == nil || !c.db.IsOpen() {
		fmt.Println("No database is open. Use 'create' or 'open' first.")
		return nil, false
	}
	return c.db, true
}

func (c *console) handleCreate(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: create <name> [source.csv]")
		return
	}
	if c.db != nil && c.db.IsOpen() {
		fmt.Printf("Error: %s is already open. Close it first.\n", c.db.Name())
		return
	}

	source := ""
	if len(args) > 1 {
		source = args[1]
	}

	db := pkg.New(args[0], c.cfg)
	result, err := db.Create(context.Background(), source)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	c.db = db
	fmt.Printf("Created %s with %d records\n", db.Name(), result.Written)
}

func (c *console) handleOpen(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: open <name>")
		return
	}
	if c.db != nil && c.db.IsOpen() {
		fmt.Printf("Error: %s is already open. Close it first.\n", c.db.Name())
		return
	}

	db := pkg.New(args[0], c.cfg)
	if err := db.Open(); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	c.db = db
	fmt.Printf("Opened %s\n", db.Name())
}

func (c *console) handleClose() {
	db, ok := c.open()
	if !ok {
		return
	}

	if err := db.Close(); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Closed %s\n", db.Name())
}

func (c *console) handleRead(args []string) {
	db, ok := c.open()
	if !ok {
		return
	}
	if len(args) < 1 {
		fmt.Println("Usage: read <row>")
		return
	}

	row, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Println("Error: Row must be an integer")
		return
	}

	rec, err := db.ReadRow(row)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
	} else if storage.IsEmpty(rec) {
		fmt.Printf("Row %d is empty\n", row)
	} else {
		fmt.Printf("Row %d: %v\n", row, rec)
	}
}

func (c *console) handleDisplay(args []string) {
	db, ok := c.open()
	if !ok {
		return
	}
	if len(args) < 1 {
		fmt.Println("Usage: display <key>")
		return
	}

	rec, row, err := db.Find(args[0])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
	} else if rec == nil {
		fmt.Printf("Key %s not found\n", args[0])
	} else {
		fmt.Printf("Row %d: %v\n", row, rec)
	}
}

func (c *console) handleFind(args []string) {
	db, ok := c.open()
	if !ok {
		return
	}
	if len(args) < 2 {
		fmt.Println("Usage: find <column> <value>")
		return
	}

	column, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Println("Error: Column must be an integer")
		return
	}

	rec, row, err := db.FindByColumn(column, strings.Join(args[1:], " "))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
	} else if rec == nil {
		fmt.Println("No match")
	} else {
		fmt.Printf("Row %d: %v\n", row, rec)
	}
}

func (c *console) handleReport() {
	db, ok := c.open()
	if !ok {
		return
	}

	recs, err := db.Report()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	for _, rec := range recs {
		fmt.Println(rec)
	}
	fmt.Printf("(%d records)\n", len(recs))
}

func (c *console) handleAdd(args []string) {
	db, ok := c.open()
	if !ok {
		return
	}
	if len(args) < 1 {
		fmt.Println("Usage: add <v0,v1,...>")
		return
	}

	row, err := db.Add(splitValues(args))
	if errors.Is(err, search.ErrNoSpace) {
		fmt.Println("No room near that key. Delete a nearby record and try again.")
	} else if err != nil {
		fmt.Printf("Error: %v\n", err)
	} else {
		fmt.Printf("Added at row %d\n", row)
	}
}

func (c *console) handleUpdate(args []string) {
	db, ok := c.open()
	if !ok {
		return
	}
	if len(args) < 2 {
		fmt.Println("Usage: update <key> <v0,v1,...>")
		return
	}

	row, err := db.Update(args[0], splitValues(args[1:]))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
	} else {
		fmt.Printf("Updated row %d\n", row)
	}
}

func (c *console) handleDelete(args []string) {
	db, ok := c.open()
	if !ok {
		return
	}
	if len(args) < 1 {
		fmt.Println("Usage: delete <key>")
		return
	}

	row, err := db.Delete(args[0])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
	} else {
		fmt.Printf("Deleted row %d\n", row)
	}
}

func (c *console) handleFree(args []string) {
	db, ok := c.open()
	if !ok {
		return
	}

	start := 0
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Println("Error: Row must be an integer")
			return
		}
		start = n
	}

	row, found, err := db.NextFree(start)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
	} else if !found {
		fmt.Printf("No empty rows at or after %d\n", start)
	} else {
		fmt.Printf("Row %d is empty\n", row)
	}
}

// splitValues rejoins whitespace split arguments and splits them on commas
func splitValues(args []string) []string {
	return strings.Split(strings.Join(args, " "), ",")
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  create <name> [source.csv]  Bulk load a database, default source <data_dir>/<name>.csv")
	fmt.Println("  open <name>                 Open an existing database")
	fmt.Println("  close                       Close the open database")
	fmt.Println("  read <row>                  Show the record at a row")
	fmt.Println("  display <key>               Look up a record by key")
	fmt.Println("  find <column> <value>       Scan for a record by column value")
	fmt.Println("  report                      Show the first records")
	fmt.Println("  add <v0,v1,...>             Insert a record")
	fmt.Println("  update <key> <v0,v1,...>    Replace a record")
	fmt.Println("  delete <key>                Delete a record")
	fmt.Println("  free [row]                  Find the next empty row")
	fmt.Println("  quit                        Exit")
}
