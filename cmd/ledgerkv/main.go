// Command ledgerkv is a small playground CLI over the ledgerkv store:
// one subcommand per operation, a database directory instead of a config
// file, nothing beyond what exercising the library by hand requires.
//
// Usage:
//
//	ledgerkv --dir <path> create-index <name>
//	ledgerkv --dir <path> put <index> <key> <value>
//	ledgerkv --dir <path> get <index> <key>
//	ledgerkv --dir <path> delete <index> <key>
//	ledgerkv --dir <path> list <index>
//	ledgerkv --dir <path> checkpoint
//	ledgerkv --dir <path> repl
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/ledgerkv/ledgerkv"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	globalFlags := flag.NewFlagSet("ledgerkv", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	dir := globalFlags.String("dir", "", "database directory (required)")
	encrypted := globalFlags.Bool("encrypted", false, "enable per-page encryption")
	rootKeyHex := globalFlags.String("root-key-hex", "", "hex-encoded 16-byte root key, required with --encrypted")

	if err := globalFlags.Parse(args); err != nil {
		return err
	}

	rest := globalFlags.Args()
	if len(rest) == 0 {
		fmt.Println(usage())
		return nil
	}

	if *dir == "" {
		return fmt.Errorf("--dir is required\n%s", usage())
	}

	db, err := ledgerkv.Open(ledgerkv.Config{
		Dir:        *dir,
		Encrypted:  *encrypted,
		RootKeyHex: *rootKeyHex,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", *dir, err)
	}
	defer db.Close()

	switch rest[0] {
	case "create-index":
		return cmdCreateIndex(db, rest[1:])
	case "put":
		return cmdPut(db, rest[1:])
	case "get":
		return cmdGet(db, rest[1:])
	case "delete":
		return cmdDelete(db, rest[1:])
	case "list":
		return cmdList(db, rest[1:])
	case "checkpoint":
		return db.Checkpoint()
	case "repl":
		return (&repl{db: db}).run()
	case "help", "-h", "--help":
		fmt.Println(usage())
		return nil
	default:
		return fmt.Errorf("unknown command: %s\n%s", rest[0], usage())
	}
}

func usage() string {
	return `ledgerkv - embedded ordered key-value store CLI

Commands:
  create-index <name>              Create a named index
  put <index> <key> <value>        Store a value under key
  get <index> <key>                Read a value
  delete <index> <key>             Remove a value
  list <index>                     List every key in an index
  checkpoint                       Flush dirty pages and the catalog snapshot
  repl                             Start an interactive session

Global flags:
  --dir <path>            database directory (required)
  --encrypted             enable per-page encryption
  --root-key-hex <hex>    16-byte root key, required with --encrypted`
}

func resolveIndex(db *ledgerkv.Database, s string) (*ledgerkv.Index, error) {
	if id, err := strconv.ParseUint(s, 10, 64); err == nil {
		if idx, ok := db.IndexByID(id); ok {
			return idx, nil
		}
	}

	if idx, ok := db.IndexByName([]byte(s)); ok {
		return idx, nil
	}

	return nil, fmt.Errorf("no such index: %s", s)
}

func cmdCreateIndex(db *ledgerkv.Database, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: ledgerkv create-index <name>")
	}

	idx, err := db.CreateIndex(args[0])
	if err != nil {
		return err
	}

	fmt.Println(idx.ID())

	return nil
}

func cmdPut(db *ledgerkv.Database, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: ledgerkv put <index> <key> <value>")
	}

	idx, err := resolveIndex(db, args[0])
	if err != nil {
		return err
	}

	return db.Put(idx.ID(), []byte(args[1]), []byte(args[2]))
}

func cmdGet(db *ledgerkv.Database, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: ledgerkv get <index> <key>")
	}

	idx, err := resolveIndex(db, args[0])
	if err != nil {
		return err
	}

	value, err := db.Get(idx.ID(), []byte(args[1]))
	if err != nil {
		return err
	}

	fmt.Println(string(value))

	return nil
}

func cmdDelete(db *ledgerkv.Database, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: ledgerkv delete <index> <key>")
	}

	idx, err := resolveIndex(db, args[0])
	if err != nil {
		return err
	}

	return db.Delete(idx.ID(), []byte(args[1]))
}

func cmdList(db *ledgerkv.Database, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: ledgerkv list <index>")
	}

	idx, err := resolveIndex(db, args[0])
	if err != nil {
		return err
	}

	cur := idx.Cursor()
	for cur.Valid() {
		fmt.Printf("%s\t%s\n", cur.Key(), cur.Value())

		if err := cur.Next(); err != nil {
			return err
		}
	}

	return nil
}

// repl is the interactive command loop: a liner.State for readline-style
// input and history, a
// completer over the known verbs, one line parsed into a verb and its
// arguments per iteration.
type repl struct {
	db    *ledgerkv.Database
	liner *liner.State
}

func replHistoryFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".ledgerkv_history")
}

func (r *repl) run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(replHistoryFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Println("ledgerkv - interactive session. Type 'help' for commands, 'quit' to exit.")

	for {
		line, err := r.liner.Prompt("ledgerkv> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nbye")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd, args := strings.ToLower(parts[0]), parts[1:]

		if cmd == "quit" || cmd == "exit" {
			break
		}

		if err := r.dispatch(cmd, args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}

	if f, err := os.Create(replHistoryFile()); err == nil {
		r.liner.WriteHistory(f)
		f.Close()
	}

	return nil
}

func (r *repl) dispatch(cmd string, args []string) error {
	switch cmd {
	case "create-index":
		return cmdCreateIndex(r.db, args)
	case "put":
		return cmdPut(r.db, args)
	case "get":
		return cmdGet(r.db, args)
	case "delete":
		return cmdDelete(r.db, args)
	case "list":
		return cmdList(r.db, args)
	case "checkpoint":
		return r.db.Checkpoint()
	case "help":
		fmt.Println(usage())

		return nil
	default:
		return fmt.Errorf("unknown command: %s (type 'help')", cmd)
	}
}

func (r *repl) completer(line string) []string {
	commands := []string{"create-index", "put", "get", "delete", "list", "checkpoint", "help", "quit"}

	var matches []string

	for _, c := range commands {
		if strings.HasPrefix(c, line) {
			matches = append(matches, c)
		}
	}

	return matches
}
