// Command kvctl is a small interactive and single-shot CLI over the four
// storage engines in this module, selected by -engine. Grounded on
// gtarraga-kv-store's own root main.go (flag-selected engine registry,
// REPL loop, executeCommand switch) — kept on the standard library's
// flag package rather than picking up a CLI framework, since spec.md
// explicitly scopes a full command-line surface out of this project.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"logkv/kvstore"
	"logkv/logengine"
	"logkv/sstengine"
)

const defaultEngine = "segmented"

func openEngine(name, root string) (kvstore.Engine, error) {
	switch name {
	case "log":
		return logengine.NewLogDb(filepath.Join(root, "log.txt")), nil
	case "indexed":
		return logengine.OpenLogWithIndexDb(filepath.Join(root, "log.txt"))
	case "segmented":
		return logengine.OpenSegmentedLogDb(filepath.Join(root, "segments"))
	case "sst":
		return sstengine.Open(filepath.Join(root, "sst"))
	default:
		return nil, fmt.Errorf("unknown engine %q (available: log, indexed, segmented, sst)", name)
	}
}

func main() {
	engineName := flag.String("engine", defaultEngine, "storage engine to use (log, indexed, segmented, sst)")
	dir := flag.String("dir", "./kvdata", "directory to store data under")
	flag.Parse()

	if err := os.MkdirAll(*dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	db, err := openEngine(*engineName, *dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	args := flag.Args()
	if len(args) == 0 {
		runInteractive(db, *engineName)
		return
	}

	if err := executeCommand(db, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func executeCommand(db kvstore.Engine, args []string) error {
	command := strings.ToLower(args[0])

	switch command {
	case "set", "add":
		if len(args) != 3 {
			return fmt.Errorf("usage: set <key> <value>")
		}
		return db.Set(args[1], args[2])

	case "get", "search":
		if len(args) != 2 {
			return fmt.Errorf("usage: get <key>")
		}
		value, ok, err := db.Get(args[1])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("(absent)")
			return nil
		}
		fmt.Println(value)
		return nil

	case "delete", "del", "d":
		if len(args) != 2 {
			return fmt.Errorf("usage: delete <key>")
		}
		return db.Delete(args[1])

	default:
		return fmt.Errorf("unknown command %q (available: set, get, delete)", command)
	}
}

func runInteractive(db kvstore.Engine, engineName string) {
	fmt.Printf("%s — interactive mode\n", db.Description())
	fmt.Println("Commands: set <key> <value> | get <key> | delete <key> | exit | help")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("kv> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		args := strings.Fields(line)

		switch strings.ToLower(args[0]) {
		case "exit", "quit":
			return
		case "help":
			printHelp()
			continue
		case "engine":
			fmt.Printf("Using engine: %s\n", engineName)
			continue
		}

		if err := executeCommand(db, args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
	}
}

func printHelp() {
	fmt.Println("Available commands:")
	fmt.Println("  set <key> <value>   - store a value under key")
	fmt.Println("  get <key>           - fetch the value stored under key")
	fmt.Println("  delete <key>        - remove key")
	fmt.Println("  engine              - show the active engine")
	fmt.Println("  help                - show this help message")
	fmt.Println("  exit                - exit interactive mode")
}
