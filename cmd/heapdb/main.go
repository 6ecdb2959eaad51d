package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/chzyer/readline"
	"github.com/kballard/go-shellquote"

	"github.com/KevoDB/heapdb/pkg/common/log"
	"github.com/KevoDB/heapdb/pkg/config"
	"github.com/KevoDB/heapdb/pkg/telemetry"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".create"),
	readline.PcItem(".open"),
	readline.PcItem(".close"),
	readline.PcItem(".exit"),
	readline.PcItem(".schema"),
	readline.PcItem(".stats"),
	readline.PcItem(".dump"),
	readline.PcItem(".backup"),
	readline.PcItem(".restore"),
	readline.PcItem("INSERT"),
	readline.PcItem("DELETE"),
	readline.PcItem("GET"),
	readline.PcItem("FIND"),
	readline.PcItem("RANGE"),
	readline.PcItem("SCAN"),
	readline.PcItem("COUNT"),
	readline.PcItem("INDEX",
		readline.PcItem("ORDERED"),
		readline.PcItem("HASH"),
	),
	readline.PcItem("DROPINDEX"),
	readline.PcItem("INDEXES"),
)

const helpText = `
heapdb - A single-file heap store of fixed-size records.

Usage:
  heapdb [options] [store_path]  - Start with an optional store to open

Options:
  -config string          - Path to a JSON configuration file
  -create string          - Create store_path with this schema, e.g. "id:int name:string(10)"

Commands:
  .help                   - Show this help message
  .create PATH FIELD...   - Create a store; fields are name:type, the first is the int key
                            types: int, string(N)
  .open PATH [BLOCKSIZE]  - Open an existing store
  .close                  - Close the current store
  .exit                   - Exit the program
  .schema                 - Show the schema and block layout
  .stats                  - Show store statistics
  .dump                   - Show block and record bitmaps with their records
  .backup FILE [CODEC]    - Write a snapshot (codec: none, zstd, snappy)
  .restore FILE PATH      - Restore a snapshot to PATH and open it

  INSERT v1 v2 ...        - Insert a record, one value per field (quote strings with spaces)
  DELETE key              - Delete the record with key
  GET key                 - Look up the record with key
  FIND field value        - Find records whose int field equals value
  RANGE field lo hi       - Find records whose int field lies in [lo, hi]
  SCAN [limit]            - List records in block order
  COUNT                   - Count live records
  INDEX ORDERED|HASH f    - Build an index on int field f
  DROPINDEX f             - Drop the index on field f
  INDEXES                 - List indexes
`

func main() {
	configPath := flag.String("config", "", "Path to a JSON configuration file")
	createSchema := flag.String("create", "", "Create the store with this schema instead of opening it")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "heapdb - A single-file heap store of fixed-size records\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: heapdb [options] [store_path]\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "\nFor more details, start heapdb and type .help\n")
	}
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %s\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	log.SetDefaultLogger(logger)

	telCfg := telemetry.DefaultConfig()
	telCfg.LoadFromEnv()
	tel, err := telemetry.New(telCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting telemetry: %s\n", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error shutting down telemetry: %s\n", err)
		}
	}()

	sh := newShell(cfg, tel, logger, os.Stdout)
	if flag.NArg() > 0 {
		cmd := shellquote.Join(".open", flag.Arg(0))
		if *createSchema != "" {
			cmd = shellquote.Join(".create", flag.Arg(0)) + " " + *createSchema
		}
		sh.execute(cmd)
	}

	runInteractive(sh, cfg)
}

// loadConfig reads path if given, then applies HEAPDB_* environment overrides
func loadConfig(path string) (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *log.StandardLogger {
	var levelName string
	cfg.View(func(c *config.Config) { levelName = c.LogLevel })
	level, err := log.ParseLevel(levelName)
	if err != nil {
		level = log.LevelInfo
	}
	return log.NewStandardLogger(log.WithLevel(level), log.WithOutput(os.Stderr))
}

// runInteractive reads commands until .exit or end of input
func runInteractive(sh *shell, cfg *config.Config) {
	fmt.Println("heapdb version 1.0.0")
	fmt.Println("Enter .help for usage hints.")

	var historyFile string
	cfg.View(func(c *config.Config) { historyFile = c.HistoryFile })

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          sh.prompt(),
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %s\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		rl.SetPrompt(sh.prompt())

		line, readErr := rl.Readline()
		if readErr != nil {
			if errors.Is(readErr, readline.ErrInterrupt) {
				if len(line) == 0 {
					break
				}
				continue
			} else if errors.Is(readErr, io.EOF) {
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", readErr)
			continue
		}

		if sh.execute(line) {
			return
		}
	}

	// end of input closes the store like .exit
	sh.execute(".exit")
}
