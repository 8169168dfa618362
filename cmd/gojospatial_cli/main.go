package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/sushant-115/gojospatial/config"
	"github.com/sushant-115/gojospatial/core/indexmanager"
	"github.com/sushant-115/gojospatial/pkg/logger"
	"github.com/sushant-115/gojospatial/pkg/telemetry"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	loadPath := flag.String("load", "", "R-tree file to load at startup")
	csvPath := flag.String("csv", "", "CSV file (id,minx,miny,maxx,maxy) to bulk load at startup")
	flag.Parse()

	if err := run(*configPath, *loadPath, *csvPath, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "gojospatial: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, loadPath, csvPath string, args []string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	index, err := config.NewIndex(cfg.Index, log)
	if err != nil {
		return err
	}
	manager, err := indexmanager.NewSpatialIndexManager(index, log, tel, indexmanager.Options{
		ChunkSize:       cfg.Snapshot.ChunkSize,
		RateBytesPerSec: cfg.Snapshot.RateBytesPerSec,
	})
	if err != nil {
		return err
	}

	ctx := context.Background()
	if loadPath != "" {
		if err := manager.Load(ctx, loadPath); err != nil {
			return err
		}
	}
	if csvPath != "" {
		entries, err := readEntriesFile(csvPath)
		if err != nil {
			return err
		}
		stored := manager.BulkLoad(ctx, entries)
		log.Info("Bulk loaded CSV", zap.String("path", csvPath), zap.Int("stored", stored))
	}

	sh := &shell{manager: manager, logger: log, out: os.Stdout}
	if len(args) > 0 {
		sh.processCommand(ctx, args)
		return nil
	}
	return interactive(ctx, sh, log)
}

func interactive(ctx context.Context, sh *shell, log *zap.Logger) error {
	home, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gojospatial> ",
		HistoryFile:     filepath.Join(home, ".gojospatial_history"),
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to start shell: %w", err)
	}
	defer rl.Close()
	sh.out = rl.Stdout()

	fmt.Fprintf(sh.out, "GojoSpatial CLI (%s index). Type 'help' for commands, 'exit' or 'quit' to leave.\n", sh.manager.Kind())
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				break
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Error("Failed to read input", zap.Error(err))
			return err
		}

		if sh.processCommand(ctx, strings.Fields(line)) {
			break
		}
	}
	fmt.Fprintln(sh.out, "Exiting GojoSpatial CLI.")
	return nil
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("insert"),
		readline.PcItem("remove"),
		readline.PcItem("query"),
		readline.PcItem("bulk"),
		readline.PcItem("save"),
		readline.PcItem("load"),
		readline.PcItem("clear"),
		readline.PcItem("stats"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}
