package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/sushant-115/gojospatial/core/indexmanager"
	"go.uber.org/zap"
)

// shell runs commands against a managed index and prints results to out.
type shell struct {
	manager *indexmanager.SpatialIndexManager
	logger  *zap.Logger
	out     io.Writer
}

// processCommand handles a single command, either from args or interactive
// mode. It reports whether the shell should exit.
func (s *shell) processCommand(ctx context.Context, args []string) bool {
	if len(args) == 0 {
		return false
	}

	switch command := strings.ToLower(args[0]); command {
	case "insert":
		if len(args) != 6 {
			s.printf("Error: insert requires <id> <minx> <miny> <maxx> <maxy>.\n")
			return false
		}
		entry, err := parseRecord(args[1:])
		if err != nil {
			s.printf("Error: %v\n", err)
			return false
		}
		if s.manager.InsertSpatial(ctx, entry.Envelope, entry.Value) {
			s.printf("OK\n")
		} else {
			s.printf("Rejected: %v is outside %v\n", entry.Envelope, s.manager.Envelope())
		}
	case "remove", "delete":
		if len(args) != 2 {
			s.printf("Error: remove requires <id>.\n")
			return false
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			s.printf("Error: invalid id %q\n", args[1])
			return false
		}
		if s.manager.DeleteSpatial(ctx, id) {
			s.printf("OK\n")
		} else {
			s.printf("Not found: %d\n", id)
		}
	case "query":
		if len(args) != 5 {
			s.printf("Error: query requires <minx> <miny> <maxx> <maxy>.\n")
			return false
		}
		env, err := parseEnvelope(args[1:])
		if err != nil {
			s.printf("Error: %v\n", err)
			return false
		}
		ids := s.manager.QuerySpatial(ctx, env)
		slices.Sort(ids)
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = strconv.FormatInt(id, 10)
		}
		s.printf("%d result(s): [%s]\n", len(ids), strings.Join(parts, " "))
	case "bulk":
		if len(args) != 2 {
			s.printf("Error: bulk requires <file.csv>.\n")
			return false
		}
		entries, err := readEntriesFile(args[1])
		if err != nil {
			s.printf("Error: %v\n", err)
			return false
		}
		stored := s.manager.BulkLoad(ctx, entries)
		s.printf("Loaded %d of %d entries\n", stored, len(entries))
	case "save":
		if len(args) != 2 {
			s.printf("Error: save requires <path>.\n")
			return false
		}
		if err := s.manager.Save(ctx, args[1]); err != nil {
			s.printf("Error: %v\n", err)
			return false
		}
		s.printf("Saved %d entries to %s\n", s.manager.Len(), args[1])
	case "load":
		if len(args) != 2 {
			s.printf("Error: load requires <path>.\n")
			return false
		}
		if err := s.manager.Load(ctx, args[1]); err != nil {
			s.printf("Error: %v\n", err)
			return false
		}
		s.printf("Loaded %d entries from %s\n", s.manager.Len(), args[1])
	case "clear":
		s.manager.Clear(ctx)
		s.printf("OK\n")
	case "stats":
		s.printf("kind=%s entries=%d envelope=%v lsn=%d\n",
			s.manager.Kind(), s.manager.Len(), s.manager.Envelope(), s.manager.GetLatestLSN())
	case "help":
		s.printf("Commands:\n")
		s.printf("  insert <id> <minx> <miny> <maxx> <maxy>\n")
		s.printf("  remove <id>\n")
		s.printf("  query <minx> <miny> <maxx> <maxy>\n")
		s.printf("  bulk <file.csv>   (id,minx,miny,maxx,maxy per line)\n")
		s.printf("  save <path>\n")
		s.printf("  load <path>\n")
		s.printf("  clear\n")
		s.printf("  stats\n")
		s.printf("  help\n")
		s.printf("  exit / quit\n")
	case "exit", "quit":
		return true
	default:
		s.logger.Debug("Unknown command", zap.String("command", command))
		s.printf("Error: Unknown command. Type 'help' for a list of commands.\n")
	}
	return false
}

func (s *shell) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}
