package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sushant-115/gojospatial/core/indexing/spatial"
)

// readEntries parses "id,minx,miny,maxx,maxy" records. Lines starting with
// '#' are comments and a non-numeric first record is taken as a header.
func readEntries(r io.Reader) ([]spatial.Entry[int64], error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = 5
	cr.TrimLeadingSpace = true

	var entries []spatial.Entry[int64]
	for first := true; ; first = false {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read bulk record: %w", err)
		}
		e, err := parseRecord(record)
		if err != nil {
			if first {
				continue
			}
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
}

func parseRecord(record []string) (spatial.Entry[int64], error) {
	id, err := strconv.ParseInt(strings.TrimSpace(record[0]), 10, 64)
	if err != nil {
		return spatial.Entry[int64]{}, fmt.Errorf("invalid id %q: %w", record[0], err)
	}
	env, err := parseEnvelope(record[1:])
	if err != nil {
		return spatial.Entry[int64]{}, err
	}
	return spatial.Entry[int64]{Envelope: env, Value: id}, nil
}

func parseEnvelope(fields []string) (spatial.Envelope, error) {
	if len(fields) != 4 {
		return spatial.Envelope{}, fmt.Errorf("an envelope needs 4 coordinates, got %d", len(fields))
	}
	var c [4]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return spatial.Envelope{}, fmt.Errorf("invalid coordinate %q: %w", f, err)
		}
		c[i] = v
	}
	return spatial.NewEnvelope(c[0], c[1], c[2], c[3]), nil
}

func readEntriesFile(path string) ([]spatial.Entry[int64], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return readEntries(f)
}
