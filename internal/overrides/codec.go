package overrides

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var csvHeader = []string{"address", "chains", "reason", "added_by", "added_at", "expires_at"}

// ReadJSON decodes a JSON array of entries.
func ReadJSON(r io.Reader) ([]Entry, error) {
	var entries []Entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode override entries: %w", err)
	}
	return entries, nil
}

// WriteJSON encodes entries as an indented JSON array.
func WriteJSON(w io.Writer, entries []Entry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if entries == nil {
		entries = []Entry{}
	}
	return enc.Encode(entries)
}

// ReadCSV decodes rows in csvHeader order. The header row is required; chains are ';'-separated.
func ReadCSV(r io.Reader) ([]Entry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, h := range header {
		columns[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := columns["address"]; !ok {
		return nil, errors.New("csv header must include an address column")
	}

	field := func(row []string, name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var entries []Entry
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		entry := Entry{
			Address: field(row, "address"),
			Reason:  field(row, "reason"),
			AddedBy: field(row, "added_by"),
		}
		if chains := field(row, "chains"); chains != "" {
			entry.Chains = strings.Split(chains, ";")
		}
		if v := field(row, "added_at"); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, fmt.Errorf("csv line %d: invalid added_at: %w", line, err)
			}
			entry.AddedAt = ts
		}
		if v := field(row, "expires_at"); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, fmt.Errorf("csv line %d: invalid expires_at: %w", line, err)
			}
			entry.ExpiresAt = &ts
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// WriteCSV encodes entries with a header row.
func WriteCSV(w io.Writer, entries []Entry) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		expires := ""
		if e.ExpiresAt != nil {
			expires = e.ExpiresAt.UTC().Format(time.RFC3339)
		}
		added := ""
		if !e.AddedAt.IsZero() {
			added = e.AddedAt.UTC().Format(time.RFC3339)
		}
		record := []string{e.Address, strings.Join(e.Chains, ";"), e.Reason, e.AddedBy, added, expires}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadFile picks the codec from the extension: .csv, otherwise JSON.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if isCSV(path) {
		return ReadCSV(f)
	}
	return ReadJSON(f)
}

// WriteFile writes entries to path using the codec implied by the extension.
func WriteFile(path string, entries []Entry) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if isCSV(path) {
		return WriteCSV(f, entries)
	}
	return WriteJSON(f, entries)
}

func isCSV(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".csv")
}
