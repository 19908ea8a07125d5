// Package catalog provides the CSV-backed property catalog injected
// into the chat bot's system prompt.
package catalog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"outreach_backend/platform/logger"
)

// Required headers for a property CSV. Files missing any of these are rejected.
var requiredFields = []string{
	"Nombre",
	"Ubicación Estratégica",
	"Precios",
	"Metrajes",
	"Plusvalia",
}

// Record is one property row from a catalog CSV.
type Record map[string]string

// Catalog holds the parsed property records of every CSV in the data directory.
type Catalog struct {
	dir string
	log *logger.Logger

	mu      sync.RWMutex
	records []Record
}

// New creates a catalog over the given directory and loads it.
func New(dir string, log *logger.Logger) *Catalog {
	c := &Catalog{dir: dir, log: log}
	if err := c.Reload(); err != nil {
		log.Warn("property catalog not loaded", "dir", dir, "error", err)
	}
	return c
}

// Reload re-reads every CSV file in the catalog directory.
func (c *Catalog) Reload() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}

	var records []Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".csv") {
			continue
		}

		file, err := Parse(filepath.Join(c.dir, entry.Name()))
		if err != nil {
			c.log.Warn("skipping catalog file", "file", entry.Name(), "error", err)
			continue
		}
		records = append(records, file...)
	}

	c.mu.Lock()
	c.records = records
	c.mu.Unlock()

	c.log.Info("property catalog loaded", "records", len(records))
	return nil
}

// Parse reads and validates a single property CSV file.
func Parse(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("csv has no data rows")
	}

	header := rows[0]
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	if missing := missingFields(header); len(missing) > 0 {
		return nil, fmt.Errorf("csv missing required fields: %s", strings.Join(missing, ", "))
	}

	records := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(Record, len(header))
		for i, value := range row {
			if i < len(header) {
				rec[header[i]] = strings.TrimSpace(value)
			}
		}
		if rec["Nombre"] == "" {
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

func missingFields(header []string) []string {
	var missing []string
	for _, required := range requiredFields {
		found := false
		for _, h := range header {
			if h == required {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, required)
		}
	}
	return missing
}

// PromptBlock renders the catalog as the system-prompt section the chat
// bot appends when answering property questions. Empty when no data is loaded.
func (c *Catalog) PromptBlock() string {
	c.mu.RLock()
	records := c.records
	c.mu.RUnlock()

	if len(records) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\n*BASE DE DATOS DE TERRENOS DISPONIBLES:*\n")
	for i, rec := range records {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		for _, field := range requiredFields {
			if value := rec[field]; value != "" {
				fmt.Fprintf(&b, "\n%s: %s", field, value)
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("\nUsa esta información cuando el usuario pregunte sobre terrenos, ubicaciones, precios, metrajes o plusvalía.")

	return b.String()
}
