// Package ingest loads external data files into the table store.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/gridmind/gridmind/pkg/domain"
	"github.com/gridmind/gridmind/pkg/store"
)

var identRe = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// SanitizeTableName derives a store-safe table name from a file name:
// extension stripped, non-identifier runs collapsed to underscores, and a
// leading letter guaranteed.
func SanitizeTableName(fileName string) string {
	base := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	name := identRe.ReplaceAllString(base, "_")
	name = strings.Trim(name, "_")
	if name == "" {
		name = "table"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "t_" + name
	}
	return name
}

// LoadCSV reads CSV data from r and registers it as tableName. The first
// record is the header. Cell values are typed per column: a column where
// every non-empty cell parses as an integer becomes INTEGER, as a float
// REAL, otherwise TEXT. Empty cells become NULL.
func LoadCSV(ctx context.Context, ts store.TableStore, r io.Reader, tableName string) (*domain.TableInfo, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	columns := make([]string, len(header))
	for i, col := range header {
		col = strings.TrimSpace(col)
		if col == "" {
			col = fmt.Sprintf("column_%d", i+1)
		}
		columns[i] = col
	}

	var raw [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", len(raw)+2, err)
		}
		raw = append(raw, record)
	}

	kinds := sniffColumnKinds(raw, len(columns))

	rows := make([][]any, len(raw))
	for i, record := range raw {
		row := make([]any, len(columns))
		for j := range columns {
			var cell string
			if j < len(record) {
				cell = strings.TrimSpace(record[j])
			}
			row[j] = convertCell(cell, kinds[j])
		}
		rows[i] = row
	}

	info, err := ts.RegisterTable(ctx, tableName, columns, rows)
	if err != nil {
		return nil, err
	}
	slog.Info("Loaded CSV", "table", tableName, "rows", info.Rows, "columns", info.Columns)
	return info, nil
}

type columnKind int

const (
	kindInt columnKind = iota
	kindFloat
	kindText
)

// sniffColumnKinds inspects every cell so that a single non-numeric value
// demotes the whole column to text.
func sniffColumnKinds(raw [][]string, cols int) []columnKind {
	kinds := make([]columnKind, cols)
	seen := make([]bool, cols)

	for _, record := range raw {
		for j := 0; j < cols && j < len(record); j++ {
			cell := strings.TrimSpace(record[j])
			if cell == "" {
				continue
			}
			k := cellKind(cell)
			if !seen[j] {
				kinds[j] = k
				seen[j] = true
				continue
			}
			switch {
			case k == kindText || kinds[j] == kindText:
				kinds[j] = kindText
			case k == kindFloat || kinds[j] == kindFloat:
				kinds[j] = kindFloat
			}
		}
	}

	for j := range kinds {
		if !seen[j] {
			kinds[j] = kindText
		}
	}
	return kinds
}

func cellKind(cell string) columnKind {
	if _, err := strconv.ParseInt(cell, 10, 64); err == nil {
		return kindInt
	}
	if _, err := strconv.ParseFloat(cell, 64); err == nil {
		return kindFloat
	}
	return kindText
}

func convertCell(cell string, kind columnKind) any {
	if cell == "" {
		return nil
	}
	switch kind {
	case kindInt:
		if v, err := strconv.ParseInt(cell, 10, 64); err == nil {
			return v
		}
	case kindFloat:
		if v, err := strconv.ParseFloat(cell, 64); err == nil {
			return v
		}
	}
	return cell
}
