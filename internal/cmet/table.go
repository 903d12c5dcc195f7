package cmet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Row is one response record keyed by column name.
type Row map[string]string

// Get returns the trimmed value of column name, or "" when absent.
func (r Row) Get(name string) string {
	return strings.TrimSpace(r[name])
}

// Positional column maps for responses requested without a usable header.
var (
	SensorListColumns = []string{
		"e_cod", "s_cod", "tf_nombre", "um_notacion", "s_altura",
		"s_ultima_lectura", "tm_cod", "s_primera_lectura", "c8", "c9",
	}
	AggregatedSeriesColumns = []string{"s_cod", "ultima_lectura", "min", "prom", "max", "data_pc"}
	RawSeriesColumns        = []string{"s_cod", "datetime", "min", "prom", "max"}
)

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr
}

// parseHeadered reads a CSV body whose first record holds column names.
func parseHeadered(r io.Reader) ([]Row, error) {
	cr := newReader(r)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %w", ErrParse, err)
	}
	for i, name := range header {
		header[i] = strings.TrimSpace(strings.ReplaceAll(name, "#", ""))
	}

	return readRows(cr, header)
}

// parsePositional reads a CSV body, skipping '#' lines and naming columns
// from the fixed map.
func parsePositional(r io.Reader, columns []string) ([]Row, error) {
	cr := newReader(r)
	cr.Comment = '#'
	return readRows(cr, columns)
}

func readRows(cr *csv.Reader, columns []string) ([]Row, error) {
	var rows []Row
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParse, err)
		}
		if isBlank(record) {
			continue
		}

		row := make(Row, len(record))
		for i, v := range record {
			row[columnName(columns, i)] = v
		}
		rows = append(rows, row)
	}
}

// columnName names column i, falling back to "c<i>" past the known map.
func columnName(columns []string, i int) string {
	if i < len(columns) && columns[i] != "" {
		return columns[i]
	}
	return "c" + strconv.Itoa(i)
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
