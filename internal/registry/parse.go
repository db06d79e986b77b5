package registry

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/k3a/html2text"

	"github.com/lox/sanitrack/internal/models"
	"github.com/lox/sanitrack/internal/proximity"
)

// Record is one facility row from the registry.
type Record struct {
	Ref         string
	Name        string
	Address     string
	Latitude    float64
	Longitude   float64
	Operational bool
}

var requiredColumns = []string{"ref", "name", "lat", "lng"}

var columnAliases = map[string]string{
	"id":          "ref",
	"facility_id": "ref",
	"latitude":    "lat",
	"longitude":   "lng",
	"lon":         "lng",
	"status":      "operational",
	"open":        "operational",
}

// Parse reads a registry CSV with a header row. Bad rows are reported in the
// returned error slice and skipped; a missing header column fails the whole
// file.
func Parse(data []byte) ([]Record, []error, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil, errors.New("registry file is empty")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int)
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if alias, ok := columnAliases[name]; ok {
			name = alias
		}
		cols[name] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, nil, fmt.Errorf("registry header missing %q column", c)
		}
	}

	var records []Record
	var rowErrs []error
	line := 1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("line %d: %w", line, err))
			continue
		}

		rec, err := parseRow(row, cols)
		if err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		records = append(records, rec)
	}
	return records, rowErrs, nil
}

func parseRow(row []string, cols map[string]int) (Record, error) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	rec := Record{
		Ref:         get("ref"),
		Name:        cleanText(get("name")),
		Address:     cleanText(get("address")),
		Operational: true,
	}
	if rec.Ref == "" || rec.Name == "" {
		return rec, errors.New("ref and name required")
	}

	var err error
	if rec.Latitude, err = strconv.ParseFloat(get("lat"), 64); err != nil {
		return rec, fmt.Errorf("lat: %w", err)
	}
	if rec.Longitude, err = strconv.ParseFloat(get("lng"), 64); err != nil {
		return rec, fmt.Errorf("lng: %w", err)
	}
	if !proximity.ValidCoordinate(models.Coordinate{Lat: rec.Latitude, Lng: rec.Longitude}) {
		return rec, fmt.Errorf("coordinate out of range: %v,%v", rec.Latitude, rec.Longitude)
	}

	switch strings.ToLower(get("operational")) {
	case "", "1", "true", "yes", "open":
	case "0", "false", "no", "closed":
		rec.Operational = false
	default:
		return rec, fmt.Errorf("operational: unrecognised value %q", get("operational"))
	}
	return rec, nil
}

// cleanText strips markup and entities that portal exports leave in free-text
// columns.
func cleanText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	return strings.TrimSpace(html2text.HTML2Text(s))
}
