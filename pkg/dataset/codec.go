package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/tidwall/gjson"
)

// Format is a snapshot serialization format.
type Format string

const (
	// FormatAuto infers the format from the snapshot name.
	FormatAuto Format = ""
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat parses a format name. The empty string selects FormatAuto.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatAuto, FormatCSV, FormatJSON:
		return f, nil
	default:
		return FormatAuto, fmt.Errorf("unknown dataset format %q (must be csv or json)", s)
	}
}

type column int

const (
	colTDS column = iota
	colFlow
	colPower
	colCost
	numColumns
)

var columnNames = [numColumns]string{"Permeate_TDS", "Permeate_Flow", "PX_Power_Savings", "Power_Cost_Savings"}

// columnAliases maps normalized header names to row columns. The long names are
// the ones used by the recorded simulation dataset.
var columnAliases = map[string]column{
	"permeate_tds":       colTDS,
	"tds":                colTDS,
	"permeate_flow":      colFlow,
	"flow":               colFlow,
	"px_power_savings":   colPower,
	"power_savings":      colPower,
	"power_cost_savings": colCost,
	"cost_savings":       colCost,
}

func lookupColumn(name string) (column, bool) {
	c, ok := columnAliases[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

func (r *Row) set(c column, v float64) {
	switch c {
	case colTDS:
		r.TDS = v
	case colFlow:
		r.Flow = v
	case colPower:
		r.PowerSavings = v
	case colCost:
		r.CostSavings = v
	}
}

// Decode reads rows in the given format. FormatAuto is not accepted here; use
// DecodeNamed to infer the format from a file or object name.
func Decode(r io.Reader, format Format) ([]Row, error) {
	switch format {
	case FormatCSV:
		return decodeCSV(r)
	case FormatJSON:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read json: %w", err)
		}
		return decodeJSON(data)
	default:
		return nil, fmt.Errorf("cannot decode format %q", format)
	}
}

// DecodeNamed decodes a snapshot whose name carries its format, e.g.
// "hybrid_dataset.csv" or "hybrid_dataset.json.zst". A non-auto format
// overrides the extension; compression is still taken from the name.
func DecodeNamed(r io.Reader, name string, format Format) ([]Row, error) {
	r, base, closeFn, err := decompress(r, name)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	if format == FormatAuto {
		format, err = formatFromName(base)
		if err != nil {
			return nil, err
		}
	}

	return Decode(r, format)
}

// decompress wraps r according to a .zst or .lz4 suffix on name and returns
// the name with the suffix removed.
func decompress(r io.Reader, name string) (io.Reader, string, func(), error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zst"):
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, "", nil, fmt.Errorf("zstd reader: %w", err)
		}
		return dec, name[:len(name)-len(".zst")], dec.Close, nil
	case strings.HasSuffix(lower, ".lz4"):
		return lz4.NewReader(r), name[:len(name)-len(".lz4")], func() {}, nil
	default:
		return r, name, func() {}, nil
	}
}

func formatFromName(name string) (Format, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	default:
		return FormatAuto, fmt.Errorf("cannot infer dataset format from %q", name)
	}
}

func decodeCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csv is empty or missing header")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	index := [numColumns]int{-1, -1, -1, -1}
	for i, name := range header {
		if c, ok := lookupColumn(name); ok && index[c] < 0 {
			index[c] = i
		}
	}
	for c, i := range index {
		if i < 0 {
			return nil, fmt.Errorf("csv header missing column %s", columnNames[c])
		}
	}

	var rows []Row
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}

		var row Row
		for c, i := range index {
			if i >= len(record) {
				return nil, fmt.Errorf("csv line %d: missing %s", line, columnNames[c])
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
			if err != nil {
				return nil, fmt.Errorf("csv line %d: invalid %s: %w", line, columnNames[c], err)
			}
			row.set(column(c), v)
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// decodeJSON accepts an array of row objects, an object of column arrays, or
// an object of column maps keyed by row index.
func decodeJSON(data []byte) ([]Row, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid json")
	}

	doc := gjson.ParseBytes(data)
	switch {
	case doc.IsArray():
		return decodeJSONRecords(doc)
	case doc.IsObject():
		return decodeJSONColumns(doc)
	default:
		return nil, errors.New("json snapshot must be an array or an object")
	}
}

func decodeJSONRecords(doc gjson.Result) ([]Row, error) {
	records := doc.Array()
	rows := make([]Row, 0, len(records))

	for i, rec := range records {
		if !rec.IsObject() {
			return nil, fmt.Errorf("record %d: not an object", i)
		}

		var row Row
		var seen [numColumns]bool
		var convErr error
		rec.ForEach(func(key, value gjson.Result) bool {
			c, ok := lookupColumn(key.String())
			if !ok || seen[c] {
				return true
			}
			v, err := jsonFloat(value)
			if err != nil {
				convErr = fmt.Errorf("record %d: %s: %w", i, key.String(), err)
				return false
			}
			row.set(c, v)
			seen[c] = true
			return true
		})
		if convErr != nil {
			return nil, convErr
		}
		for c, ok := range seen {
			if !ok {
				return nil, fmt.Errorf("record %d: missing %s", i, columnNames[c])
			}
		}
		rows = append(rows, row)
	}

	return rows, nil
}

func decodeJSONColumns(doc gjson.Result) ([]Row, error) {
	var cols [numColumns]gjson.Result
	doc.ForEach(func(key, value gjson.Result) bool {
		if c, ok := lookupColumn(key.String()); ok && !cols[c].Exists() {
			cols[c] = value
		}
		return true
	})

	var values [numColumns][]gjson.Result
	var keys [numColumns][]int
	for c, col := range cols {
		switch {
		case !col.Exists():
			return nil, fmt.Errorf("json snapshot missing column %s", columnNames[c])
		case col.IsArray():
			values[c] = col.Array()
			keys[c] = positions(len(values[c]))
		case col.IsObject():
			k, v, err := indexedValues(col)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", columnNames[c], err)
			}
			keys[c], values[c] = k, v
		default:
			return nil, fmt.Errorf("column %s: must be an array or an object", columnNames[c])
		}
	}

	n := len(values[colTDS])
	for c := range values {
		if len(values[c]) != n {
			return nil, fmt.Errorf("column %s has %d values, want %d", columnNames[c], len(values[c]), n)
		}
		// Rows are joined on the index, so every column must carry the same one.
		if !slices.Equal(keys[c], keys[colTDS]) {
			return nil, fmt.Errorf("column %s row index does not match column %s", columnNames[c], columnNames[colTDS])
		}
	}

	rows := make([]Row, n)
	for c := range values {
		for i, value := range values[c] {
			v, err := jsonFloat(value)
			if err != nil {
				return nil, fmt.Errorf("column %s row %d: %w", columnNames[c], i, err)
			}
			rows[i].set(column(c), v)
		}
	}

	return rows, nil
}

// indexedValues orders the entries of {"0": v0, "1": v1, ...} by their numeric
// key and returns the sorted keys alongside the values.
func indexedValues(obj gjson.Result) ([]int, []gjson.Result, error) {
	type entry struct {
		index int
		value gjson.Result
	}

	var entries []entry
	var keyErr error
	obj.ForEach(func(key, value gjson.Result) bool {
		idx, err := strconv.Atoi(key.String())
		if err != nil {
			keyErr = fmt.Errorf("invalid row index %q", key.String())
			return false
		}
		entries = append(entries, entry{index: idx, value: value})
		return true
	})
	if keyErr != nil {
		return nil, nil, keyErr
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].index < entries[j].index })

	keys := make([]int, len(entries))
	values := make([]gjson.Result, len(entries))
	for i, e := range entries {
		if i > 0 && e.index == entries[i-1].index {
			return nil, nil, fmt.Errorf("duplicate row index %d", e.index)
		}
		keys[i] = e.index
		values[i] = e.value
	}
	return keys, values, nil
}

func positions(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// jsonFloat accepts JSON numbers and numeric strings.
func jsonFloat(v gjson.Result) (float64, error) {
	switch v.Type {
	case gjson.Number:
		return v.Float(), nil
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", v.Str)
		}
		return f, nil
	case gjson.Null:
		return 0, errors.New("null value")
	default:
		return 0, fmt.Errorf("not a number: %s", v.Raw)
	}
}

func stripCompression(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range []string{".zst", ".lz4"} {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}
