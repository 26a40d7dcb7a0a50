package service

import (
	"bytes"
	"encoding/csv"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	_ "golang.org/x/image/webp"

	"github.com/timmy/dataexec/internal/domain"
)

// File types reported by analysis.
const (
	FileTypeCSV     = "csv"
	FileTypeParquet = "parquet"
	FileTypeExcel   = "excel"
	FileTypeJSON    = "json"
	FileTypeImage   = "image"
	FileTypeTable   = "table"
	FileTypeUnknown = "unknown"
)

const maxSampleValues = 5

var extensionTypes = map[string]string{
	".csv":     FileTypeCSV,
	".tsv":     FileTypeCSV,
	".parquet": FileTypeParquet,
	".xlsx":    FileTypeExcel,
	".xls":     FileTypeExcel,
	".json":    FileTypeJSON,
	".jsonl":   FileTypeJSON,
	".ndjson":  FileTypeJSON,
	".png":     FileTypeImage,
	".jpg":     FileTypeImage,
	".jpeg":    FileTypeImage,
	".gif":     FileTypeImage,
	".webp":    FileTypeImage,
}

// fileTypeByName classifies an entry by its extension.
func fileTypeByName(name string) string {
	base, _, _ := strings.Cut(name, "?")
	if t, ok := extensionTypes[strings.ToLower(path.Ext(base))]; ok {
		return t
	}
	return FileTypeUnknown
}

// sniffFileType classifies a sample whose name carries no known extension.
func sniffFileType(sample []byte) string {
	trimmed := bytes.TrimSpace(sample)
	if len(trimmed) == 0 {
		return FileTypeUnknown
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(sample)); err == nil {
		return FileTypeImage
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return FileTypeJSON
	}
	if bytes.HasPrefix(sample, []byte("PAR1")) {
		return FileTypeParquet
	}
	if bytes.HasPrefix(sample, []byte("PK")) && isWorkbook(sample) {
		return FileTypeExcel
	}
	if utf8.Valid(trimmed) && bytes.ContainsAny(firstLine(trimmed), ",\t") {
		return FileTypeCSV
	}
	return FileTypeUnknown
}

func firstLine(b []byte) []byte {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return b[:i]
	}
	return b
}

// imageInfo returns the dimensions and format of an image sample.
func imageInfo(sample []byte) (domain.JSONMap, bool) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(sample))
	if err != nil {
		return nil, false
	}
	return domain.JSONMap{"width": cfg.Width, "height": cfg.Height, "format": format}, true
}

// tabularSample is the column analysis of a delimited text sample.
type tabularSample struct {
	Columns []interface{}
	Rows    int
}

// analyzeDelimited parses a CSV/TSV sample. When truncated is set the
// trailing partial line is dropped.
func analyzeDelimited(sample []byte, truncated bool) (*tabularSample, bool) {
	if truncated {
		if i := bytes.LastIndexByte(sample, '\n'); i >= 0 {
			sample = sample[:i+1]
		}
	}
	r := csv.NewReader(bytes.NewReader(sample))
	if bytes.Count(firstLine(sample), []byte("\t")) > bytes.Count(firstLine(sample), []byte(",")) {
		r.Comma = '\t'
	}
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = false

	header, err := r.Read()
	if err != nil || len(header) == 0 {
		return nil, false
	}
	var rows [][]string
	for {
		rec, err := r.Read()
		if err != nil {
			// io.EOF or a malformed trailing record
			break
		}
		rows = append(rows, rec)
	}
	return analyzeRecords(header, rows), true
}

func isWorkbook(sample []byte) bool {
	f, err := excelize.OpenReader(bytes.NewReader(sample))
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// analyzeWorkbook analyses the first sheet of an xlsx sample and returns
// the sheet names. A truncated workbook cannot be opened.
func analyzeWorkbook(sample []byte) (*tabularSample, []string, bool) {
	f, err := excelize.OpenReader(bytes.NewReader(sample))
	if err != nil {
		return nil, nil, false
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, false
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil || len(rows) == 0 || len(rows[0]) == 0 {
		return nil, sheets, false
	}
	return analyzeRecords(rows[0], rows[1:]), sheets, true
}

// analyzeRecords infers column types, nullability and sample values.
func analyzeRecords(header []string, rows [][]string) *tabularSample {
	values := make([][]string, len(header))
	nullable := make([]bool, len(header))
	for _, rec := range rows {
		for i := range header {
			if i >= len(rec) || strings.TrimSpace(rec[i]) == "" {
				nullable[i] = true
				continue
			}
			values[i] = append(values[i], rec[i])
		}
	}

	out := &tabularSample{Rows: len(rows)}
	for i, name := range header {
		samples := values[i]
		if len(samples) > maxSampleValues {
			samples = samples[:maxSampleValues]
		}
		out.Columns = append(out.Columns, domain.JSONMap{
			"column_name":   strings.TrimSpace(name),
			"position":      i,
			"data_type":     inferType(values[i]),
			"is_nullable":   nullable[i],
			"sample_values": append([]string(nil), samples...),
		})
	}
	return out
}

// inferType returns the narrowest of integer, float, boolean and string that
// fits every value.
func inferType(values []string) string {
	if len(values) == 0 {
		return "string"
	}
	isInt, isFloat, isBool := true, true, true
	for _, v := range values {
		v = strings.TrimSpace(v)
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			isInt = false
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			isFloat = false
		}
		if _, err := strconv.ParseBool(v); err != nil {
			isBool = false
		}
	}
	switch {
	case isInt:
		return "integer"
	case isFloat:
		return "float"
	case isBool:
		return "boolean"
	default:
		return "string"
	}
}

// preview returns the first n bytes of a sample as valid UTF-8.
func preview(sample []byte, n int) string {
	if len(sample) > n {
		sample = sample[:n]
	}
	return strings.ToValidUTF8(string(sample), "")
}
