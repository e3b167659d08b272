package corpus

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

const parallelism = 4

var (
	textColumns   = []string{"review_body", "text"}
	ratingColumns = []RatingField{FieldStars, FieldLabel}
)

// ParquetReader streams rows out of a flat parquet file column by column.
type ParquetReader struct {
	file source.ParquetFile
	pr   *reader.ParquetReader

	textField   string
	ratingField RatingField
	textIdx     int64
	ratingIdx   int64
	extras      []string
	extraIdx    []int64

	total int64
	read  int64
}

func OpenParquet(path string) (*ParquetReader, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file %s: %w", path, err)
	}

	r, err := NewParquetReader(fr)
	if err != nil {
		fr.Close()
		return nil, fmt.Errorf("failed to read parquet file %s: %w", path, err)
	}

	return r, nil
}

func NewParquetReader(file source.ParquetFile) (*ParquetReader, error) {
	pr, err := reader.NewParquetColumnReader(file, parallelism)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet column reader: %w", err)
	}

	r := &ParquetReader{
		file:      file,
		pr:        pr,
		textIdx:   -1,
		ratingIdx: -1,
		total:     pr.GetNumRows(),
	}

	var leaves []string
	for i, el := range pr.SchemaHandler.SchemaElements {
		if i == 0 || el.GetNumChildren() > 0 {
			continue
		}
		leaves = append(leaves, pr.SchemaHandler.Infos[i].ExName)
	}

	index := make(map[string]int64, len(leaves))
	for i, name := range leaves {
		index[name] = int64(i)
	}

	for _, name := range textColumns {
		if idx, ok := index[name]; ok {
			r.textField, r.textIdx = name, idx
			break
		}
	}
	if r.textIdx < 0 {
		pr.ReadStop()
		return nil, ErrMissingTextField
	}

	for _, field := range ratingColumns {
		if idx, ok := index[string(field)]; ok {
			r.ratingField, r.ratingIdx = field, idx
			break
		}
	}

	for i, name := range leaves {
		if int64(i) == r.textIdx || int64(i) == r.ratingIdx {
			continue
		}
		r.extras = append(r.extras, name)
		r.extraIdx = append(r.extraIdx, int64(i))
	}

	return r, nil
}

func (r *ParquetReader) NumRows() int64 { return r.total }

func (r *ParquetReader) TextField() string { return r.textField }

// RatingField is empty when the file carries neither stars nor label.
func (r *ParquetReader) RatingField() RatingField { return r.ratingField }

func (r *ParquetReader) Columns() []string { return append([]string(nil), r.extras...) }

// ReadBatch returns up to n rows. It returns io.EOF once every row was read.
func (r *ParquetReader) ReadBatch(n int) ([]Row, error) {
	remaining := r.total - r.read
	if remaining <= 0 {
		return nil, io.EOF
	}
	num := min(int64(n), remaining)

	texts, _, _, err := r.pr.ReadColumnByIndex(r.textIdx, num)
	if err != nil {
		return nil, fmt.Errorf("failed to read column %s: %w", r.textField, err)
	}

	var ratings []any
	if r.ratingIdx >= 0 {
		ratings, _, _, err = r.pr.ReadColumnByIndex(r.ratingIdx, num)
		if err != nil {
			return nil, fmt.Errorf("failed to read column %s: %w", r.ratingField, err)
		}
	}

	extras := make([][]any, len(r.extraIdx))
	for i, idx := range r.extraIdx {
		extras[i], _, _, err = r.pr.ReadColumnByIndex(idx, num)
		if err != nil {
			return nil, fmt.Errorf("failed to read column %s: %w", r.extras[i], err)
		}
	}

	rows := make([]Row, len(texts))
	for i, v := range texts {
		rows[i].Text = toString(v)
		if ratings != nil && i < len(ratings) {
			rating, err := toInt(ratings[i])
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid %s value: %w", r.read+int64(i), r.ratingField, err)
			}
			rows[i].Rating = rating
		}
		if len(extras) > 0 {
			rows[i].Extra = make(map[string]any, len(extras))
			for j, col := range extras {
				if i < len(col) && col[i] != nil {
					rows[i].Extra[r.extras[j]] = col[i]
				}
			}
		}
	}

	r.read += int64(len(rows))
	return rows, nil
}

func (r *ParquetReader) Close() error {
	r.pr.ReadStop()
	return r.file.Close()
}

// ReadParquet loads a whole parquet file into memory.
func ReadParquet(path, language string) (*Dataset, error) {
	r, err := OpenParquet(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return readAll(r, language)
}

func readAll(r *ParquetReader, language string) (*Dataset, error) {
	ds := &Dataset{
		Language:    language,
		TextField:   r.TextField(),
		RatingField: r.RatingField(),
		Columns:     r.Columns(),
		Rows:        make([]Row, 0, r.NumRows()),
	}

	for {
		rows, err := r.ReadBatch(4096)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		ds.Rows = append(ds.Rows, rows...)
	}

	return ds, nil
}

// WriteParquet writes ds to path as a snappy-compressed parquet file.
func WriteParquet(path string, ds *Dataset) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file %s: %w", path, err)
	}

	if err := encode(fw, ds); err != nil {
		fw.Close()
		return fmt.Errorf("failed to write parquet file %s: %w", path, err)
	}

	return fw.Close()
}

func encode(file source.ParquetFile, ds *Dataset) error {
	pw, err := writer.NewJSONWriter(schemaJSON(ds), file, parallelism)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	return writeRows(pw, ds)
}

func writeRows(pw *writer.JSONWriter, ds *Dataset) error {
	ratingField := ds.RatingField
	if ratingField == "" {
		ratingField = FieldStars
	}

	for i, row := range ds.Rows {
		rec := make(map[string]any, len(row.Extra)+2)
		for k, v := range row.Extra {
			rec[k] = v
		}
		rec[textFieldName(ds)] = row.Text
		rec[string(ratingField)] = row.Rating

		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal row %d: %w", i, err)
		}
		if err := pw.Write(string(b)); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return nil
}

func textFieldName(ds *Dataset) string {
	if ds.TextField == "" {
		return "text"
	}
	return ds.TextField
}

type schemaField struct {
	Tag string `json:"Tag"`
}

type schemaRoot struct {
	Tag    string        `json:"Tag"`
	Fields []schemaField `json:"Fields"`
}

func schemaJSON(ds *Dataset) string {
	ratingField := ds.RatingField
	if ratingField == "" {
		ratingField = FieldStars
	}

	root := schemaRoot{
		Tag: "name=parquet_go_root, repetitiontype=REQUIRED",
		Fields: []schemaField{
			{Tag: fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", textFieldName(ds))},
			{Tag: fmt.Sprintf("name=%s, type=INT64, repetitiontype=OPTIONAL", ratingField)},
		},
	}

	for _, col := range ds.Columns {
		if typ := columnType(ds, col); typ != "" {
			root.Fields = append(root.Fields, schemaField{
				Tag: fmt.Sprintf("name=%s, %s, repetitiontype=OPTIONAL", col, typ),
			})
		}
	}

	b, _ := json.Marshal(root)
	return string(b)
}

// columnType infers the parquet type of an extra column from its first
// non-nil value. Columns with unsupported values are dropped.
func columnType(ds *Dataset, col string) string {
	for _, row := range ds.Rows {
		switch row.Extra[col].(type) {
		case nil:
			continue
		case string:
			return "type=BYTE_ARRAY, convertedtype=UTF8"
		case bool:
			return "type=BOOLEAN"
		case int32:
			return "type=INT32"
		case int, int64:
			return "type=INT64"
		case float32:
			return "type=FLOAT"
		case float64:
			return "type=DOUBLE"
		default:
			return ""
		}
	}
	return ""
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func toInt(v any) (int, error) {
	switch x := v.(type) {
	case int32:
		return int(x), nil
	case int64:
		return int(x), nil
	case int:
		return x, nil
	case float32:
		return floatToInt(float64(x))
	case float64:
		return floatToInt(x)
	case string:
		return strconv.Atoi(strings.TrimSpace(x))
	case nil:
		return 0, errors.New("null rating")
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func floatToInt(f float64) (int, error) {
	if math.IsNaN(f) || f != math.Trunc(f) {
		return 0, fmt.Errorf("non-integral rating %v", f)
	}
	return int(f), nil
}
