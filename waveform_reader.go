package waveviewer

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Text input for `waveviewer plot` goes through a StringReader, which splits
// it into rows of fields, and then a WaveformReader, which turns all the
// rows into one Line.

var errIgnoreThisRow = errors.New("ignore this row")

// When Read is called, return an array of strings which are the columns.
// Comment lines starting with '#' are skipped.
type StringReader interface {
	Read(context.Context) ([]string, error)
}

// CsvStringReader reads input that strictly conforms to CSV. For data
// separated by spaces or tabs use the RelaxedStringReader.
type CsvStringReader struct {
	csvReader *csv.Reader

	lineCount int
}

func NewCsvStringReader(input io.Reader) *CsvStringReader {
	csvReader := csv.NewReader(input)
	csvReader.Comment = '#'
	csvReader.TrimLeadingSpace = true

	return &CsvStringReader{
		csvReader: csvReader,
	}
}

func (r *CsvStringReader) Read(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	line, err := r.csvReader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}

	r.lineCount++

	if err != nil {
		logger := logrus.WithFields(logrus.Fields{
			"tag":     "CsvString",
			"line":    line,
			"lineNum": r.lineCount,
		})

		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			logger.WithError(err).Warn("unable to parse CSV, ignoring...")
			return nil, errIgnoreThisRow
		}

		logger.WithError(err).Error("unable to read CSV")
		return nil, err
	}

	return line, nil
}

// RelaxedStringReader splits on commas or any run of spaces and tabs. It
// does not follow CSV quoting. This is the default.
type RelaxedStringReader struct {
	scanner *bufio.Scanner

	lineCount int
}

func NewRelaxedStringReader(input io.Reader) *RelaxedStringReader {
	return &RelaxedStringReader{
		scanner: bufio.NewScanner(input),
	}
}

// Split on either comma or any number of spaces or tabs
var relaxedSplitter = regexp.MustCompile("[ \t]*,[ \t]*|[ \t]+")

func (r *RelaxedStringReader) Read(ctx context.Context) ([]string, error) {
	for r.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		r.lineCount++
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		return relaxedSplitter.Split(line, -1), nil
	}

	if err := r.scanner.Err(); err != nil {
		logrus.WithField("tag", "RelaxedString").WithError(err).Error("unable to read line")
		return nil, err
	}

	return nil, io.EOF
}

// WaveformReader reads every row of Input into a single Line. Each column
// other than the time column becomes one series.
type WaveformReader struct {
	// The input reader object (either CsvStringReader or RelaxedStringReader)
	Input StringReader

	// The time column index. If this is <0, t is generated as
	// row * SamplePeriod.
	TIndex int

	// Spacing of generated t values. Zero means 1.
	SamplePeriod float64

	// Names of the value columns, set from a header row if the first row
	// is not numeric.
	Columns []string
}

// ReadLine consumes Input to the end. Rows that cannot be parsed, or whose
// width differs from the first data row, are logged and skipped.
func (r *WaveformReader) ReadLine(ctx context.Context, name string) (Line, error) {
	logger := logrus.WithFields(logrus.Fields{
		"tag":  "WaveformReader",
		"name": name,
	})

	line := Line{Name: name}
	width := -1
	rows := 0

	for {
		fields, err := r.Input.Read(ctx)
		if err == io.EOF {
			break
		}
		if err == errIgnoreThisRow {
			continue
		}
		if err != nil {
			return Line{}, err
		}

		rows++
		t, ys, err := r.parseRow(fields, len(line.T))
		if err == errIgnoreThisRow {
			if rows == 1 && width < 0 {
				r.Columns = r.headerColumns(fields)
				logger.WithField("columns", r.Columns).Debug("using first row as header")
				continue
			}
			logger.WithField("row", fields).Warn("cannot parse float, ignoring...")
			continue
		}

		if width < 0 {
			width = len(ys)
			line.Ys = make([][]float64, width)
		} else if len(ys) != width {
			logger.WithField("row", fields).Warnf("expected %d value columns, got %d, ignoring...", width, len(ys))
			continue
		}

		line.T = append(line.T, t)
		for i, y := range ys {
			line.Ys[i] = append(line.Ys[i], y)
		}
	}

	logger.WithFields(logrus.Fields{
		"samples": len(line.T),
		"series":  len(line.Ys),
	}).Info("read waveform")

	if err := line.Validate(); err != nil {
		return Line{}, err
	}
	return line, nil
}

func (r *WaveformReader) parseRow(fields []string, index int) (float64, []float64, error) {
	var t float64
	ys := make([]float64, 0, len(fields))

	for i, value := range fields {
		floatValue, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || !isFinite(floatValue) {
			return 0, nil, errIgnoreThisRow
		}

		if i == r.TIndex {
			t = floatValue
			continue
		}

		ys = append(ys, floatValue)
	}

	if r.TIndex >= len(fields) {
		return 0, nil, errIgnoreThisRow
	}

	if r.TIndex < 0 {
		period := r.SamplePeriod
		if period == 0 {
			period = 1
		}
		t = float64(index) * period
	}

	return t, ys, nil
}

func (r *WaveformReader) headerColumns(fields []string) []string {
	columns := make([]string, 0, len(fields))
	for i, field := range fields {
		if i == r.TIndex {
			continue
		}
		columns = append(columns, strings.TrimSpace(field))
	}
	return columns
}

func (r *WaveformReader) ColumnNames() []string {
	return r.Columns
}
