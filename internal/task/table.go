package task

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"strings"
)

const NameTable = "table"

var ErrEmptyTable = errors.New("table has no rows")

// TableTask replays rows of a numeric dataset, drawing one uniformly per
// sample.
type TableTask struct {
	Source string
	Rows   []Sample
}

func (t TableTask) Name() string { return NameTable }

func (t TableTask) InputSize() int {
	if len(t.Rows) == 0 {
		return 0
	}
	return len(t.Rows[0].Input)
}

func (t TableTask) OutputSize() int {
	if len(t.Rows) == 0 {
		return 0
	}
	return len(t.Rows[0].Target)
}

// BinaryTargets is true when every target in the table is 0 or 1.
func (t TableTask) BinaryTargets() bool {
	if len(t.Rows) == 0 {
		return false
	}
	for _, row := range t.Rows {
		for _, v := range row.Target {
			if v != 0 && v != 1 {
				return false
			}
		}
	}
	return true
}

func (t TableTask) Sample(rng *rand.Rand) Sample {
	return t.Rows[rng.Intn(len(t.Rows))]
}

// LoadTable reads a CSV dataset from path.
func LoadTable(path string) (TableTask, error) {
	file, err := os.Open(path)
	if err != nil {
		return TableTask{}, err
	}
	defer file.Close()

	table, err := ReadTable(file)
	if err != nil {
		return TableTask{}, fmt.Errorf("%s: %w", path, err)
	}
	table.Source = path
	return table, nil
}

// ReadTable parses a CSV dataset with a header row. Columns named class*,
// target* or y* are targets, a column named t is a row index and is skipped,
// and every other column is an input. Blank lines are ignored.
func ReadTable(in io.Reader) (TableTask, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return TableTask{}, ErrEmptyTable
	}
	if err != nil {
		return TableTask{}, fmt.Errorf("read table header: %w", err)
	}
	kinds := make([]columnKind, len(header))
	var inputs, targets int
	for i, name := range header {
		kinds[i] = classifyColumn(name)
		switch kinds[i] {
		case inputColumn:
			inputs++
		case targetColumn:
			targets++
		}
	}
	if inputs == 0 || targets == 0 {
		return TableTask{}, fmt.Errorf("table needs input and target columns, got %d inputs and %d targets", inputs, targets)
	}

	var rows []Sample
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return TableTask{}, fmt.Errorf("read table row %d: %w", line, err)
		}
		if blankRecord(record) {
			continue
		}
		if len(record) != len(header) {
			return TableTask{}, fmt.Errorf("table row %d has %d columns, want %d", line, len(record), len(header))
		}
		sample := Sample{Input: make([]float64, 0, inputs), Target: make([]float64, 0, targets)}
		for i, raw := range record {
			if kinds[i] == indexColumn {
				continue
			}
			value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return TableTask{}, fmt.Errorf("parse table row %d column %q: %w", line, header[i], err)
			}
			if kinds[i] == targetColumn {
				sample.Target = append(sample.Target, value)
			} else {
				sample.Input = append(sample.Input, value)
			}
		}
		rows = append(rows, sample)
	}
	if len(rows) == 0 {
		return TableTask{}, ErrEmptyTable
	}
	return TableTask{Rows: rows}, nil
}

type columnKind int

const (
	inputColumn columnKind = iota
	targetColumn
	indexColumn
)

func classifyColumn(name string) columnKind {
	key := strings.ToLower(strings.TrimSpace(name))
	switch {
	case key == "t":
		return indexColumn
	case strings.HasPrefix(key, "class"), strings.HasPrefix(key, "target"), strings.HasPrefix(key, "y"):
		return targetColumn
	default:
		return inputColumn
	}
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
