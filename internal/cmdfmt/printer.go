package cmdfmt

import (
	"encoding/json"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/viper"

	"github.com/Foundation-Devices/KeyOS-Releases/pkg/config"
)

// Printer renders rows of structured output either as a table or as JSON
// depending on the global output configuration.
type Printer interface {
	AppendRow(row []any)
	Render() string
}

// NewPrinter returns the printer matching the configured output mode. The
// columns double as table headers and JSON keys.
func NewPrinter(columns []string) Printer {
	if viper.GetBool(config.PrintJsonKey) {
		return &jsonPrinter{columns: columns}
	}
	return newTablePrinter(columns)
}

type tablePrinter struct {
	writer table.Writer
}

func newTablePrinter(columns []string) *tablePrinter {
	w := table.NewWriter()
	w.SetStyle(table.StyleLight)
	header := make(table.Row, 0, len(columns))
	for _, c := range columns {
		header = append(header, c)
	}
	w.AppendHeader(header)
	return &tablePrinter{writer: w}
}

func (p *tablePrinter) AppendRow(row []any) {
	p.writer.AppendRow(table.Row(row))
}

func (p *tablePrinter) Render() string {
	return p.writer.Render()
}

type jsonPrinter struct {
	columns []string
	rows    []map[string]any
}

func (p *jsonPrinter) AppendRow(row []any) {
	if len(p.columns) != len(row) {
		panic(fmt.Sprintf("unable to print json, the number of keys %d does not match the number of values %d (this is likely a bug)", len(p.columns), len(row)))
	}
	item := make(map[string]any, len(row))
	for i, col := range p.columns {
		item[col] = row[i]
	}
	p.rows = append(p.rows, item)
}

func (p *jsonPrinter) Render() string {
	out, err := json.Marshal(p.rows)
	if err != nil {
		panic("unable to marshal json (this is likely a bug): " + err.Error())
	}
	return string(out)
}
