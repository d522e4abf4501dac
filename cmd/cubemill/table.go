package main

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"cubemill/internal/ledger"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// statusColors maps ledger states to display colors. In-flight states are
// yellow so a glance at `queue list` shows what an interrupted run left
// behind.
var statusColors = map[ledger.Status]text.Colors{
	ledger.StatusPending:    {text.FgHiBlack},
	ledger.StatusPlanning:   {text.FgYellow},
	ledger.StatusProcessing: {text.FgYellow},
	ledger.StatusMerging:    {text.FgYellow},
	ledger.StatusCompleted:  {text.FgGreen},
	ledger.StatusRecovered:  {text.FgCyan},
	ledger.StatusFailed:     {text.FgRed},
}

// renderStatus colors a ledger status cell when stdout is a terminal.
func renderStatus(status ledger.Status) string {
	if !stdoutIsTerminal() {
		return string(status)
	}
	if colors, ok := statusColors[status]; ok {
		return colors.Sprint(string(status))
	}
	return string(status)
}

// renderCheckState renders a preflight pass/fail cell, colored on a terminal.
func renderCheckState(passed bool) string {
	state := "FAIL"
	if passed {
		state = "ok"
	}
	if !stdoutIsTerminal() {
		return state
	}
	if passed {
		return text.Colors{text.FgGreen}.Sprint(state)
	}
	return text.Colors{text.FgRed}.Sprint(state)
}

func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}
