// Package report renders scan results for the terminal and for other programs.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"lanscan/internal/discovery"
	"lanscan/internal/scan"
)

// WriteResults prints one tab separated line per host.
func WriteResults(w io.Writer, results []scan.Result) error {
	for _, res := range results {
		if _, err := fmt.Fprintf(w, "%s\tSSDP=%t\tmDNS=%t\tADB=%t\n", res.Address, res.SSDP, res.MDNS, res.ADB); err != nil {
			return err
		}
	}
	return nil
}

// WriteJSON encodes v as indented JSON. Nil slices are written as [].
func WriteJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// WriteResultsJSON prints the default scan results as a JSON array.
func WriteResultsJSON(w io.Writer, results []scan.Result) error {
	if results == nil {
		results = []scan.Result{}
	}
	return WriteJSON(w, results)
}

// WriteCustomJSON prints custom scan results as a JSON array.
func WriteCustomJSON(w io.Writer, results []scan.CustomResult) error {
	if results == nil {
		results = []scan.CustomResult{}
	}
	return WriteJSON(w, results)
}

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle     = lipgloss.NewStyle().Padding(0, 1)
	activeStyle   = cellStyle.Foreground(lipgloss.Color("#9ece6a"))
	timeoutStyle  = cellStyle.Foreground(lipgloss.Color("#e0af68"))
	errorStyle    = cellStyle.Foreground(lipgloss.Color("#f7768e"))
	inactiveStyle = cellStyle.Foreground(lipgloss.Color("#565f89"))
	borderStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#414868"))
)

func statusStyle(status string) lipgloss.Style {
	switch scan.Status(status) {
	case scan.StatusActive:
		return activeStyle
	case scan.StatusTimeout:
		return timeoutStyle
	case scan.StatusError:
		return errorStyle
	case scan.StatusInactive, scan.StatusNotApplicable:
		return inactiveStyle
	default:
		return cellStyle
	}
}

// CustomTable builds the host by port status table. Columns follow the
// requested port order and are titled with the table's service names.
func CustomTable(ports []uint16, names func(uint16) string, results []scan.CustomResult) *table.Table {
	headers := make([]string, 0, len(ports)+1)
	headers = append(headers, "Host")
	for _, port := range ports {
		name := strconv.Itoa(int(port))
		if names != nil {
			name = names(port)
		}
		headers = append(headers, name)
	}

	rows := make([][]string, 0, len(results))
	for _, res := range results {
		row := make([]string, 0, len(ports)+1)
		row = append(row, res.Address)
		for i := range ports {
			status := string(scan.StatusError)
			if i < len(res.Ports) {
				status = string(res.Ports[i].Status)
			}
			row = append(row, status)
		}
		rows = append(rows, row)
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 0 || row < 0 || row >= len(rows) {
				return cellStyle
			}
			return statusStyle(rows[row][col])
		})
}

// WriteCustom renders custom scan results as a table.
func WriteCustom(w io.Writer, ports []uint16, names func(uint16) string, results []scan.CustomResult) error {
	_, err := fmt.Fprintln(w, CustomTable(ports, names, results).String())
	return err
}

// WriteDevices prints one registry endpoint per line.
func WriteDevices(w io.Writer, endpoints []string) error {
	for _, ep := range endpoints {
		if _, err := fmt.Fprintln(w, ep); err != nil {
			return err
		}
	}
	return nil
}

// WriteAnnouncements prints one tab separated line per announcement.
func WriteAnnouncements(w io.Writer, anns []discovery.Announcement) error {
	for _, ann := range anns {
		addr := ann.Address()
		if addr == "" {
			addr = "-"
		}
		if _, err := fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", addr, ann.Port, ann.Service, ann.Instance, ann.Host); err != nil {
			return err
		}
	}
	return nil
}
