// Package sheets appends screening results to a Google Sheet worksheet and
// maintains the per-run skip cache of foundations already recorded there.
package sheets

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	gsheets "google.golang.org/api/sheets/v4"

	"github.com/stembridge-labs/grant-screening-pipeline/internal/screening"
)

// maxSourceColumns caps how many citation cells a row carries.
const maxSourceColumns = 5

// Header is the canonical worksheet layout, one screened grant per row.
var Header = []string{
	"Foundation",
	"Amount",
	"Deadline",
	"Geography",
	"Focus Area",
	"Verdict",
	"Confidence",
	"Red Flags",
	"Green Flags",
	"Rationale",
	"Next Application",
	"Source 1",
	"Source 2",
	"Source 3",
	"Source 4",
	"Source 5",
}

// legacyHeader is the pre-rework layout that fix-columns migrates from.
var legacyHeader = []string{"Foundation", "Classification", "Confidence", "Rationale", "Sources"}

func verdictColor(v screening.Verdict) *gsheets.Color {
	switch v {
	case screening.VerdictGreen:
		return &gsheets.Color{Red: 0.714, Green: 0.843, Blue: 0.659}
	case screening.VerdictYellow:
		return &gsheets.Color{Red: 1, Green: 0.949, Blue: 0.8}
	case screening.VerdictRed:
		return &gsheets.Color{Red: 0.918, Green: 0.6, Blue: 0.6}
	}
	return nil
}

func linkColor() *gsheets.Color {
	return &gsheets.Color{Red: 0.067, Green: 0.396, Blue: 0.745}
}

func textCell(s string) *gsheets.CellData {
	return &gsheets.CellData{UserEnteredValue: &gsheets.ExtendedValue{StringValue: &s}}
}

func numberCell(f float64) *gsheets.CellData {
	return &gsheets.CellData{UserEnteredValue: &gsheets.ExtendedValue{NumberValue: &f}}
}

// linkCell renders a clickable citation. An empty title falls back to the URL
// host so the cell never shows a bare scheme-and-path blob.
func linkCell(title, rawURL string) *gsheets.CellData {
	text := strings.TrimSpace(title)
	if text == "" {
		text = hostOf(rawURL)
	}
	return &gsheets.CellData{
		UserEnteredValue: &gsheets.ExtendedValue{StringValue: &text},
		UserEnteredFormat: &gsheets.CellFormat{
			TextFormat: &gsheets.TextFormat{
				Link:            &gsheets.Link{Uri: rawURL},
				ForegroundColor: linkColor(),
				Underline:       true,
			},
		},
	}
}

func hostOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return u.Host
	}
	s := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s
}

func headerRow() *gsheets.RowData {
	cells := make([]*gsheets.CellData, 0, len(Header))
	for _, h := range Header {
		cells = append(cells, textCell(h))
	}
	return &gsheets.RowData{Values: cells}
}

// resultRow builds the canonical cells for one screened grant. Every cell
// carries the verdict fill so the row reads as one block in the sheet.
func resultRow(g screening.Grant, r screening.ScreeningResult) *gsheets.RowData {
	cells := []*gsheets.CellData{
		textCell(g.Foundation),
		textCell(g.Amount),
		textCell(g.Deadline),
		textCell(g.Geography),
		textCell(g.FocusArea),
		textCell(string(r.Verdict)),
		numberCell(r.Confidence),
		textCell(strings.Join(r.RedFlags, ", ")),
		textCell(strings.Join(r.GreenFlags, ", ")),
		textCell(r.Rationale),
		textCell(r.NextApplicationDate),
	}
	for i := 0; i < maxSourceColumns; i++ {
		if i < len(r.Sources) {
			cells = append(cells, linkCell(r.Sources[i].Title, r.Sources[i].URL))
		} else {
			cells = append(cells, textCell(""))
		}
	}
	fillRow(cells, verdictColor(r.Verdict))
	return &gsheets.RowData{Values: cells}
}

func fillRow(cells []*gsheets.CellData, fill *gsheets.Color) {
	if fill == nil {
		return
	}
	for _, c := range cells {
		if c.UserEnteredFormat == nil {
			c.UserEnteredFormat = &gsheets.CellFormat{}
		}
		c.UserEnteredFormat.BackgroundColor = fill
	}
}

// cellString extracts the displayed text of a grid cell, tolerating cells that
// come back with only a formatted value.
func cellString(c *gsheets.CellData) string {
	if c == nil {
		return ""
	}
	if ev := c.UserEnteredValue; ev != nil {
		if ev.StringValue != nil {
			return *ev.StringValue
		}
		if ev.NumberValue != nil {
			return strconv.FormatFloat(*ev.NumberValue, 'f', -1, 64)
		}
	}
	return c.FormattedValue
}

// rangeRef quotes the worksheet title for A1 notation.
func rangeRef(worksheet, cells string) string {
	return fmt.Sprintf("'%s'!%s", strings.ReplaceAll(worksheet, "'", "''"), cells)
}
