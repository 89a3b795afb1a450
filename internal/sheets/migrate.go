package sheets

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	gsheets "google.golang.org/api/sheets/v4"

	"github.com/stembridge-labs/grant-screening-pipeline/internal/screening"
)

// legacySourceRe matches one line of the old combined Sources cell:
// "label (url)".
var legacySourceRe = regexp.MustCompile(`^(.*?)\s*\((https?://[^\s)]+)\)$`)

// Migrate rewrites a legacy five-column worksheet (Foundation, Classification,
// Confidence, Rationale, Sources) into the canonical layout in one request.
// A worksheet already in the canonical layout is left untouched; any other
// header is refused rather than guessed at. Returns the number of data rows
// rewritten.
func (w *Writer) Migrate(ctx context.Context) (int, error) {
	rows, err := w.readGrid(ctx)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	header := rowStrings(rows[0])
	if matchesHeader(header, Header) {
		w.log.Infow("worksheet already in canonical layout", "worksheet", w.worksheet)
		return 0, nil
	}
	if !matchesHeader(header, legacyHeader) {
		return 0, &screening.QueryError{
			Op:  "migrate worksheet",
			Err: fmt.Errorf("unrecognized header %v", header),
		}
	}

	out := []*gsheets.RowData{headerRow()}
	migrated := 0
	for _, row := range rows[1:] {
		conv := legacyRow(row)
		if conv == nil {
			continue
		}
		out = append(out, conv)
		migrated++
	}

	// An unbounded range clears everything the rewritten rows do not cover,
	// including the old fifth column and any stale trailing rows.
	req := &gsheets.Request{UpdateCells: &gsheets.UpdateCellsRequest{
		Range: &gsheets.GridRange{
			SheetId:         w.sheetID,
			StartRowIndex:   0,
			ForceSendFields: []string{"SheetId"},
		},
		Rows:   out,
		Fields: "userEnteredValue,userEnteredFormat",
	}}
	if err := w.batchUpdate(ctx, req); err != nil {
		return 0, &screening.WriteError{Op: "migrate worksheet", Err: err}
	}
	w.log.Infow("migrated worksheet layout", "worksheet", w.worksheet, "rows", migrated)
	return migrated, nil
}

func (w *Writer) readGrid(ctx context.Context) ([]*gsheets.RowData, error) {
	meta, err := w.svc.Spreadsheets.Get(w.spreadsheetID).
		Ranges(rangeRef(w.worksheet, "A1:Z")).
		IncludeGridData(true).
		Context(ctx).Do()
	if err != nil {
		return nil, &screening.ConnectionError{System: "sheets", Err: err}
	}
	for _, s := range meta.Sheets {
		if s.Properties == nil || s.Properties.Title != w.worksheet {
			continue
		}
		if len(s.Data) == 0 {
			return nil, nil
		}
		return s.Data[0].RowData, nil
	}
	return nil, &screening.QueryError{
		Op:  "read worksheet",
		Err: fmt.Errorf("worksheet %q not found", w.worksheet),
	}
}

// legacyRow converts one pre-rework row. The old layout kept grant fields out
// of the sheet, so Amount through Focus Area migrate as blanks.
func legacyRow(row *gsheets.RowData) *gsheets.RowData {
	if row == nil || len(row.Values) == 0 {
		return nil
	}
	get := func(i int) string {
		if i < len(row.Values) {
			return strings.TrimSpace(cellString(row.Values[i]))
		}
		return ""
	}
	foundation := get(0)
	if foundation == "" {
		return nil
	}
	verdictText := get(1)
	sources := parseLegacySources(get(4))

	cells := []*gsheets.CellData{
		textCell(foundation),
		textCell(""),
		textCell(""),
		textCell(""),
		textCell(""),
		textCell(verdictText),
		numberCell(cellNumber(row.Values, 2)),
		textCell(""),
		textCell(""),
		textCell(get(3)),
		textCell(""),
	}
	for i := 0; i < maxSourceColumns; i++ {
		if i < len(sources) {
			cells = append(cells, linkCell(sources[i].Title, sources[i].URL))
		} else {
			cells = append(cells, textCell(""))
		}
	}
	fillRow(cells, legacyFill(row.Values[0], verdictText))
	return &gsheets.RowData{Values: cells}
}

// legacyFill keeps the row's existing color when one is set, falling back to
// the canonical palette when the verdict text still parses.
func legacyFill(first *gsheets.CellData, verdictText string) *gsheets.Color {
	if first != nil && first.UserEnteredFormat != nil && first.UserEnteredFormat.BackgroundColor != nil {
		return first.UserEnteredFormat.BackgroundColor
	}
	if v, ok := screening.ParseVerdict(verdictText); ok {
		return verdictColor(v)
	}
	return nil
}

func cellNumber(cells []*gsheets.CellData, i int) float64 {
	if i >= len(cells) || cells[i] == nil {
		return 0
	}
	if ev := cells[i].UserEnteredValue; ev != nil && ev.NumberValue != nil {
		return *ev.NumberValue
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(cellString(cells[i])), 64)
	if err != nil {
		return 0
	}
	return f
}

// parseLegacySources splits the old combined Sources cell: one source per
// line, "label (url)" or a bare URL.
func parseLegacySources(cell string) []screening.Source {
	var out []screening.Source
	for _, line := range strings.Split(cell, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := legacySourceRe.FindStringSubmatch(line); m != nil {
			out = append(out, screening.Source{Title: strings.TrimSpace(m[1]), URL: m[2]})
		} else if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			out = append(out, screening.Source{URL: line})
		}
		if len(out) == maxSourceColumns {
			break
		}
	}
	return out
}

func rowStrings(row *gsheets.RowData) []string {
	if row == nil {
		return nil
	}
	out := make([]string, 0, len(row.Values))
	for _, c := range row.Values {
		out = append(out, strings.TrimSpace(cellString(c)))
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}

func matchesHeader(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if !strings.EqualFold(got[i], want[i]) {
			return false
		}
	}
	return true
}
