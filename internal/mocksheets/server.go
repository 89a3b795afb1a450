// Package mocksheets implements the subset of the Google Sheets v4 API the
// sheet writer exercises: spreadsheet metadata (with grid data), values reads,
// and batchUpdate with AddSheet, AppendCells and UpdateCells. State is held in
// memory.
package mocksheets

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	gsheets "google.golang.org/api/sheets/v4"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
}

// Cell is a flattened view of one stored grid cell for test assertions.
type Cell struct {
	Text       string
	Number     float64
	IsNumber   bool
	Link       string
	Underline  bool
	Background *gsheets.Color
}

// Server implements the mock spreadsheet.
type Server struct {
	spreadsheetID string

	mu          sync.Mutex
	calls       []Call
	sheets      []*worksheet
	nextSheetID int64
}

type worksheet struct {
	id    int64
	title string
	rows  [][]*gsheets.CellData
}

// New constructs a mock spreadsheet with one default worksheet, Sheet1, at
// sheet id 0 like a freshly created real spreadsheet.
func New(spreadsheetID string) *Server {
	return &Server{
		spreadsheetID: spreadsheetID,
		nextSheetID:   1,
		sheets:        []*worksheet{{id: 0, title: "Sheet1"}},
	}
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v4/spreadsheets/", s.handleSpreadsheets)
	return mux
}

// Calls returns a snapshot of requests made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// WorksheetTitles returns the worksheet titles in order.
func (s *Server) WorksheetTitles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sheets))
	for _, ws := range s.sheets {
		out = append(out, ws.title)
	}
	return out
}

// RowCount returns the number of grid rows the worksheet holds.
func (s *Server) RowCount(title string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws := s.lookupLocked(title)
	if ws == nil {
		return 0
	}
	return len(ws.rows)
}

// Cell returns a flattened view of one grid cell.
func (s *Server) Cell(title string, row, col int) (Cell, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws := s.lookupLocked(title)
	if ws == nil || row < 0 || row >= len(ws.rows) {
		return Cell{}, false
	}
	if col < 0 || col >= len(ws.rows[row]) {
		return Cell{}, false
	}
	c := ws.rows[row][col]
	out := Cell{Text: cellText(c)}
	if c != nil && c.UserEnteredValue != nil && c.UserEnteredValue.NumberValue != nil {
		out.Number = *c.UserEnteredValue.NumberValue
		out.IsNumber = true
	}
	if c != nil && c.UserEnteredFormat != nil {
		if bg := c.UserEnteredFormat.BackgroundColor; bg != nil {
			out.Background = &gsheets.Color{Red: bg.Red, Green: bg.Green, Blue: bg.Blue, Alpha: bg.Alpha}
		}
		if tf := c.UserEnteredFormat.TextFormat; tf != nil {
			out.Underline = tf.Underline
			if tf.Link != nil {
				out.Link = tf.Link.Uri
			}
		}
	}
	return out, true
}

// Seed replaces the worksheet grid with plain text rows, creating the
// worksheet when needed. Test setup helper.
func (s *Server) Seed(title string, rows [][]string) {
	grid := make([][]*gsheets.CellData, len(rows))
	for i, row := range rows {
		grid[i] = make([]*gsheets.CellData, len(row))
		for j, v := range row {
			grid[i][j] = &gsheets.CellData{UserEnteredValue: &gsheets.ExtendedValue{StringValue: &v}}
		}
	}
	s.SeedGrid(title, grid)
}

// SeedGrid replaces the worksheet grid with prebuilt cells.
func (s *Server) SeedGrid(title string, rows [][]*gsheets.CellData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws := s.lookupLocked(title)
	if ws == nil {
		ws = &worksheet{id: s.nextSheetID, title: title}
		s.nextSheetID++
		s.sheets = append(s.sheets, ws)
	}
	ws.rows = rows
}

func (s *Server) recordCall(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
}

// lookupLocked resolves a worksheet by title. An empty title means the first
// sheet, matching how the live API reads unprefixed A1 ranges.
func (s *Server) lookupLocked(title string) *worksheet {
	if title == "" {
		if len(s.sheets) == 0 {
			return nil
		}
		return s.sheets[0]
	}
	for _, ws := range s.sheets {
		if ws.title == title {
			return ws
		}
	}
	return nil
}

func (s *Server) lookupByIDLocked(id int64) *worksheet {
	for _, ws := range s.sheets {
		if ws.id == id {
			return ws
		}
	}
	return nil
}

func (s *Server) handleSpreadsheets(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r)

	rest := strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}

	if id, ok := strings.CutSuffix(rest, ":batchUpdate"); ok {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !s.checkID(w, id) {
			return
		}
		s.handleBatchUpdate(w, r)
		return
	}

	if i := strings.Index(rest, "/"); i >= 0 {
		id, tail := rest[:i], rest[i+1:]
		if !s.checkID(w, id) {
			return
		}
		if rangeRef, ok := strings.CutPrefix(tail, "values/"); ok {
			if r.Method != http.MethodGet {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			s.handleValuesGet(w, rangeRef)
			return
		}
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.checkID(w, rest) {
		return
	}
	s.handleMetadata(w, r)
}

func (s *Server) checkID(w http.ResponseWriter, id string) bool {
	if id != s.spreadsheetID {
		http.Error(w, "spreadsheet not found", http.StatusNotFound)
		return false
	}
	return true
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	includeGrid := r.URL.Query().Get("includeGridData") == "true"
	var only map[string]bool
	for _, ref := range r.URL.Query()["ranges"] {
		title, _ := splitRange(ref)
		if title == "" {
			only = nil
			break
		}
		if only == nil {
			only = make(map[string]bool)
		}
		only[title] = true
	}

	s.mu.Lock()
	resp := &gsheets.Spreadsheet{
		SpreadsheetId: s.spreadsheetID,
		Properties:    &gsheets.SpreadsheetProperties{Title: "mock"},
	}
	for _, ws := range s.sheets {
		if only != nil && !only[ws.title] {
			continue
		}
		sheet := &gsheets.Sheet{
			Properties: &gsheets.SheetProperties{
				SheetId:         ws.id,
				Title:           ws.title,
				Index:           int64(len(resp.Sheets)),
				ForceSendFields: []string{"SheetId"},
			},
		}
		if includeGrid {
			sheet.Data = []*gsheets.GridData{{RowData: copyRows(ws.rows)}}
		}
		resp.Sheets = append(resp.Sheets, sheet)
	}
	s.mu.Unlock()

	writeJSON(w, resp)
}

func (s *Server) handleValuesGet(w http.ResponseWriter, rangeRef string) {
	title, cells := splitRange(rangeRef)

	s.mu.Lock()
	ws := s.lookupLocked(title)
	if ws == nil {
		s.mu.Unlock()
		http.Error(w, "unknown worksheet in range", http.StatusBadRequest)
		return
	}
	r0, r1, c0, c1 := parseA1(cells)
	values := sliceValues(ws.rows, r0, r1, c0, c1)
	s.mu.Unlock()

	writeJSON(w, &gsheets.ValueRange{MajorDimension: "ROWS", Range: rangeRef, Values: values})
}

func (s *Server) handleBatchUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	var req gsheets.BatchUpdateSpreadsheetRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "malformed batch update", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	replies := make([]*gsheets.Response, 0, len(req.Requests))
	for _, one := range req.Requests {
		switch {
		case one == nil:
			http.Error(w, "empty request", http.StatusBadRequest)
			return
		case one.AddSheet != nil:
			reply, err := s.addSheetLocked(one.AddSheet)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			replies = append(replies, reply)
		case one.AppendCells != nil:
			if err := s.appendCellsLocked(one.AppendCells); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			replies = append(replies, &gsheets.Response{})
		case one.UpdateCells != nil:
			if err := s.updateCellsLocked(one.UpdateCells); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			replies = append(replies, &gsheets.Response{})
		default:
			http.Error(w, "unsupported request type", http.StatusBadRequest)
			return
		}
	}

	writeJSON(w, &gsheets.BatchUpdateSpreadsheetResponse{
		SpreadsheetId: s.spreadsheetID,
		Replies:       replies,
	})
}

func (s *Server) addSheetLocked(req *gsheets.AddSheetRequest) (*gsheets.Response, error) {
	title := "Sheet" + strconv.Itoa(len(s.sheets)+1)
	if req.Properties != nil && req.Properties.Title != "" {
		title = req.Properties.Title
	}
	if s.lookupLocked(title) != nil {
		return nil, fmt.Errorf("worksheet %q already exists", title)
	}
	ws := &worksheet{id: s.nextSheetID, title: title}
	s.nextSheetID++
	s.sheets = append(s.sheets, ws)
	return &gsheets.Response{AddSheet: &gsheets.AddSheetResponse{
		Properties: &gsheets.SheetProperties{
			SheetId:         ws.id,
			Title:           ws.title,
			ForceSendFields: []string{"SheetId"},
		},
	}}, nil
}

func (s *Server) appendCellsLocked(req *gsheets.AppendCellsRequest) error {
	ws := s.lookupByIDLocked(req.SheetId)
	if ws == nil {
		return fmt.Errorf("unknown sheet id %d", req.SheetId)
	}
	for _, row := range req.Rows {
		var vals []*gsheets.CellData
		if row != nil {
			vals = row.Values
		}
		cells := make([]*gsheets.CellData, 0, len(vals))
		for _, c := range vals {
			cells = append(cells, copyCell(c))
		}
		ws.rows = append(ws.rows, cells)
	}
	return nil
}

func (s *Server) updateCellsLocked(req *gsheets.UpdateCellsRequest) error {
	if req.Range == nil {
		return fmt.Errorf("update without range")
	}
	ws := s.lookupByIDLocked(req.Range.SheetId)
	if ws == nil {
		return fmt.Errorf("unknown sheet id %d", req.Range.SheetId)
	}

	startRow := req.Range.StartRowIndex
	startCol := req.Range.StartColumnIndex
	endCol := req.Range.EndColumnIndex

	// An absent end index leaves the range unbounded; rows in the range not
	// covered by the payload are cleared, like the live API.
	end := req.Range.EndRowIndex
	if end <= startRow {
		end = int64(len(ws.rows))
		if alt := startRow + int64(len(req.Rows)); alt > end {
			end = alt
		}
	}
	for i := startRow; i < end; i++ {
		j := i - startRow
		if j < int64(len(req.Rows)) {
			ws.setRow(i, req.Rows[j], startCol, endCol)
		} else {
			ws.clearRow(i, startCol, endCol)
		}
	}
	ws.trim()
	return nil
}

func (ws *worksheet) ensureRow(i int64) {
	for int64(len(ws.rows)) <= i {
		ws.rows = append(ws.rows, nil)
	}
}

func (ws *worksheet) setRow(i int64, row *gsheets.RowData, startCol, endCol int64) {
	ws.ensureRow(i)
	var vals []*gsheets.CellData
	if row != nil {
		vals = row.Values
	}
	if startCol == 0 && endCol <= 0 {
		cells := make([]*gsheets.CellData, 0, len(vals))
		for _, c := range vals {
			cells = append(cells, copyCell(c))
		}
		ws.rows[i] = cells
		return
	}
	end := endCol
	if end <= startCol {
		end = startCol + int64(len(vals))
	}
	for j := startCol; j < end; j++ {
		k := j - startCol
		if k < int64(len(vals)) {
			ws.setCell(i, j, copyCell(vals[k]))
		} else {
			ws.setCell(i, j, &gsheets.CellData{})
		}
	}
}

func (ws *worksheet) clearRow(i, startCol, endCol int64) {
	if i >= int64(len(ws.rows)) {
		return
	}
	if startCol == 0 && endCol <= 0 {
		ws.rows[i] = nil
		return
	}
	end := endCol
	if end <= startCol || end > int64(len(ws.rows[i])) {
		end = int64(len(ws.rows[i]))
	}
	for j := startCol; j < end; j++ {
		ws.rows[i][j] = &gsheets.CellData{}
	}
}

func (ws *worksheet) setCell(i, j int64, c *gsheets.CellData) {
	ws.ensureRow(i)
	for int64(len(ws.rows[i])) <= j {
		ws.rows[i] = append(ws.rows[i], &gsheets.CellData{})
	}
	ws.rows[i][j] = c
}

// trim drops trailing all-empty rows so the next append lands after real data.
func (ws *worksheet) trim() {
	for len(ws.rows) > 0 {
		empty := true
		for _, c := range ws.rows[len(ws.rows)-1] {
			if cellText(c) != "" {
				empty = false
				break
			}
		}
		if !empty {
			return
		}
		ws.rows = ws.rows[:len(ws.rows)-1]
	}
}

func copyRows(rows [][]*gsheets.CellData) []*gsheets.RowData {
	out := make([]*gsheets.RowData, len(rows))
	for i, cells := range rows {
		rd := &gsheets.RowData{Values: make([]*gsheets.CellData, len(cells))}
		for j, c := range cells {
			rd.Values[j] = copyCell(c)
		}
		out[i] = rd
	}
	return out
}

func copyCell(c *gsheets.CellData) *gsheets.CellData {
	if c == nil {
		return &gsheets.CellData{}
	}
	// The live API computes a display value for every cell; mirror that so
	// readers relying on formattedValue keep working.
	out := &gsheets.CellData{FormattedValue: cellText(c)}
	if ev := c.UserEnteredValue; ev != nil {
		cp := &gsheets.ExtendedValue{}
		if ev.StringValue != nil {
			v := *ev.StringValue
			cp.StringValue = &v
		}
		if ev.NumberValue != nil {
			v := *ev.NumberValue
			cp.NumberValue = &v
		}
		out.UserEnteredValue = cp
	}
	if f := c.UserEnteredFormat; f != nil {
		cp := &gsheets.CellFormat{}
		if bg := f.BackgroundColor; bg != nil {
			cp.BackgroundColor = &gsheets.Color{Red: bg.Red, Green: bg.Green, Blue: bg.Blue, Alpha: bg.Alpha}
		}
		if tf := f.TextFormat; tf != nil {
			nf := &gsheets.TextFormat{Underline: tf.Underline}
			if tf.Link != nil {
				nf.Link = &gsheets.Link{Uri: tf.Link.Uri}
			}
			if fg := tf.ForegroundColor; fg != nil {
				nf.ForegroundColor = &gsheets.Color{Red: fg.Red, Green: fg.Green, Blue: fg.Blue, Alpha: fg.Alpha}
			}
			cp.TextFormat = nf
		}
		out.UserEnteredFormat = cp
	}
	return out
}

func cellText(c *gsheets.CellData) string {
	if c == nil || c.UserEnteredValue == nil {
		return ""
	}
	if c.UserEnteredValue.StringValue != nil {
		return *c.UserEnteredValue.StringValue
	}
	if c.UserEnteredValue.NumberValue != nil {
		return strconv.FormatFloat(*c.UserEnteredValue.NumberValue, 'f', -1, 64)
	}
	return ""
}

func cellValue(c *gsheets.CellData) interface{} {
	if c != nil && c.UserEnteredValue != nil && c.UserEnteredValue.NumberValue != nil {
		return *c.UserEnteredValue.NumberValue
	}
	return cellText(c)
}

// sliceValues projects the grid onto a values response. Bounds are zero-based
// and inclusive; -1 marks an unbounded end. Trailing empty cells and rows are
// omitted, like the live API.
func sliceValues(rows [][]*gsheets.CellData, r0, r1, c0, c1 int64) [][]interface{} {
	var out [][]interface{}
	for i := r0; i < int64(len(rows)); i++ {
		if r1 >= 0 && i > r1 {
			break
		}
		var vals []interface{}
		for j := c0; j < int64(len(rows[i])); j++ {
			if c1 >= 0 && j > c1 {
				break
			}
			vals = append(vals, cellValue(rows[i][j]))
		}
		for len(vals) > 0 {
			if sv, ok := vals[len(vals)-1].(string); ok && sv == "" {
				vals = vals[:len(vals)-1]
				continue
			}
			break
		}
		out = append(out, vals)
	}
	for len(out) > 0 && len(out[len(out)-1]) == 0 {
		out = out[:len(out)-1]
	}
	return out
}

// splitRange separates the worksheet title from the cell part of an A1
// reference, undoing the quote escaping.
func splitRange(ref string) (title, cells string) {
	i := strings.LastIndex(ref, "!")
	if i < 0 {
		return "", ref
	}
	title, cells = ref[:i], ref[i+1:]
	if len(title) >= 2 && strings.HasPrefix(title, "'") && strings.HasSuffix(title, "'") {
		title = strings.ReplaceAll(title[1:len(title)-1], "''", "'")
	}
	return title, cells
}

// parseA1 resolves a cell reference like "A2:A", "1:1" or "A1:Z" to zero-based
// inclusive bounds. -1 marks an unbounded end.
func parseA1(cells string) (r0, r1, c0, c1 int64) {
	r1, c1 = -1, -1
	if cells == "" {
		return
	}
	parts := strings.SplitN(cells, ":", 2)
	sc, sr := splitCellRef(parts[0])
	if sc >= 0 {
		c0 = sc
	}
	if sr >= 0 {
		r0 = sr
	}
	if len(parts) == 1 {
		if sc >= 0 {
			c1 = sc
		}
		if sr >= 0 {
			r1 = sr
		}
		return
	}
	ec, er := splitCellRef(parts[1])
	if ec >= 0 {
		c1 = ec
	}
	if er >= 0 {
		r1 = er
	}
	return
}

// splitCellRef parses "A2" into column 0, row 1. A missing part is -1.
func splitCellRef(s string) (col, row int64) {
	col, row = -1, -1
	i := 0
	for i < len(s) && s[i] >= 'A' && s[i] <= 'Z' {
		if col < 0 {
			col = 0
		}
		col = col*26 + int64(s[i]-'A'+1)
		i++
	}
	if col > 0 {
		col--
	}
	if i < len(s) {
		if n, err := strconv.ParseInt(s[i:], 10, 64); err == nil && n > 0 {
			row = n - 1
		}
	}
	return col, row
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
