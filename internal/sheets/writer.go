package sheets

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/stembridge-labs/grant-screening-pipeline/internal/config"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/screening"
)

// ErrAlreadyWritten reports an append for a foundation the worksheet already
// holds. Callers count it as a skip, not a failure.
var ErrAlreadyWritten = errors.New("foundation already recorded")

// Writer is bound to one worksheet of one spreadsheet. It is not safe for
// concurrent use; the pipeline writes rows sequentially.
type Writer struct {
	svc           *gsheets.Service
	spreadsheetID string
	worksheet     string
	sheetID       int64
	written       map[string]struct{}
	log           *zap.SugaredLogger
}

// Open connects to the Sheets API, resolves the worksheet (creating it when
// absent), and writes the canonical header when the first row is blank.
func Open(ctx context.Context, cfg config.Sheet, log *zap.SugaredLogger) (*Writer, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, &screening.WriteError{Op: "open", Err: errors.New("spreadsheet id is empty")}
	}
	if strings.TrimSpace(cfg.Worksheet) == "" {
		return nil, &screening.WriteError{Op: "open", Err: errors.New("worksheet title is empty")}
	}

	opts := []option.ClientOption{option.WithScopes(gsheets.SpreadsheetsScope)}
	switch {
	case cfg.BaseURL != "":
		// A base URL override points at a mock or proxy that does its own auth.
		opts = []option.ClientOption{option.WithEndpoint(cfg.BaseURL), option.WithoutAuthentication()}
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, &screening.ConnectionError{System: "sheets", Err: err}
	}

	w := &Writer{
		svc:           svc,
		spreadsheetID: strings.TrimSpace(cfg.SpreadsheetID),
		worksheet:     strings.TrimSpace(cfg.Worksheet),
		written:       make(map[string]struct{}),
		log:           log,
	}
	if err := w.ensureWorksheet(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) ensureWorksheet(ctx context.Context) error {
	meta, err := w.svc.Spreadsheets.Get(w.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return &screening.ConnectionError{System: "sheets", Err: err}
	}
	for _, s := range meta.Sheets {
		if s.Properties != nil && s.Properties.Title == w.worksheet {
			w.sheetID = s.Properties.SheetId
			return w.ensureHeader(ctx)
		}
	}

	resp, err := w.svc.Spreadsheets.BatchUpdate(w.spreadsheetID, &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			AddSheet: &gsheets.AddSheetRequest{
				Properties: &gsheets.SheetProperties{Title: w.worksheet},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return &screening.WriteError{Op: "create worksheet", Err: err}
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil || resp.Replies[0].AddSheet.Properties == nil {
		return &screening.WriteError{Op: "create worksheet", Err: errors.New("no sheet properties in reply")}
	}
	w.sheetID = resp.Replies[0].AddSheet.Properties.SheetId
	w.log.Infow("created worksheet", "worksheet", w.worksheet)
	return w.writeHeader(ctx)
}

func (w *Writer) ensureHeader(ctx context.Context) error {
	vr, err := w.svc.Spreadsheets.Values.Get(w.spreadsheetID, rangeRef(w.worksheet, "1:1")).Context(ctx).Do()
	if err != nil {
		return &screening.ConnectionError{System: "sheets", Err: err}
	}
	if len(vr.Values) > 0 && len(vr.Values[0]) > 0 {
		return nil
	}
	return w.writeHeader(ctx)
}

func (w *Writer) writeHeader(ctx context.Context) error {
	req := &gsheets.Request{UpdateCells: &gsheets.UpdateCellsRequest{
		Range: &gsheets.GridRange{
			SheetId:        w.sheetID,
			StartRowIndex:  0,
			EndRowIndex:    1,
			EndColumnIndex: int64(len(Header)),
			// SheetId 0 (the first sheet) must survive JSON omitempty.
			ForceSendFields: []string{"SheetId"},
		},
		Rows:   []*gsheets.RowData{headerRow()},
		Fields: "userEnteredValue",
	}}
	if err := w.batchUpdate(ctx, req); err != nil {
		return &screening.WriteError{Op: "write header", Err: err}
	}
	return nil
}

// ExistingFoundations loads the Foundation column once and seeds the skip
// cache. It returns the names found, header excluded, for startup logging.
func (w *Writer) ExistingFoundations(ctx context.Context) ([]string, error) {
	vr, err := w.svc.Spreadsheets.Values.Get(w.spreadsheetID, rangeRef(w.worksheet, "A2:A")).Context(ctx).Do()
	if err != nil {
		return nil, &screening.ConnectionError{System: "sheets", Err: err}
	}
	names := make([]string, 0, len(vr.Values))
	for _, row := range vr.Values {
		if len(row) == 0 {
			continue
		}
		name, _ := row[0].(string)
		if strings.TrimSpace(name) == "" {
			continue
		}
		names = append(names, name)
		w.written[screening.FoundationKey(name)] = struct{}{}
	}
	return names, nil
}

// AlreadyWritten reports whether the worksheet holds a row for the foundation.
// Purely cache-backed; ExistingFoundations must have run first.
func (w *Writer) AlreadyWritten(foundation string) bool {
	_, ok := w.written[screening.FoundationKey(foundation)]
	return ok
}

// Append writes one result row in a single request. The duplicate check runs
// again here so a backlog holding two rows for the same foundation still
// produces one sheet row.
func (w *Writer) Append(ctx context.Context, g screening.Grant, r screening.ScreeningResult) error {
	key := screening.FoundationKey(g.Foundation)
	if _, ok := w.written[key]; ok {
		return ErrAlreadyWritten
	}
	req := &gsheets.Request{AppendCells: &gsheets.AppendCellsRequest{
		SheetId:         w.sheetID,
		Rows:            []*gsheets.RowData{resultRow(g, r)},
		Fields:          "userEnteredValue,userEnteredFormat.backgroundColor,userEnteredFormat.textFormat",
		ForceSendFields: []string{"SheetId"},
	}}
	if err := w.batchUpdate(ctx, req); err != nil {
		return &screening.WriteError{Op: "append row", Err: err}
	}
	w.written[key] = struct{}{}
	return nil
}

// Clear removes every result row below the header, values and formatting both,
// and returns the number of rows removed.
func (w *Writer) Clear(ctx context.Context) (int, error) {
	vr, err := w.svc.Spreadsheets.Values.Get(w.spreadsheetID, rangeRef(w.worksheet, "A2:A")).Context(ctx).Do()
	if err != nil {
		return 0, &screening.ConnectionError{System: "sheets", Err: err}
	}
	req := &gsheets.Request{UpdateCells: &gsheets.UpdateCellsRequest{
		Range: &gsheets.GridRange{
			SheetId:         w.sheetID,
			StartRowIndex:   1,
			ForceSendFields: []string{"SheetId"},
		},
		Fields: "userEnteredValue,userEnteredFormat",
	}}
	if err := w.batchUpdate(ctx, req); err != nil {
		return 0, &screening.WriteError{Op: "clear rows", Err: err}
	}
	w.written = make(map[string]struct{})
	return len(vr.Values), nil
}

func (w *Writer) batchUpdate(ctx context.Context, reqs ...*gsheets.Request) error {
	_, err := w.svc.Spreadsheets.BatchUpdate(w.spreadsheetID, &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: reqs,
	}).Context(ctx).Do()
	return err
}
