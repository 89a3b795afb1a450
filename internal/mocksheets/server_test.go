package mocksheets_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/stembridge-labs/grant-screening-pipeline/internal/mocksheets"
)

func newService(t *testing.T, ts *httptest.Server) *gsheets.Service {
	t.Helper()
	svc, err := gsheets.NewService(context.Background(),
		option.WithEndpoint(ts.URL), option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("new sheets service: %v", err)
	}
	return svc
}

func textRow(vals ...string) *gsheets.RowData {
	cells := make([]*gsheets.CellData, 0, len(vals))
	for _, v := range vals {
		cells = append(cells, &gsheets.CellData{
			UserEnteredValue: &gsheets.ExtendedValue{StringValue: &v},
		})
	}
	return &gsheets.RowData{Values: cells}
}

func TestMockSheets_MetadataListsWorksheets(t *testing.T) {
	t.Parallel()

	srv := mocksheets.New("sheet-1")
	srv.Seed("Grant Screening", [][]string{{"Foundation"}, {"Acme Fund"}})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	svc := newService(t, ts)

	meta, err := svc.Spreadsheets.Get("sheet-1").Do()
	if err != nil {
		t.Fatalf("get metadata: %v", err)
	}
	titles := make([]string, 0, len(meta.Sheets))
	for _, s := range meta.Sheets {
		titles = append(titles, s.Properties.Title)
	}
	if len(titles) != 2 || titles[0] != "Sheet1" || titles[1] != "Grant Screening" {
		t.Fatalf("unexpected worksheet titles: %v", titles)
	}

	_, err = svc.Spreadsheets.Get("other").Do()
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != 404 {
		t.Fatalf("expected 404 for unknown spreadsheet, got %v", err)
	}
}

func TestMockSheets_ValuesSlicing(t *testing.T) {
	t.Parallel()

	srv := mocksheets.New("sheet-1")
	srv.Seed("Grant Screening", [][]string{
		{"Foundation", "Verdict"},
		{"Acme Fund", "GREEN"},
		{"Beta Trust", "RED"},
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	svc := newService(t, ts)

	vr, err := svc.Spreadsheets.Values.Get("sheet-1", "'Grant Screening'!A2:A").Do()
	if err != nil {
		t.Fatalf("values get: %v", err)
	}
	if len(vr.Values) != 2 || vr.Values[0][0] != "Acme Fund" || vr.Values[1][0] != "Beta Trust" {
		t.Fatalf("unexpected column values: %v", vr.Values)
	}

	vr, err = svc.Spreadsheets.Values.Get("sheet-1", "'Grant Screening'!1:1").Do()
	if err != nil {
		t.Fatalf("values get header: %v", err)
	}
	if len(vr.Values) != 1 || len(vr.Values[0]) != 2 || vr.Values[0][1] != "Verdict" {
		t.Fatalf("unexpected header row: %v", vr.Values)
	}

	vr, err = svc.Spreadsheets.Values.Get("sheet-1", "'Sheet1'!A2:A").Do()
	if err != nil {
		t.Fatalf("values get blank sheet: %v", err)
	}
	if len(vr.Values) != 0 {
		t.Fatalf("expected no values on blank sheet, got %v", vr.Values)
	}
}

func TestMockSheets_BatchUpdateLifecycle(t *testing.T) {
	t.Parallel()

	srv := mocksheets.New("sheet-1")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	svc := newService(t, ts)

	resp, err := svc.Spreadsheets.BatchUpdate("sheet-1", &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			AddSheet: &gsheets.AddSheetRequest{
				Properties: &gsheets.SheetProperties{Title: "Results"},
			},
		}},
	}).Do()
	if err != nil {
		t.Fatalf("add sheet: %v", err)
	}
	sheetID := resp.Replies[0].AddSheet.Properties.SheetId
	if sheetID == 0 {
		t.Fatalf("expected non-zero sheet id for added worksheet")
	}

	title := "Acme Fund"
	link := &gsheets.CellData{
		UserEnteredValue: &gsheets.ExtendedValue{StringValue: &title},
		UserEnteredFormat: &gsheets.CellFormat{
			BackgroundColor: &gsheets.Color{Red: 0.5, Green: 0.5, Blue: 0.5},
			TextFormat: &gsheets.TextFormat{
				Link:      &gsheets.Link{Uri: "https://example.org/acme"},
				Underline: true,
			},
		},
	}
	_, err = svc.Spreadsheets.BatchUpdate("sheet-1", &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			AppendCells: &gsheets.AppendCellsRequest{
				SheetId:         sheetID,
				Rows:            []*gsheets.RowData{textRow("Foundation"), {Values: []*gsheets.CellData{link}}},
				Fields:          "userEnteredValue,userEnteredFormat",
				ForceSendFields: []string{"SheetId"},
			},
		}},
	}).Do()
	if err != nil {
		t.Fatalf("append cells: %v", err)
	}
	if got := srv.RowCount("Results"); got != 2 {
		t.Fatalf("row count after append = %d, want 2", got)
	}
	cell, ok := srv.Cell("Results", 1, 0)
	if !ok {
		t.Fatalf("appended cell not found")
	}
	if cell.Text != "Acme Fund" || cell.Link != "https://example.org/acme" || !cell.Underline {
		t.Fatalf("cell formatting lost in append: %+v", cell)
	}
	if cell.Background == nil || cell.Background.Red != 0.5 {
		t.Fatalf("cell background lost in append: %+v", cell.Background)
	}

	_, err = svc.Spreadsheets.BatchUpdate("sheet-1", &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			UpdateCells: &gsheets.UpdateCellsRequest{
				Range: &gsheets.GridRange{
					SheetId:         sheetID,
					StartRowIndex:   1,
					ForceSendFields: []string{"SheetId"},
				},
				Fields: "userEnteredValue,userEnteredFormat",
			},
		}},
	}).Do()
	if err != nil {
		t.Fatalf("clear below header: %v", err)
	}
	if got := srv.RowCount("Results"); got != 1 {
		t.Fatalf("row count after clear = %d, want 1", got)
	}

	_, err = svc.Spreadsheets.BatchUpdate("sheet-1", &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			AddSheet: &gsheets.AddSheetRequest{
				Properties: &gsheets.SheetProperties{Title: "Results"},
			},
		}},
	}).Do()
	if err == nil {
		t.Fatalf("expected duplicate worksheet title to be rejected")
	}
}

func TestMockSheets_RejectsUnsupportedRequest(t *testing.T) {
	t.Parallel()

	srv := mocksheets.New("sheet-1")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	svc := newService(t, ts)

	_, err := svc.Spreadsheets.BatchUpdate("sheet-1", &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			RepeatCell: &gsheets.RepeatCellRequest{},
		}},
	}).Do()
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != 400 {
		t.Fatalf("expected 400 for unsupported request, got %v", err)
	}
}
