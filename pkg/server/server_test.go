package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/gridmind/gridmind/pkg/agent"
	"github.com/gridmind/gridmind/pkg/relay"
	"github.com/gridmind/gridmind/pkg/sandbox"
	"github.com/gridmind/gridmind/pkg/store/sqlite"
	"github.com/gridmind/gridmind/pkg/undo"
)

func newTestServer(t *testing.T) (*httptest.Server, *sandbox.Sandbox) {
	t.Helper()
	ts, err := sqlite.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { ts.Close() })

	sb, err := sandbox.New(ts, t.TempDir())
	if err != nil {
		t.Fatalf("failed to create sandbox: %v", err)
	}
	prompts, err := agent.LoadPrompts("")
	if err != nil {
		t.Fatalf("failed to load prompts: %v", err)
	}

	um := undo.New(ts, 0)
	rq := relay.New()
	ag := agent.New(ts, nil, sb, um, rq, prompts, 0, 0)

	srv := httptest.NewServer(New(ts, ag, um, rq, sb).Handler())
	t.Cleanup(srv.Close)
	return srv, sb
}

func uploadCSV(t *testing.T, srv *httptest.Server, fileName, data string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	io.Copy(fw, strings.NewReader(data))
	mw.Close()

	resp, err := http.Post(srv.URL+"/api/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	return body
}

func TestUploadAndListTables(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := uploadCSV(t, srv, "sales report.csv", "id,amount\n1,10\n2,20\n3,30\n")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["name"] != "sales_report" {
		t.Errorf("table name = %v, want sales_report", body["name"])
	}

	resp, err := http.Get(srv.URL + "/api/tables")
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	listing := decodeBody(t, resp)
	tables := listing["tables"].([]any)
	if len(tables) != 1 {
		t.Fatalf("tables = %v, want 1 entry", tables)
	}
	info := tables[0].(map[string]any)
	if info["rows"] != float64(3) {
		t.Errorf("rows = %v, want 3", info["rows"])
	}
}

func TestTableRowsPaging(t *testing.T) {
	srv, _ := newTestServer(t)

	var sb strings.Builder
	sb.WriteString("id\n")
	for i := 1; i <= 10; i++ {
		sb.WriteString(strconv.Itoa(i))
		sb.WriteString("\n")
	}
	resp := uploadCSV(t, srv, "nums.csv", sb.String())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/api/tables/nums/rows?offset=8&limit=5")
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	body := decodeBody(t, resp)
	records := body["records"].([]any)
	if len(records) != 2 {
		t.Errorf("records = %d, want 2 (past offset 8 of 10)", len(records))
	}
	if body["total_rows"] != float64(10) {
		t.Errorf("total_rows = %v, want 10", body["total_rows"])
	}
}

func TestGetTableNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/tables/ghost")
	if err != nil {
		t.Fatalf("get table: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestConfirmWithoutPreviewConflict(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/agent/confirm", "application/json", nil)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestUndoEmptyConflict(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/undo", "application/json", nil)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/undo")
	if err != nil {
		t.Fatalf("undo status: %v", err)
	}
	body := decodeBody(t, resp)
	if body["available"] != false {
		t.Errorf("available = %v, want false", body["available"])
	}
}

func TestExecuteFallbackPath(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := uploadCSV(t, srv, "items.csv", "id,name\n1,a\n2,b\n")
	resp.Body.Close()

	payload := strings.NewReader(`{"query": "show everything"}`)
	resp, err := http.Post(srv.URL+"/api/agent/execute", "application/json", payload)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	body := decodeBody(t, resp)
	if body["success"] != true {
		t.Fatalf("execute failed: %v", body)
	}
	if body["answer"] == "" {
		t.Error("empty answer")
	}
}

func TestExecuteMissingQuery(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/agent/execute", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUploadKeepsScratchCopy(t *testing.T) {
	srv, sb := newTestServer(t)

	resp := uploadCSV(t, srv, "sales.csv", "id\n1\n")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	path, err := sb.ScratchPath("sales.csv")
	if err != nil {
		t.Fatalf("ScratchPath: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("scratch copy missing: %v", err)
	}
	if string(raw) != "id\n1\n" {
		t.Errorf("scratch copy = %q", raw)
	}
}

func TestExportTable(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := uploadCSV(t, srv, "items.csv", "id,name\n1,a\n2,b\n")
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/api/tables/items/export")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type = %q", ct)
	}

	raw, _ := io.ReadAll(resp.Body)
	if string(raw) != "id,name\n1,a\n2,b\n" {
		t.Errorf("export body = %q", raw)
	}
}

func TestDeleteTable(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := uploadCSV(t, srv, "items.csv", "id\n1\n")
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/tables/items", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/tables/items")
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", resp.StatusCode)
	}
}

func TestRenameTable(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := uploadCSV(t, srv, "draft.csv", "id\n1\n2\n")
	resp.Body.Close()

	payload := strings.NewReader(`{"source_table": "draft", "target_name": "final"}`)
	resp, err := http.Post(srv.URL+"/api/tables/rename", "application/json", payload)
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rename status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/tables/final")
	if err != nil {
		t.Fatalf("get renamed: %v", err)
	}
	body := decodeBody(t, resp)
	if body["rows"] != float64(2) {
		t.Errorf("rows = %v, want 2", body["rows"])
	}

	resp, err = http.Get(srv.URL + "/api/tables/draft")
	if err != nil {
		t.Fatalf("get old name: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("old name status = %d, want 404", resp.StatusCode)
	}
}

func TestRenameRejectsBadName(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := uploadCSV(t, srv, "draft.csv", "id\n1\n")
	resp.Body.Close()

	payload := strings.NewReader(`{"source_table": "draft", "target_name": "x; DROP TABLE y"}`)
	resp, err := http.Post(srv.URL+"/api/tables/rename", "application/json", payload)
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestOverwriteTable(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := uploadCSV(t, srv, "old.csv", "id\n1\n")
	resp.Body.Close()
	resp = uploadCSV(t, srv, "new.csv", "id\n1\n2\n3\n")
	resp.Body.Close()

	payload := strings.NewReader(`{"source_table": "new", "target_name": "old"}`)
	resp, err := http.Post(srv.URL+"/api/tables/overwrite", "application/json", payload)
	if err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("overwrite status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/tables/old")
	if err != nil {
		t.Fatalf("get overwritten: %v", err)
	}
	body := decodeBody(t, resp)
	if body["rows"] != float64(3) {
		t.Errorf("rows = %v, want 3", body["rows"])
	}
}

func TestRawSQLQuery(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := uploadCSV(t, srv, "items.csv", "id\n1\n2\n3\n")
	resp.Body.Close()

	payload := strings.NewReader(`{"sql": "SELECT COUNT(*) FROM \"items\""}`)
	resp, err := http.Post(srv.URL+"/api/query/sql", "application/json", payload)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	body := decodeBody(t, resp)
	if body["success"] != true {
		t.Fatalf("query failed: %v", body)
	}
	if body["value"] != float64(3) {
		t.Errorf("value = %v, want 3", body["value"])
	}

	// Denylisted constructs are rejected the same way as agent code.
	payload = strings.NewReader(`{"sql": "PRAGMA writable_schema = ON"}`)
	resp, err = http.Post(srv.URL+"/api/query/sql", "application/json", payload)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	body = decodeBody(t, resp)
	if body["success"] != false {
		t.Errorf("denylisted sql succeeded: %v", body)
	}
}

func TestSemanticMappingEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := uploadCSV(t, srv, "orders.csv", "order_id,customer_id\n1,10\n")
	resp.Body.Close()
	resp = uploadCSV(t, srv, "customers.csv", "Customer_ID,name\n10,ada\n")
	resp.Body.Close()

	payload := strings.NewReader(`{"table_a": "orders", "table_b": "customers"}`)
	resp, err := http.Post(srv.URL+"/api/semantic/mapping", "application/json", payload)
	if err != nil {
		t.Fatalf("mapping: %v", err)
	}
	body := decodeBody(t, resp)
	mappings := body["mappings"].([]any)
	if len(mappings) != 1 {
		t.Fatalf("mappings = %v, want 1", mappings)
	}
	m := mappings[0].(map[string]any)
	if m["table_a_col"] != "customer_id" || m["table_b_col"] != "Customer_ID" {
		t.Errorf("mapping = %v", m)
	}
}

func TestAutoDetectNeedsTwoTables(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := uploadCSV(t, srv, "only.csv", "id\n1\n")
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/api/semantic/auto-detect")
	if err != nil {
		t.Fatalf("auto-detect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}
