package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "meterbook.yaml")
	cfg := `data_dir: data
default_book: main.csv
tenants: [A, B, C]
logger:
  level: error
`
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseReadings(t *testing.T) {
	got, err := parseReadings([]string{"A=10", " B = 2.5"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(got, map[string]float64{"A": 10, "B": 2.5}) {
		t.Fatalf("readings = %v", got)
	}
	for _, bad := range []string{"A", "=1", "A=x"} {
		if _, err := parseReadings([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestRecordStatusRevertRoundTrip(t *testing.T) {
	cfg := writeConfig(t)

	if _, err := run(t, "--config", cfg, "record", "-r", "A=100", "-r", "B=100", "-r", "C=100"); err != nil {
		t.Fatalf("baseline: %v", err)
	}
	out, err := run(t, "--config", cfg, "record", "-r", "A=150", "-r", "B=120", "-r", "C=100",
		"--recharge-tenant", "A", "--recharge-amount", "300")
	if err != nil {
		t.Fatalf("recharge: %v", err)
	}
	if !strings.Contains(out, "Recorded 4 rows") || !strings.Contains(out, "Rs.300.00") {
		t.Fatalf("record output = %q", out)
	}

	if _, err := run(t, "--config", cfg, "record", "-r", "A=1"); err == nil {
		t.Fatalf("expected validation error for partial batch")
	}

	out, err = run(t, "--config", cfg, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Last recharge: A paid 300.0") || !strings.Contains(out, "(pending)") {
		t.Fatalf("status output = %q", out)
	}

	out, err = run(t, "--config", cfg, "revert")
	if err != nil {
		t.Fatalf("revert preview: %v", err)
	}
	if !strings.Contains(out, "Would remove 4 rows") {
		t.Fatalf("preview output = %q", out)
	}

	out, err = run(t, "--config", cfg, "revert", "--yes")
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if !strings.Contains(out, "Removed 4 rows") {
		t.Fatalf("revert output = %q", out)
	}

	out, err = run(t, "--config", cfg, "history", "--type", "recharge")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "0 rows") {
		t.Fatalf("history output = %q", out)
	}
}

func TestMetricsAndReport(t *testing.T) {
	cfg := writeConfig(t)
	if _, err := run(t, "--config", cfg, "record", "-r", "A=100", "-r", "B=100", "-r", "C=100"); err != nil {
		t.Fatalf("baseline: %v", err)
	}
	if _, err := run(t, "--config", cfg, "record", "-r", "A=110", "-r", "B=104", "-r", "C=101"); err != nil {
		t.Fatalf("second batch: %v", err)
	}

	out, err := run(t, "--config", cfg, "metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	var m struct {
		TotalUsage float64 `json:"total_usage"`
	}
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("decode metrics: %v (%q)", err, out)
	}
	if m.TotalUsage != 15 {
		t.Fatalf("total usage = %v", m.TotalUsage)
	}

	target := filepath.Join(t.TempDir(), "ledger.xlsx")
	if _, err := run(t, "--config", cfg, "report", "--format", "xlsx", "--out", target); err != nil {
		t.Fatalf("report: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil || !bytes.HasPrefix(data, []byte("PK")) {
		t.Fatalf("xlsx not written: %v", err)
	}

	if _, err := run(t, "--config", cfg, "report", "--format", "doc", "--out", target); err == nil {
		t.Fatalf("expected unknown format error")
	}
}

func TestBooksImport(t *testing.T) {
	cfg := writeConfig(t)
	src := filepath.Join(t.TempDir(), "july.csv")
	content := "Type,Timestamp,Tenant,Reading/Amount,Consumption,Balances\r\n" +
		"READING,2025-07-01 09:00:00,A,100.0,0.0,A: Rs.0.00; B: Rs.0.00; C: Rs.0.00\r\n"
	if err := os.WriteFile(src, []byte(content), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	out, err := run(t, "--config", cfg, "books", "import", src)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "uploads/july.csv") {
		t.Fatalf("import output = %q", out)
	}
	out, err = run(t, "--config", cfg, "books")
	if err != nil {
		t.Fatalf("books: %v", err)
	}
	if !strings.Contains(out, "uploads/july.csv") {
		t.Fatalf("books output = %q", out)
	}
}
