package document

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/lsvishaal/web-extraction-agent/pkg/tool"
)

func extractFrom(t *testing.T, ts *Toolset, args map[string]any) (*tool.Result, error) {
	t.Helper()

	tools, err := ts.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	require.Equal(t, "extract_document", tools[0].Name())

	return tools[0].Call(context.Background(), args)
}

// writeSpreadsheet builds a small xlsx fixture.
func writeSpreadsheet(t *testing.T, dir, name string) {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Listing"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "Price"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "Alfama 2BR"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 1450))
	require.NoError(t, f.SaveAs(filepath.Join(dir, name)))
}

// ==== TOOL SURFACE ====

func TestToolset_Surface(t *testing.T) {
	ts := New(Config{})
	assert.Equal(t, "document", ts.Name())

	tools, err := ts.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)

	assert.Contains(t, tools[0].Description(), ".pdf")
	assert.Contains(t, tools[0].Description(), ".docx")
	assert.Contains(t, tools[0].Description(), ".xlsx")

	schema := tools[0].Schema()
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "path")
	assert.Contains(t, props, "max_chars")
}

// ==== EXCEL EXTRACTION ====

func TestExtract_Spreadsheet(t *testing.T) {
	dir := t.TempDir()
	writeSpreadsheet(t, dir, "listings.xlsx")

	ts := New(Config{WorkingDir: dir})

	res, err := extractFrom(t, ts, map[string]any{"path": "listings.xlsx"})
	require.NoError(t, err)
	require.Empty(t, res.Error)

	assert.Contains(t, res.Content, "--- Sheet: Sheet1 ---")
	assert.Contains(t, res.Content, "A1: Listing")
	assert.Contains(t, res.Content, "A2: Alfama 2BR")
	assert.Contains(t, res.Content, "B2: 1450")

	assert.Equal(t, "xlsx", res.Metadata["format"])
	assert.Equal(t, 1, res.Metadata["pages"])
	assert.Equal(t, false, res.Metadata["truncated"])
}

func TestExtract_Truncation(t *testing.T) {
	dir := t.TempDir()
	writeSpreadsheet(t, dir, "listings.xlsx")

	ts := New(Config{WorkingDir: dir})

	res, err := extractFrom(t, ts, map[string]any{
		"path":      "listings.xlsx",
		"max_chars": float64(10),
	})
	require.NoError(t, err)
	require.Empty(t, res.Error)

	assert.Contains(t, res.Content, "... (truncated)")
	assert.Equal(t, true, res.Metadata["truncated"])
}

// ==== MALFORMED INPUT ====

func TestExtract_CorruptPDF(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.pdf"), []byte("not a pdf"), 0644))

	ts := New(Config{WorkingDir: dir})

	res, err := extractFrom(t, ts, map[string]any{"path": "broken.pdf"})
	require.NoError(t, err)
	assert.Contains(t, res.Error, "extraction failed")
}

func TestExtract_CorruptWordDocument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.docx"), []byte("not a zip"), 0644))

	ts := New(Config{WorkingDir: dir})

	res, err := extractFrom(t, ts, map[string]any{"path": "broken.docx"})
	require.NoError(t, err)
	assert.Contains(t, res.Error, "extraction failed")
}

// ==== DISPATCH / LIMITS ====

func TestExtract_UnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("plain text"), 0644))

	ts := New(Config{WorkingDir: dir})

	res, err := extractFrom(t, ts, map[string]any{"path": "notes.txt"})
	require.NoError(t, err)
	assert.Contains(t, res.Error, "unsupported document format")
	assert.Contains(t, res.Error, ".pdf")
}

func TestExtract_MissingFile(t *testing.T) {
	ts := New(Config{WorkingDir: t.TempDir()})

	res, err := extractFrom(t, ts, map[string]any{"path": "ghost.pdf"})
	require.NoError(t, err)
	assert.Contains(t, res.Error, "cannot access file")
}

func TestExtract_FileTooLarge(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.pdf"), make([]byte, 64), 0644))

	ts := New(Config{WorkingDir: dir, MaxFileSize: 16})

	res, err := extractFrom(t, ts, map[string]any{"path": "big.pdf"})
	require.NoError(t, err)
	assert.Contains(t, res.Error, "file too large")
}

func TestExtract_RequiresPath(t *testing.T) {
	ts := New(Config{})

	_, err := extractFrom(t, ts, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path")
}

// ==== PATH CONFINEMENT ====

func TestExtract_RejectsAbsolutePath(t *testing.T) {
	ts := New(Config{WorkingDir: t.TempDir()})

	res, err := extractFrom(t, ts, map[string]any{"path": "/etc/passwd"})
	require.NoError(t, err)
	assert.Contains(t, res.Error, "absolute paths not allowed")
}

func TestExtract_RejectsTraversal(t *testing.T) {
	ts := New(Config{WorkingDir: t.TempDir()})

	res, err := extractFrom(t, ts, map[string]any{"path": "../secrets.pdf"})
	require.NoError(t, err)
	assert.Contains(t, res.Error, "traversal")
}

// ==== PARSER DISPATCH ====

func TestParsers_CanParse(t *testing.T) {
	tests := []struct {
		parser Parser
		path   string
		want   bool
	}{
		{&pdfParser{}, "report.pdf", true},
		{&pdfParser{}, "report.PDF", true},
		{&pdfParser{}, "report.docx", false},
		{&wordParser{}, "letter.docx", true},
		{&wordParser{}, "letter.xlsx", false},
		{&excelParser{}, "data.xlsx", true},
		{&excelParser{}, "data.pdf", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.parser.CanParse(tt.path), "CanParse(%q)", tt.path)
	}
}

func TestSupportedExtensions(t *testing.T) {
	ts := New(Config{})
	assert.Equal(t, []string{".pdf", ".docx", ".xlsx"}, ts.supportedExtensions())
}
