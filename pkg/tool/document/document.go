// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 The web-extraction-agent authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package document extracts text from local binary documents so the agent
// can analyze files the user downloaded or scraped.
//
// One tool surfaces to the model: extract_document, which dispatches on
// file extension to a PDF, Word, or Excel parser. Paths are confined to
// the configured working directory.
package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"github.com/lsvishaal/web-extraction-agent/pkg/tool"
)

const (
	defaultMaxFileSize = 10 * 1024 * 1024
	defaultMaxChars    = 20000

	// maxCells bounds spreadsheet extraction so one worksheet cannot
	// swamp the model context.
	maxCells = 1000
)

// Extraction is the outcome of parsing one document.
type Extraction struct {
	Content   string
	Format    string
	Pages     int
	WordCount int
}

// Parser extracts text from one family of binary formats.
type Parser interface {
	CanParse(path string) bool
	Extensions() []string
	Parse(ctx context.Context, path string) (*Extraction, error)
}

// Config configures the document toolset.
type Config struct {
	// WorkingDir confines extraction paths. Default: current directory.
	WorkingDir string

	// MaxFileSize rejects larger files before parsing. Default: 10MB.
	MaxFileSize int64
}

// Toolset exposes local document extraction to the agent.
type Toolset struct {
	workingDir  string
	maxFileSize int64
	parsers     []Parser
}

// New creates the document toolset.
func New(cfg Config) *Toolset {
	if cfg.WorkingDir == "" {
		cfg.WorkingDir = "."
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}

	return &Toolset{
		workingDir:  cfg.WorkingDir,
		maxFileSize: cfg.MaxFileSize,
		parsers: []Parser{
			&pdfParser{},
			&wordParser{},
			&excelParser{},
		},
	}
}

// Name identifies the toolset.
func (ts *Toolset) Name() string {
	return "document"
}

type extractArgs struct {
	Path     string `json:"path" jsonschema:"required,description=Path to the document relative to the working directory"`
	MaxChars int    `json:"max_chars,omitempty" jsonschema:"description=Truncate extracted text to this many characters (default 20000),minimum=1"`
}

// Tools returns the extraction tool.
func (ts *Toolset) Tools(ctx context.Context) ([]tool.Tool, error) {
	return []tool.Tool{&extractTool{ts: ts}}, nil
}

type extractTool struct {
	ts *Toolset
}

func (t *extractTool) Name() string {
	return "extract_document"
}

func (t *extractTool) Description() string {
	return fmt.Sprintf(
		"Extract text content from a local document file (%s). Use after downloading or scraping a file to read what is inside it.",
		strings.Join(t.ts.supportedExtensions(), ", "),
	)
}

func (t *extractTool) Schema() map[string]any {
	return tool.MustSchemaFor[extractArgs]()
}

func (t *extractTool) Call(ctx context.Context, args map[string]any) (*tool.Result, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("path parameter is required")
	}

	maxChars := defaultMaxChars
	if v, ok := args["max_chars"].(float64); ok && v > 0 {
		maxChars = int(v)
	} else if v, ok := args["max_chars"].(int); ok && v > 0 {
		maxChars = v
	}

	return t.ts.extract(ctx, path, maxChars)
}

func (ts *Toolset) extract(ctx context.Context, path string, maxChars int) (*tool.Result, error) {
	fullPath, err := ts.resolvePath(path)
	if err != nil {
		return &tool.Result{Error: err.Error()}, nil
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return &tool.Result{Error: fmt.Sprintf("cannot access file: %v", err)}, nil
	}
	if info.Size() > ts.maxFileSize {
		return &tool.Result{
			Error: fmt.Sprintf("file too large: %d bytes (max %d)", info.Size(), ts.maxFileSize),
		}, nil
	}

	parser := ts.findParser(fullPath)
	if parser == nil {
		return &tool.Result{
			Error: fmt.Sprintf("unsupported document format %q, supported: %s",
				filepath.Ext(path), strings.Join(ts.supportedExtensions(), ", ")),
		}, nil
	}

	extraction, err := parser.Parse(ctx, fullPath)
	if err != nil {
		return &tool.Result{Error: fmt.Sprintf("extraction failed: %v", err)}, nil
	}

	content := extraction.Content
	truncated := false
	if len(content) > maxChars {
		content = content[:maxChars] + "\n... (truncated)"
		truncated = true
	}

	return &tool.Result{
		Content: content,
		Metadata: map[string]any{
			"format":     extraction.Format,
			"pages":      extraction.Pages,
			"word_count": extraction.WordCount,
			"truncated":  truncated,
		},
	}, nil
}

// resolvePath confines a user-supplied path to the working directory.
func (ts *Toolset) resolvePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths not allowed, use relative paths")
	}

	cleaned := filepath.Clean(path)
	if strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("directory traversal not allowed")
	}

	fullPath, err := filepath.Abs(filepath.Join(ts.workingDir, cleaned))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	workDir, err := filepath.Abs(ts.workingDir)
	if err != nil {
		return "", fmt.Errorf("invalid working directory: %w", err)
	}

	if fullPath != workDir && !strings.HasPrefix(fullPath, workDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes working directory")
	}

	return fullPath, nil
}

func (ts *Toolset) findParser(path string) Parser {
	for _, p := range ts.parsers {
		if p.CanParse(path) {
			return p
		}
	}
	return nil
}

func (ts *Toolset) supportedExtensions() []string {
	var exts []string
	for _, p := range ts.parsers {
		exts = append(exts, p.Extensions()...)
	}
	return exts
}

// ---- PDF ----

type pdfParser struct{}

func (p *pdfParser) CanParse(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

func (p *pdfParser) Extensions() []string {
	return []string{".pdf"}
}

func (p *pdfParser) Parse(_ context.Context, path string) (*Extraction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat PDF: %w", err)
	}

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to parse PDF: %w", err)
	}

	var parts []string
	totalPages := reader.NumPage()
	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			parts = append(parts, fmt.Sprintf("--- Page %d (extraction failed: %v) ---", pageNum, err))
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, fmt.Sprintf("--- Page %d ---\n%s", pageNum, text))
		}
	}

	content := strings.Join(parts, "\n\n")
	return &Extraction{
		Content:   content,
		Format:    "pdf",
		Pages:     totalPages,
		WordCount: len(strings.Fields(content)),
	}, nil
}

// ---- Word ----

type wordParser struct{}

func (p *wordParser) CanParse(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".docx")
}

func (p *wordParser) Extensions() []string {
	return []string{".docx"}
}

func (p *wordParser) Parse(_ context.Context, path string) (*Extraction, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Word document: %w", err)
	}
	defer doc.Close()

	content := doc.Editable().GetContent()
	return &Extraction{
		Content:   content,
		Format:    "docx",
		Pages:     len(strings.Split(content, "\n\n")),
		WordCount: len(strings.Fields(content)),
	}, nil
}

// ---- Excel ----

type excelParser struct{}

func (p *excelParser) CanParse(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xlsx")
}

func (p *excelParser) Extensions() []string {
	return []string{".xlsx"}
}

func (p *excelParser) Parse(_ context.Context, path string) (*Extraction, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	var parts []string
	cellCount := 0

	for _, sheetName := range sheets {
		var sheetText strings.Builder
		sheetText.WriteString(fmt.Sprintf("--- Sheet: %s ---\n", sheetName))

		rows, err := f.GetRows(sheetName)
		if err != nil {
			sheetText.WriteString(fmt.Sprintf("error reading sheet: %v\n", err))
			parts = append(parts, sheetText.String())
			continue
		}

		for rowIndex, row := range rows {
			if cellCount >= maxCells {
				break
			}
			for colIndex, cell := range row {
				if cellCount >= maxCells {
					sheetText.WriteString("... (truncated)\n")
					break
				}
				text := strings.TrimSpace(cell)
				if text == "" {
					continue
				}
				cellRef, err := excelize.CoordinatesToCellName(colIndex+1, rowIndex+1)
				if err != nil {
					cellRef = fmt.Sprintf("R%dC%d", rowIndex+1, colIndex+1)
				}
				sheetText.WriteString(fmt.Sprintf("%s: %s\n", cellRef, text))
				cellCount++
			}
		}

		if text := strings.TrimSpace(sheetText.String()); text != "" {
			parts = append(parts, text)
		}
	}

	content := strings.Join(parts, "\n\n")
	return &Extraction{
		Content:   content,
		Format:    "xlsx",
		Pages:     len(sheets),
		WordCount: len(strings.Fields(content)),
	}, nil
}

// Ensure interfaces are implemented
var (
	_ tool.Toolset = (*Toolset)(nil)
	_ tool.Tool    = (*extractTool)(nil)
)
