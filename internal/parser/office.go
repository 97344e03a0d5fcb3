package parser

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"report-rag/internal/models"
)

var (
	docxTextRe  = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>|</w:p>`)
	pptxTextRe  = regexp.MustCompile(`<a:t(?:\s[^>]*)?>([^<]*)</a:t>|</a:p>`)
	slideNameRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
)

// DOCX has no page numbers, the whole body is page 1
func parseDOCX(path string, _ []byte) ([]models.Page, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content := r.Editable().GetContent()
	return []models.Page{{Number: 1, Text: extractTextFromXML(content, docxTextRe)}}, nil
}

// one page per slide, in slide order
func parsePPTX(_ string, data []byte) ([]models.Page, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	var pages []models.Page
	for _, file := range zr.File {
		m := slideNameRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])

		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("slide %d: %w", num, err)
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("slide %d: %w", num, err)
		}
		pages = append(pages, models.Page{Number: num, Text: extractTextFromXML(string(raw), pptxTextRe)})
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	return pages, nil
}

// one page per sheet, rendered as a comma separated table
func parseXLSX(_ string, data []byte) ([]models.Page, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []models.Page
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheetName, err)
		}
		pages = append(pages, models.Page{
			Number: sheetNum + 1,
			Text:   formatTable(sheetNum+1, sheetName, rows),
		})
	}
	return pages, nil
}

func formatTable(n int, name string, rows [][]string) string {
	var text strings.Builder
	fmt.Fprintf(&text, "TABLE %d: %s\n", n, name)
	empty := true
	for _, row := range rows {
		line := strings.TrimSpace(strings.Join(row, ", "))
		if strings.Trim(line, ", ") == "" {
			continue
		}
		empty = false
		text.WriteString(line)
		text.WriteString("\n")
	}
	if empty {
		return ""
	}
	return text.String()
}

// extractTextFromXML keeps the text runs matched by re, one line per paragraph
func extractTextFromXML(xmlContent string, re *regexp.Regexp) string {
	var text strings.Builder
	for _, m := range re.FindAllStringSubmatch(xmlContent, -1) {
		if strings.HasPrefix(m[0], "</") {
			text.WriteString("\n")
			continue
		}
		text.WriteString(html.UnescapeString(m[1]))
	}
	return text.String()
}
