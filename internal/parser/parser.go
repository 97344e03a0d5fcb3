package parser

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"code.sajari.com/docconv/v2"
	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"

	"report-rag/internal/config"
	"report-rag/internal/models"
)

// pageReader extracts the pages of one file. data holds the raw file bytes.
type pageReader func(path string, data []byte) ([]models.Page, error)

type Parser struct {
	cfg     config.IngestConfig
	readers map[string]pageReader
}

// New returns a parser accepting the extensions listed in cfg
func New(cfg config.IngestConfig) (*Parser, error) {
	all := map[string]pageReader{
		".pdf":  parsePDF,
		".docx": parseDOCX,
		".pptx": parsePPTX,
		".xlsx": parseXLSX,
		".xlsm": parseXLSX,
		".txt":  parseText,
	}

	p := &Parser{cfg: cfg, readers: make(map[string]pageReader)}
	for _, ext := range cfg.Extensions {
		r, ok := all[ext]
		if !ok {
			return nil, fmt.Errorf("unsupported file format: %s", ext)
		}
		p.readers[ext] = r
	}
	return p, nil
}

// CanParse reports whether path has one of the configured extensions
func (p *Parser) CanParse(path string) bool {
	_, ok := p.readers[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extensions lists the accepted extensions in a stable order
func (p *Parser) Extensions() []string {
	exts := make([]string, 0, len(p.readers))
	for ext := range p.readers {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// ParseFile extracts the non-empty pages of the file at path
func (p *Parser) ParseFile(path string) (models.Document, []models.Page, error) {
	ext := strings.ToLower(filepath.Ext(path))
	read, ok := p.readers[ext]
	if !ok {
		return models.Document{}, nil, fmt.Errorf("unsupported file format: %s", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return models.Document{}, nil, err
	}

	doc := models.Document{
		ID:       filepath.Base(path),
		Bytes:    int64(len(data)),
		Checksum: crc32.ChecksumIEEE(data),
	}

	pages, err := read(path, data)
	if err != nil {
		return doc, nil, fmt.Errorf("failed to parse %s: %w", doc.ID, err)
	}
	var kept []models.Page
	for _, page := range pages {
		if page.Number != models.UnknownPage {
			doc.Pages++
		}
		page.Text = normalizeText(page.Text)
		if page.Text == "" {
			continue
		}
		kept = append(kept, page)
	}
	return doc, kept, nil
}

// pdfToText is the pdftotext fallback. docconv runs it with -nopgbrk, so the
// body carries no page boundaries.
var pdfToText = func(path string) (string, error) {
	res, err := docconv.ConvertPath(path)
	if err != nil {
		return "", err
	}
	return res.Body, nil
}

func parsePDF(path string, data []byte) ([]models.Page, error) {
	pages, err := readPDFPages(data)
	if err == nil && hasText(pages) {
		return pages, nil
	}

	if err != nil {
		log.Warn().Err(err).Str("file", path).Msg("PDF reader failed, falling back to pdftotext")
	} else {
		log.Warn().Str("file", path).Msg("PDF reader found no text, falling back to pdftotext")
	}
	body, convErr := pdfToText(path)
	if convErr != nil {
		if err == nil {
			// keep the empty pages, the file simply has no text layer
			return pages, nil
		}
		return nil, fmt.Errorf("%w (fallback: %v)", err, convErr)
	}
	return []models.Page{{Number: models.UnknownPage, Text: body}}, nil
}

func hasText(pages []models.Page) bool {
	for _, page := range pages {
		if strings.TrimSpace(page.Text) != "" {
			return true
		}
	}
	return false
}

func readPDFPages(data []byte) (pages []models.Page, err error) {
	// the pdf package panics on some malformed cross reference tables
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("corrupt pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	numPages := reader.NumPage()
	pages = make([]models.Page, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, models.Page{Number: i})
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, models.Page{Number: i, Text: pageText})
	}
	return pages, nil
}

func parseText(_ string, data []byte) ([]models.Page, error) {
	return []models.Page{{Number: 1, Text: string(data)}}, nil
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}
