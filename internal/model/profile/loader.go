package profile

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Load builds the profile from a resume document at path. PDF files get
// their text extracted; any other extension is read as plain text. A
// missing or unreadable file falls back to Default so the service still
// comes up with a placeholder persona.
func Load(path string) Profile {
	if path == "" {
		return Default()
	}

	text, err := extract(path)
	if err != nil {
		log.Printf("[profile] could not load resume from %s: %v", path, err)
		return Default()
	}

	p := Default()
	p.Resume = text
	log.Printf("[profile] loaded resume from %s (%d bytes)", path, len(text))
	return p
}

func extract(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return extractPDF(path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", fmt.Errorf("resume file %s is empty", path)
	}
	return text, nil
}

func extractPDF(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", err
	}

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return "", fmt.Errorf("failed to parse PDF: %w", err)
	}

	var parts []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			log.Printf("[profile] page %d extraction failed: %v", pageNum, err)
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, strings.TrimSpace(text))
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("no extractable text in %s", path)
	}
	return strings.Join(parts, "\n"), nil
}
