package report

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// pdfTimeout bounds one headless render.
const pdfTimeout = 60 * time.Second

// chromiumCandidates are tried in order when locating a headless browser.
var chromiumCandidates = []string{"chromium", "chromium-browser", "google-chrome", "google-chrome-stable"}

// PDFRenderer converts rendered HTML into PDF bytes.
type PDFRenderer func(ctx context.Context, html []byte) ([]byte, error)

// ChromiumPDF renders HTML to PDF with a headless Chromium. It returns an
// error when no browser binary is installed; callers fall back to HTML.
func ChromiumPDF(ctx context.Context, html []byte) ([]byte, error) {
	bin, err := findChromium()
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "maes-pdf-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "report.html")
	out := filepath.Join(dir, "report.pdf")
	if err := os.WriteFile(in, html, 0o600); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, pdfTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, bin,
		"--headless",
		"--disable-gpu",
		"--no-sandbox",
		"--print-to-pdf="+out,
		"file://"+in,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("chromium render: %w: %s", err, output)
	}
	return os.ReadFile(out)
}

func findChromium() (string, error) {
	for _, name := range chromiumCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no headless browser found (tried %v)", chromiumCandidates)
}
