package board

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/embervoice/ember-core/internal/app"
)

// HTTPUpgrader downloads a firmware image into a staging directory. The
// actual flash step is the supervisor's job on restart; a hardware board
// replaces this with its flash writer.
type HTTPUpgrader struct {
	stagingDir string
	client     *http.Client
	logger     Logger
}

// NewHTTPUpgrader creates an upgrader staging images under dir.
func NewHTTPUpgrader(dir string, timeout time.Duration, logger Logger) *HTTPUpgrader {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &HTTPUpgrader{
		stagingDir: dir,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

var _ app.FirmwareUpgrader = (*HTTPUpgrader)(nil)

// Upgrade downloads the image, reporting percentage and throughput.
func (u *HTTPUpgrader) Upgrade(url, version string, progress func(percent int, speed float64)) error {
	if err := os.MkdirAll(u.stagingDir, 0o755); err != nil {
		return fmt.Errorf("board: creating staging dir: %w", err)
	}

	resp, err := u.client.Get(url)
	if err != nil {
		return fmt.Errorf("board: downloading firmware: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("board: downloading firmware: status %d", resp.StatusCode)
	}

	target := filepath.Join(u.stagingDir, "firmware-"+version+".bin")
	tmp := target + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("board: creating image file: %w", err)
	}

	var written int64
	total := resp.ContentLength
	start := time.Now()
	buf := make([]byte, 64*1024)
	lastPercent := -1

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				out.Close()
				os.Remove(tmp)
				return fmt.Errorf("board: writing image: %w", writeErr)
			}
			written += int64(n)

			if total > 0 && progress != nil {
				percent := int(written * 100 / total)
				if percent != lastPercent {
					lastPercent = percent
					elapsed := time.Since(start).Seconds()
					speed := 0.0
					if elapsed > 0 {
						speed = float64(written) / elapsed
					}
					progress(percent, speed)
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			out.Close()
			os.Remove(tmp)
			return fmt.Errorf("board: reading image: %w", readErr)
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("board: closing image file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("board: staging image: %w", err)
	}

	u.logger.Info("firmware image staged",
		"version", version,
		"path", target,
		"bytes", written,
	)
	return nil
}
