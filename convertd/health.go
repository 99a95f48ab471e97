package convertd

import (
	"context"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

const sofficeVersionTimeout = 10 * time.Second

// handleHealth reports LibreOffice availability, system resources, and the
// temporary-store population. Always answers 200; the aggregate status
// field carries the verdict.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]map[string]any{}
	status := "ok"

	degrade := func(to string) {
		if status == "error" {
			return
		}
		if to == "error" || status == "ok" {
			status = to
		}
	}

	// LibreOffice binary.
	if version, err := s.sofficeVersion(r.Context()); err != nil {
		checks["libreoffice"] = map[string]any{"status": "error", "error": err.Error()}
		degrade("error")
	} else {
		checks["libreoffice"] = map[string]any{"status": "ok", "version": version}
	}

	// Memory.
	if mem, err := memoryStats(); err != nil {
		checks["memory"] = map[string]any{"status": "error", "error": err.Error()}
		degrade("error")
	} else {
		warn := mem.PercentUsed > 90
		checks["memory"] = map[string]any{
			"status":       "ok",
			"total_gb":     roundGB(mem.Total),
			"available_gb": roundGB(mem.Available),
			"percent_used": mem.PercentUsed,
			"warning":      warn,
		}
		if warn {
			degrade("warning")
		}
	}

	// Disk under the storage directory.
	if disk, err := diskStats(s.cfg.DataDir); err != nil {
		checks["disk"] = map[string]any{"status": "error", "error": err.Error()}
		degrade("error")
	} else {
		warn := disk.PercentUsed > 90
		checks["disk"] = map[string]any{
			"status":       "ok",
			"total_gb":     roundGB(disk.Total),
			"free_gb":      roundGB(disk.Available),
			"percent_used": disk.PercentUsed,
			"warning":      warn,
		}
		if warn {
			degrade("warning")
		}
	}

	// Stored files.
	if n, err := s.store.Count(r.Context()); err != nil {
		checks["temp_files"] = map[string]any{"status": "error", "error": err.Error()}
		degrade("error")
	} else {
		checks["temp_files"] = map[string]any{"status": "ok", "count": n}
	}

	writeJSON(w, 200, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

func (s *Service) sofficeVersion(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, sofficeVersionTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, s.cfg.SofficeBin, "--version").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// sysStats holds bytes-level usage for one resource.
type sysStats struct {
	Total       uint64
	Available   uint64
	PercentUsed float64
}

func roundGB(b uint64) float64 {
	gb := float64(b) / (1 << 30)
	return float64(int64(gb*100+0.5)) / 100
}
