package trader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alanyoungcy/dydxbot/internal/domain"
)

// SessionExport is the offline-analysis dump of one paper session. It is
// written out and never read back.
type SessionExport struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Stats       Stats             `json:"stats"`
	Open        []domain.Position `json:"open_positions"`
	Closed      []domain.Position `json:"closed_positions"`
	Orders      []domain.Order    `json:"orders"`
	Signals     []domain.Signal   `json:"recent_signals"`
}

// SignalSource supplies the recent signals for the export, typically the
// strategy engine.
type SignalSource interface {
	RecentSignals(limit int) []domain.Signal
}

// Exporter serializes session state to object storage, with a local
// directory fallback when no blob writer is configured.
type Exporter struct {
	controller *Controller
	signals    SignalSource
	blob       domain.BlobWriter // may be nil
	prefix     string
	localDir   string
	logger     *slog.Logger
}

// NewExporter creates an Exporter. blob may be nil, in which case exports go
// to localDir.
func NewExporter(controller *Controller, signals SignalSource, blob domain.BlobWriter, prefix, localDir string, logger *slog.Logger) *Exporter {
	return &Exporter{
		controller: controller,
		signals:    signals,
		blob:       blob,
		prefix:     prefix,
		localDir:   localDir,
		logger:     logger.With(slog.String("component", "exporter")),
	}
}

// Build assembles the export from current controller state.
func (e *Exporter) Build(now time.Time) SessionExport {
	export := SessionExport{
		GeneratedAt: now,
		Stats:       e.controller.Stats(),
		Open:        e.controller.Positions(),
		Closed:      e.controller.ClosedPositions(),
		Orders:      e.controller.Orders(),
	}
	if e.signals != nil {
		export.Signals = e.signals.RecentSignals(100)
	}
	return export
}

// Export writes the current session state as JSON. Returns the destination
// path or key.
func (e *Exporter) Export(ctx context.Context, now time.Time) (string, error) {
	export := e.Build(now)

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return "", fmt.Errorf("trader: marshal export: %w", err)
	}

	name := fmt.Sprintf("session-%s.json", now.UTC().Format("20060102-150405"))

	if e.blob != nil {
		key := name
		if e.prefix != "" {
			key = e.prefix + "/" + name
		}
		if err := e.blob.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
			return "", fmt.Errorf("trader: upload export: %w", err)
		}
		e.logger.Info("session exported", slog.String("key", key), slog.Int("bytes", len(data)))
		return key, nil
	}

	dir := e.localDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("trader: export dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("trader: write export: %w", err)
	}
	e.logger.Info("session exported", slog.String("path", path), slog.Int("bytes", len(data)))
	return path, nil
}
