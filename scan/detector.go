// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/poiesic/grimoire/broker"
	"github.com/poiesic/grimoire/core"
	"github.com/poiesic/grimoire/storage"
)

// CheckpointName identifies the change detector's checkpoint record.
const CheckpointName = "change-detector"

// DefaultInterval is used when Config.Interval is zero.
const DefaultInterval = time.Minute

// KindFunc classifies a document by its path relative to the source root.
type KindFunc func(relPath string) core.DocumentKind

// RulebookKind classifies every document as a rulebook.
func RulebookKind(string) core.DocumentKind {
	return core.DocumentKindRulebook
}

// Config configures a Detector.
type Config struct {
	// Roots are the source directories. Each immediate subdirectory of a
	// root is a ruleset. Roots are expected to hold disjoint rulesets.
	// Files directly under a root belong to no ruleset: they are logged
	// and counted as skipped, never indexed.
	Roots []string
	// Extensions lists accepted file extensions, case-insensitive.
	Extensions []string
	// Interval is the pause between runs started by Run.
	Interval time.Duration
	// Kind classifies documents; RulebookKind when nil.
	Kind KindFunc
}

// Report summarises one scan.
type Report struct {
	Scanned   int
	New       int
	Modified  int
	Unchanged int
	Failed    int
	// Skipped counts matching files directly under a root.
	Skipped  int
	Duration time.Duration
}

// Published returns the number of crack requests published.
func (r Report) Published() int {
	return r.New + r.Modified
}

func (r Report) String() string {
	return fmt.Sprintf("scanned=%d new=%d modified=%d unchanged=%d failed=%d skipped=%d duration=%s",
		r.Scanned, r.New, r.Modified, r.Unchanged, r.Failed, r.Skipped, r.Duration.Round(time.Millisecond))
}

// Detector compares source files against the document repository and
// publishes a crack request for every new or modified file.
type Detector struct {
	config      Config
	docs        storage.DocumentRepository
	checkpoints storage.CheckpointRepository
	broker      broker.Broker
	logger      *slog.Logger

	// serialises runs within the process
	mu sync.Mutex
}

// NewDetector creates a detector. checkpoints may be nil.
func NewDetector(config Config, docs storage.DocumentRepository, checkpoints storage.CheckpointRepository, b broker.Broker, logger *slog.Logger) (*Detector, error) {
	if len(config.Roots) == 0 {
		return nil, ErrNoRoots
	}
	if len(config.Extensions) == 0 {
		return nil, fmt.Errorf("at least one extension is required: %w", core.ErrConfiguration)
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Kind == nil {
		config.Kind = RulebookKind
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		config:      config,
		docs:        docs,
		checkpoints: checkpoints,
		broker:      b,
		logger:      logger.With("component", "change-detector"),
	}, nil
}

// Scan runs one pass over every root. Failures on individual files are
// counted in the report and logged. A missing root aborts the pass.
func (d *Detector) Scan(ctx context.Context) (Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	var report Report
	for _, root := range d.config.Roots {
		if err := d.scanRoot(ctx, root, &report); err != nil {
			report.Duration = time.Since(start)
			return report, err
		}
	}
	report.Duration = time.Since(start)

	d.logger.Info("scan complete",
		"scanned", report.Scanned,
		"new", report.New,
		"modified", report.Modified,
		"unchanged", report.Unchanged,
		"failed", report.Failed,
		"duration", report.Duration)

	if d.checkpoints != nil {
		cp := &core.Checkpoint{
			ProcessorType: CheckpointName,
			LastRunAt:     start,
			Detail:        report.String(),
		}
		if err := d.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
			d.logger.Warn("failed to save checkpoint", "err", err)
		}
	}
	return report, nil
}

func (d *Detector) scanRoot(ctx context.Context, root string, report *Report) error {
	rulesets, err := Subdirectories(root)
	if err != nil {
		d.logger.Error("failed to list source root", "root", root, "err", err)
		return err
	}

	loose, err := LooseFiles(root, d.config.Extensions)
	if err != nil {
		d.logger.Warn("failed to list source root files", "root", root, "err", err)
	}
	for _, path := range loose {
		d.logger.Warn("file outside a ruleset directory, skipped", "path", path, "root", root)
		report.Skipped++
	}

	for _, dir := range rulesets {
		files, err := Files(dir, d.config.Extensions)
		if err != nil {
			d.logger.Warn("failed to list ruleset", "dir", dir, "err", err)
			report.Failed++
			continue
		}
		for _, file := range files {
			if err := ctx.Err(); err != nil {
				return err
			}
			report.Scanned++
			change, err := d.scanFile(ctx, root, file)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				d.logger.Error("failed to scan file", "path", file, "err", err)
				report.Failed++
				continue
			}
			switch change {
			case storage.New:
				report.New++
			case storage.Modified:
				report.Modified++
			default:
				report.Unchanged++
			}
		}
	}
	return nil
}

func (d *Detector) scanFile(ctx context.Context, root, file string) (storage.ChangeKind, error) {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return storage.Unchanged, err
	}
	rel = filepath.ToSlash(rel)

	hash, err := HashFile(file)
	if err != nil {
		return storage.Unchanged, err
	}

	obs := storage.Observation{
		Path:        rel,
		RulesetID:   rulesetOf(rel),
		Kind:        d.config.Kind(rel),
		ContentHash: hash,
	}
	change, doc, err := d.docs.ReconcileDocument(ctx, obs, d.publish)
	if err != nil {
		return storage.Unchanged, err
	}
	if change != storage.Unchanged {
		d.logger.Info("document changed",
			"change", change,
			"document_id", doc.Id,
			"path", doc.Path,
			"revision", doc.Revision)
	}
	return change, nil
}

// publish runs inside the repository transaction; an error rolls the
// metadata update back so the next scan sees the change again.
func (d *Detector) publish(ctx context.Context, _ storage.ChangeKind, doc *core.DocumentMetadata) error {
	return broker.Publish(ctx, d.broker, CrackRequest(doc, time.Now()))
}

// Run scans immediately and then every Interval until ctx is cancelled.
// Errors from individual runs are logged, never returned.
func (d *Detector) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	d.logger.Info("change detector started", "roots", d.config.Roots, "interval", d.config.Interval)
	for {
		if _, err := d.Scan(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("scan failed", "err", err)
		}
		select {
		case <-ctx.Done():
			d.logger.Info("change detector stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// CrackRequest builds the crack request for a changed document.
func CrackRequest(doc *core.DocumentMetadata, now time.Time) core.CrackDocument {
	return core.CrackDocument{
		DocumentRef: core.DocumentRef{
			DocumentID:   doc.Id,
			RulesetID:    doc.RulesetID,
			Kind:         doc.Kind,
			FileName:     path.Base(doc.Path),
			RelativePath: doc.Path,
			ContentHash:  doc.ContentHash,
			Revision:     doc.Revision,
		},
		RequestedAt: now,
	}
}

// rulesetOf returns the first segment of a slash separated relative path.
func rulesetOf(rel string) string {
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}
	return rel
}
