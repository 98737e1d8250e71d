package convert

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Runner executes an external command.
type Runner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// XLSNormalizer rewrites legacy .xls workbooks as .xlsx with LibreOffice
// before conversion.
type XLSNormalizer struct {
	binary string
	run    Runner
}

func NewXLSNormalizer(binary string) *XLSNormalizer {
	return &XLSNormalizer{binary: binary, run: execRunner}
}

// WithRunner replaces the command runner.
func (n *XLSNormalizer) WithRunner(r Runner) *XLSNormalizer {
	n.run = r
	return n
}

func NeedsNormalization(src Source) bool {
	return src.Ext() == ".xls"
}

// Normalize returns the source to convert and a cleanup func that must be
// called on every path once conversion is done. Non-.xls sources pass
// through unchanged.
func (n *XLSNormalizer) Normalize(ctx context.Context, src Source) (Source, func(), error) {
	if !NeedsNormalization(src) {
		return src, func() {}, nil
	}

	dir, err := os.MkdirTemp("", "docrag-xls-*")
	if err != nil {
		return src, func() {}, err
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("failed to remove temp dir", "dir", dir, "error", err)
		}
	}

	if err := n.run(ctx, n.binary, "--headless", "--convert-to", "xlsx", "--outdir", dir, src.Path); err != nil {
		cleanup()
		return src, func() {}, fmt.Errorf("%w: normalize xls: %w", ErrConversion, err)
	}

	base := strings.TrimSuffix(filepath.Base(src.Path), filepath.Ext(src.Path))
	out := filepath.Join(dir, base+".xlsx")
	if _, err := os.Stat(out); err != nil {
		cleanup()
		return src, func() {}, fmt.Errorf("%w: normalize xls: no output: %w", ErrConversion, err)
	}

	name := strings.TrimSuffix(src.Name, filepath.Ext(src.Name)) + ".xlsx"
	return Source{Path: out, Name: name}, cleanup, nil
}
