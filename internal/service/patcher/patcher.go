package patcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/1panel-offline/internal/logger"
)

var (
	// ErrAnchorNotFound is returned in strict mode when an anchor is missing.
	ErrAnchorNotFound = errors.New("patch anchor not found")
	// errNothingApplied is returned in lenient mode when no edit matched.
	errNothingApplied = errors.New("no patch edit matched")
)

// Position tells where an edit's text goes relative to its anchor line.
type Position int

const (
	// PositionAfter inserts after the line containing the anchor.
	PositionAfter Position = iota
	// PositionBefore inserts before the line containing the anchor.
	PositionBefore
	// PositionFunctionTail treats the anchor as a shell function header and
	// inserts before the function's closing brace.
	PositionFunctionTail
)

// Edit is one anchored insertion. Text is made of whole lines.
type Edit struct {
	Name     string
	Anchor   string
	Position Position
	Text     string
}

// Status is the outcome of a Patch call.
type Status string

const (
	// StatusPatched means the file was rewritten.
	StatusPatched Status = "patched"
	// StatusAlreadyPatched means the sentinel was found and nothing changed.
	StatusAlreadyPatched Status = "already-patched"
)

// Result reports what Patch did.
type Result struct {
	Status  Status
	Applied []string
	Missing []string
}

// Patcher applies a list of edits with one strictness policy.
type Patcher struct {
	edits  []Edit
	strict bool
}

// Option configures a Patcher.
type Option func(*Patcher)

// WithLenient switches missing anchors from fatal to warnings.
func WithLenient(lenient bool) Option {
	return func(p *Patcher) {
		p.strict = !lenient
	}
}

// WithEdits replaces the default edit list.
func WithEdits(edits []Edit) Option {
	return func(p *Patcher) {
		p.edits = edits
	}
}

// New creates a strict Patcher over DefaultEdits.
func New(opts ...Option) *Patcher {
	p := &Patcher{
		edits:  DefaultEdits(),
		strict: true,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Strict reports the configured policy.
func (p *Patcher) Strict() bool {
	return p.strict
}

// Patch rewrites the installer at path in place.
func (p *Patcher) Patch(ctx context.Context, path string) (*Result, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read installer: %w", err)
	}

	patched, result, err := p.Apply(ctx, string(contents))
	if err != nil {
		return result, err
	}

	if result.Status == StatusAlreadyPatched {
		return result, nil
	}

	if err = writeAtomic(path, []byte(patched)); err != nil {
		return result, fmt.Errorf("write installer: %w", err)
	}

	return result, nil
}

// Apply runs the edit list over content and returns the new content. It never
// returns partially edited content together with an error.
func (p *Patcher) Apply(ctx context.Context, content string) (string, *Result, error) {
	if strings.Contains(content, Sentinel) {
		logger.Info(ctx, "Installer already patched, skipping")

		return content, &Result{Status: StatusAlreadyPatched}, nil
	}

	result := &Result{Status: StatusPatched}
	working := content

	for _, edit := range p.edits {
		next, ok := applyEdit(working, edit)
		if !ok {
			result.Missing = append(result.Missing, edit.Name)

			if p.strict {
				return content, result, fmt.Errorf("%s (%q): %w", edit.Name, edit.Anchor, ErrAnchorNotFound)
			}

			logger.WarnKV(ctx, "Patch anchor not found, edit skipped", "edit", edit.Name, "anchor", edit.Anchor)

			continue
		}

		working = next
		result.Applied = append(result.Applied, edit.Name)
	}

	if len(result.Applied) == 0 {
		return content, result, fmt.Errorf("%w: missing %s", errNothingApplied, strings.Join(result.Missing, ", "))
	}

	return addSentinel(working), result, nil
}

func applyEdit(content string, edit Edit) (string, bool) {
	idx := strings.Index(content, edit.Anchor)
	if edit.Anchor == "" || idx < 0 {
		return content, false
	}

	lineStart := strings.LastIndexByte(content[:idx], '\n') + 1

	lineEnd := len(content)
	if rel := strings.IndexByte(content[idx:], '\n'); rel >= 0 {
		lineEnd = idx + rel + 1
	}

	text := edit.Text
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	switch edit.Position {
	case PositionAfter:
		prefix := content[:lineEnd]
		if !strings.HasSuffix(prefix, "\n") {
			prefix += "\n"
		}

		return prefix + text + content[lineEnd:], true
	case PositionBefore:
		return content[:lineStart] + text + content[lineStart:], true
	case PositionFunctionTail:
		closing := strings.Index(content[lineEnd:], "\n}")
		if closing < 0 {
			return content, false
		}

		insertAt := lineEnd + closing + 1

		return content[:insertAt] + text + content[insertAt:], true
	default:
		return content, false
	}
}

// addSentinel puts the marker right after the shebang line, or first.
func addSentinel(content string) string {
	if strings.HasPrefix(content, "#!") {
		if idx := strings.IndexByte(content, '\n'); idx >= 0 {
			return content[:idx+1] + Sentinel + "\n" + content[idx+1:]
		}

		return content + "\n" + Sentinel + "\n"
	}

	return Sentinel + "\n" + content
}

func writeAtomic(path string, data []byte) error {
	mode := os.FileMode(0o755)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}

	name := tmp.Name()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)

		return err
	}

	if err = tmp.Close(); err != nil {
		_ = os.Remove(name)

		return err
	}

	if err = os.Chmod(name, mode); err != nil {
		_ = os.Remove(name)

		return err
	}

	if err = os.Rename(name, path); err != nil {
		_ = os.Remove(name)

		return err
	}

	return nil
}
