package builder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/Masterminds/semver"
	"golang.org/x/term"

	"github.com/oshokin/1panel-offline/internal/logger"
	"github.com/oshokin/1panel-offline/internal/service/resolver"
	"github.com/oshokin/1panel-offline/internal/version"
)

var (
	// errInvalidVersion is returned for versions that are not semantic versions.
	errInvalidVersion = errors.New("invalid panel version")
	// errNotConfirmed is returned when the operator declines the looked-up version.
	errNotConfirmed = errors.New("build not confirmed")
	// errNotInteractive is returned when confirmation is requested without a terminal.
	errNotInteractive = errors.New("confirmation requires an interactive terminal")
	// errLatestLookup is returned when the latest endpoint cannot be used.
	errLatestLookup = errors.New("latest version lookup failed")
)

const maxLatestResponse = 256

// Confirmer asks the operator whether to build version.
type Confirmer func(ctx context.Context, version string) (bool, error)

// TerminalConfirmer prompts on stdin when it is a terminal.
func TerminalConfirmer(ctx context.Context, version string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, errNotInteractive
	}

	return promptYesNo(ctx, os.Stdin, os.Stderr, fmt.Sprintf("Build 1Panel %s? [y/N]: ", version))
}

func promptYesNo(_ context.Context, in io.Reader, out io.Writer, question string) (bool, error) {
	if _, err := fmt.Fprint(out, question); err != nil {
		return false, err
	}

	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// NormalizeVersion validates a panel version and returns it with a "v" prefix,
// the form used in upstream package names.
func NormalizeVersion(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	if _, err := semver.NewVersion(raw); err != nil {
		return "", fmt.Errorf("%q: %w: %w", raw, errInvalidVersion, err)
	}

	return "v" + strings.TrimPrefix(raw, "v"), nil
}

// resolveVersion returns the configured version or asks the latest endpoint once.
func (b *builder) resolveVersion(ctx context.Context) (string, error) {
	if b.cfg.Version != "" {
		return NormalizeVersion(b.cfg.Version)
	}

	url := resolver.New(b.cfg).LatestURL(b.cfg.Channel)

	logger.InfoKV(ctx, "Looking up latest version", "url", url)

	latest, err := fetchLatest(ctx, b.client, url)
	if err != nil {
		return "", err
	}

	normalized, err := NormalizeVersion(latest)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errLatestLookup, err)
	}

	logger.InfoKV(ctx, "Latest version resolved", "version", normalized, "channel", b.cfg.Channel)

	if !b.opts.Confirm {
		return normalized, nil
	}

	confirm := b.opts.Confirmer
	if confirm == nil {
		confirm = TerminalConfirmer
	}

	ok, err := confirm(ctx, normalized)
	if err != nil {
		return "", err
	}

	if !ok {
		return "", errNotConfirmed
	}

	return normalized, nil
}

func fetchLatest(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errLatestLookup, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s returned %s", errLatestLookup, url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLatestResponse))
	if err != nil {
		return "", fmt.Errorf("%w: %w", errLatestLookup, err)
	}

	return strings.TrimSpace(string(body)), nil
}
