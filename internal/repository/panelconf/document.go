package panelconf

import (
	"regexp"
	"strings"
)

// Keys the panel stores in 1pctl.
const (
	KeyBaseDir        = "BASE_DIR"
	KeyPort           = "ORIGINAL_PORT"
	KeyVersion        = "ORIGINAL_VERSION"
	KeyEntrance       = "ORIGINAL_ENTRANCE"
	KeyUsername       = "ORIGINAL_USERNAME"
	KeyPassword       = "ORIGINAL_PASSWORD"
	KeyLanguage       = "LANGUAGE"
	KeyChangeUserInfo = "CHANGE_USER_INFO"
)

const defaultCapacityHint = 64

// PreservedKeys are carried from an installed 1pctl into the upgraded one.
func PreservedKeys() []string {
	return []string{
		KeyBaseDir,
		KeyPort,
		KeyUsername,
		KeyPassword,
		KeyEntrance,
		KeyLanguage,
		KeyChangeUserInfo,
	}
}

//nolint:gochecknoglobals // Compiled once.
var assignment = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)=(.*)$`)

// Document is a parsed 1pctl file.
type Document struct {
	lines []string
	// index maps a key to its first assignment line.
	index map[string]int
	// trailingNewline records whether the source ended with a newline.
	trailingNewline bool
}

// Parse splits content into lines and indexes top-level assignments.
func Parse(content string) *Document {
	doc := &Document{
		index:           make(map[string]int, defaultCapacityHint),
		trailingNewline: content == "" || strings.HasSuffix(content, "\n"),
	}

	content = strings.TrimSuffix(content, "\n")
	if content != "" {
		doc.lines = strings.Split(content, "\n")
	}

	for i, line := range doc.lines {
		match := assignment.FindStringSubmatch(line)
		if match == nil {
			continue
		}

		if _, seen := doc.index[match[1]]; !seen {
			doc.index[match[1]] = i
		}
	}

	return doc
}

// Get returns the raw value of key, quotes included.
func (d *Document) Get(key string) (string, bool) {
	i, ok := d.index[key]
	if !ok {
		return "", false
	}

	return assignment.FindStringSubmatch(d.lines[i])[2], true
}

// Value returns the value of key with one level of surrounding quotes removed.
func (d *Document) Value(key string) string {
	raw, _ := d.Get(key)

	if len(raw) >= 2 {
		first, last := raw[0], raw[len(raw)-1]
		if first == last && (first == '"' || first == '\'') {
			return raw[1 : len(raw)-1]
		}
	}

	return raw
}

// Set replaces the value of key in place or appends a new assignment after
// the last existing one.
func (d *Document) Set(key, raw string) {
	line := key + "=" + raw

	if i, ok := d.index[key]; ok {
		d.lines[i] = line

		return
	}

	at := d.lastAssignment() + 1
	d.lines = append(d.lines, "")
	copy(d.lines[at+1:], d.lines[at:])
	d.lines[at] = line

	for k, i := range d.index {
		if i >= at {
			d.index[k] = i + 1
		}
	}

	d.index[key] = at
}

// Has reports whether key is assigned.
func (d *Document) Has(key string) bool {
	_, ok := d.index[key]

	return ok
}

// Carry copies the given keys from src, appending those d lacks. Keys missing
// in src are left alone. It returns the keys that were copied.
func (d *Document) Carry(src *Document, keys ...string) []string {
	var carried []string

	for _, key := range keys {
		raw, ok := src.Get(key)
		if !ok {
			continue
		}

		d.Set(key, raw)
		carried = append(carried, key)
	}

	return carried
}

// String renders the document.
func (d *Document) String() string {
	out := strings.Join(d.lines, "\n")
	if d.trailingNewline && len(d.lines) > 0 {
		out += "\n"
	}

	return out
}

func (d *Document) lastAssignment() int {
	last := -1
	for _, i := range d.index {
		last = max(last, i)
	}

	if last < 0 && len(d.lines) > 0 && strings.HasPrefix(d.lines[0], "#!") {
		return 0
	}

	return last
}
