// Package script reads mission script sources and decodes them to UTF-8.
package script

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Extension is the file extension of script sources, compared case-insensitively.
const Extension = ".slo"

// ErrUnknownEncoding is returned by ParseEncoding for unsupported names.
var ErrUnknownEncoding = errors.New("script: unknown encoding")

// Script is one decoded source file.
type Script struct {
	// Name is the file name without its extension. It becomes the program name.
	Name    string
	Path    string
	Content string // UTF-8
	Size    int64  // size on disk, before decoding
}

// ParseEncoding returns the text encoding for a configuration name. An
// empty name selects UTF-8 with an optional byte order mark.
func ParseEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8":
		return unicode.UTF8BOM, nil
	case "shift_jis", "shift-jis", "sjis":
		return japanese.ShiftJIS, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEncoding, name)
	}
	return enc, nil
}

// Decode converts data from enc to UTF-8. A nil enc means UTF-8.
func Decode(data []byte, enc encoding.Encoding) (string, error) {
	if enc == nil {
		enc = unicode.UTF8BOM
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return "", fmt.Errorf("script: decoding: %w", err)
	}
	return string(out), nil
}

// IsScript reports whether name has the script extension.
func IsScript(name string) bool {
	return strings.EqualFold(path.Ext(name), Extension)
}

func baseName(p string) string {
	b := path.Base(filepath.ToSlash(p))
	return strings.TrimSuffix(b, path.Ext(b))
}

// Loader reads scripts from a file system.
type Loader struct {
	fsys fs.FS
	enc  encoding.Encoding
}

// Option configures a Loader.
type Option func(*Loader)

// WithEncoding sets the source encoding. The default is UTF-8.
func WithEncoding(enc encoding.Encoding) Option {
	return func(l *Loader) {
		l.enc = enc
	}
}

// NewLoader creates a Loader over fsys.
func NewLoader(fsys fs.FS, opts ...Option) *Loader {
	l := &Loader{fsys: fsys, enc: unicode.UTF8BOM}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewDirLoader creates a Loader rooted at dir on the local disk.
func NewDirLoader(dir string, opts ...Option) *Loader {
	return NewLoader(os.DirFS(dir), opts...)
}

// Load reads one script. The final path element is matched case-insensitively.
func (l *Loader) Load(name string) (*Script, error) {
	actual, err := l.findFile(name)
	if err != nil {
		return nil, err
	}
	data, err := fs.ReadFile(l.fsys, actual)
	if err != nil {
		return nil, fmt.Errorf("script: reading %s: %w", actual, err)
	}
	content, err := Decode(data, l.enc)
	if err != nil {
		return nil, fmt.Errorf("script: %s: %w", actual, err)
	}
	return &Script{
		Name:    baseName(actual),
		Path:    actual,
		Content: content,
		Size:    int64(len(data)),
	}, nil
}

// LoadAll reads every script under the root, in lexical path order.
func (l *Loader) LoadAll() ([]Script, error) {
	var paths []string
	err := fs.WalkDir(l.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsScript(p) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("script: finding scripts: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("script: no %s files found", Extension)
	}

	scripts := make([]Script, 0, len(paths))
	for _, p := range paths {
		s, err := l.Load(p)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, *s)
	}
	return scripts, nil
}

func (l *Loader) findFile(name string) (string, error) {
	name = path.Clean(strings.TrimPrefix(filepath.ToSlash(name), "/"))
	if _, err := fs.Stat(l.fsys, name); err == nil {
		return name, nil
	}

	dir, file := path.Split(name)
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" {
		dir = "."
	}
	entries, err := fs.ReadDir(l.fsys, dir)
	if err != nil {
		return "", fmt.Errorf("script: reading directory %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(e.Name(), file) {
			return path.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("script: %s: %w", name, fs.ErrNotExist)
}

// ReadFile reads and decodes a script at an arbitrary local path.
func ReadFile(p string, enc encoding.Encoding) (*Script, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}
	content, err := Decode(data, enc)
	if err != nil {
		return nil, fmt.Errorf("script: %s: %w", p, err)
	}
	return &Script{
		Name:    baseName(p),
		Path:    p,
		Content: content,
		Size:    int64(len(data)),
	}, nil
}
