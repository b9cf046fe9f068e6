package sandbox

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Entry describes one item of a directory listing.
type Entry struct {
	Name  string
	Size  int64
	IsDir bool
}

// List returns the entries of dir. An empty dir lists the root.
func (f *FS) List(dir string) ([]Entry, error) {
	path, err := f.within("list", dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%q: %w", dir, ErrNotDirectory)
	}

	items, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read directory %q: %w", dir, err)
	}
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		info, err := item.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %q: %w", item.Name(), err)
		}
		entries = append(entries, Entry{
			Name:  item.Name(),
			Size:  info.Size(),
			IsDir: item.IsDir(),
		})
	}
	return entries, nil
}

// FormatEntries renders a listing one entry per line.
func FormatEntries(entries []Entry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("- %s: file_size=%d bytes, is_dir=%t", e.Name, e.Size, e.IsDir))
	}
	return strings.Join(lines, "\n")
}

// TruncationMarker is appended to content cut at limit characters.
func TruncationMarker(path string, limit int) string {
	return fmt.Sprintf("[...File %q truncated at %d characters]", path, limit)
}

// Read returns the text of the file at rel, truncated to the configured
// character limit.
func (f *FS) Read(rel string) (string, error) {
	path, err := f.within("read", rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("file not found or %w: %q", ErrNotFile, rel)
	}
	fh, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file %q: %w", rel, err)
	}
	defer fh.Close()

	var src io.Reader = fh
	if f.maxReadChars > 0 {
		// enough bytes for limit runes plus one, so truncation is still detected
		src = io.LimitReader(fh, int64(f.maxReadChars)*utf8.UTFMax+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return "", fmt.Errorf("read file %q: %w", rel, err)
	}

	content := string(data)
	if f.maxReadChars > 0 && utf8.RuneCountInString(content) > f.maxReadChars {
		runes := []rune(content)
		content = string(runes[:f.maxReadChars]) + TruncationMarker(rel, f.maxReadChars)
	}
	return content, nil
}

// Write creates or overwrites the file at rel, creating parent directories
// as needed. It returns the number of characters written.
func (f *FS) Write(rel, content string) (int, error) {
	path, err := f.within("write to", rel)
	if err != nil {
		return 0, err
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return 0, fmt.Errorf("%q: %w", rel, ErrIsDirectory)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("stat %q: %w", rel, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create directory for %q: %w", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return 0, fmt.Errorf("write file %q: %w", rel, err)
	}
	return utf8.RuneCountInString(content), nil
}
