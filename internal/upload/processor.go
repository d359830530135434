package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/entrepeneur4lyf/prochat/internal/session"
	"golang.org/x/text/encoding/charmap"
)

var (
	// ErrNoFile is returned when the request carried no file at all.
	ErrNoFile = errors.New("no file provided")

	// ErrExtensionNotAllowed is returned for files outside the allow-list.
	ErrExtensionNotAllowed = errors.New("file type not allowed")
)

const (
	// previewReadBytes bounds how much of a text file is read for a preview.
	previewReadBytes = 10000

	// previewMaxChars caps the preview returned to the client.
	previewMaxChars = 2000

	previewTruncationMarker = "..."
)

// allowedExtensions is the fixed upload allow-list: documents, images and
// common source/text formats. Archives are deliberately absent.
var allowedExtensions = map[string]bool{
	"txt": true, "pdf": true, "png": true, "jpg": true, "jpeg": true,
	"gif": true, "doc": true, "docx": true, "xls": true, "xlsx": true,
	"ppt": true, "pptx": true, "csv": true, "json": true, "xml": true,
	"md": true, "py": true, "js": true, "html": true, "css": true,
	"java": true, "cpp": true, "c": true, "go": true, "rs": true,
	"php": true, "rb": true, "ts": true, "jsx": true, "tsx": true,
}

// textExtensions marks the allow-listed extensions that get a text preview.
var textExtensions = map[string]bool{
	"txt": true, "md": true, "csv": true, "json": true, "xml": true,
	"py": true, "js": true, "html": true, "css": true, "java": true,
	"cpp": true, "c": true, "go": true, "rs": true, "php": true,
	"rb": true, "ts": true, "jsx": true, "tsx": true,
}

// Storage persists raw upload bytes outside the processor. The disk
// implementation below is the default; tests substitute their own.
type Storage interface {
	// Store writes the bytes under the (already sanitized) name and returns
	// the stored path. Same name overwrites: last write wins.
	Store(name string, r io.Reader) (path string, size int64, err error)

	// Open returns a reader over previously stored bytes.
	Open(name string) (io.ReadCloser, error)
}

// Processor validates and ingests uploaded files.
type Processor struct {
	storage Storage
}

// NewProcessor creates a processor backed by the given byte store.
func NewProcessor(storage Storage) *Processor {
	return &Processor{storage: storage}
}

// Allowed reports whether the filename's extension is in the allow-list.
func Allowed(filename string) bool {
	return allowedExtensions[extension(filename)]
}

func extension(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(filename[idx+1:])
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// SanitizeFilename strips path components and unsafe characters so the name
// is safe to use as a storage key. Mirrors werkzeug's secure_filename.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, " ", "_")
	name = unsafeChars.ReplaceAllString(name, "")
	name = strings.Trim(name, "._")
	return name
}

// Ingest validates the upload, persists its bytes, and returns a FileRecord.
// Text-like files get a bounded preview; everything else is metadata only.
// I/O failures come back as errors so the caller can answer with a
// structured failure instead of aborting the request.
func (p *Processor) Ingest(filename, mimeType string, r io.Reader) (session.FileRecord, error) {
	if filename == "" {
		return session.FileRecord{}, ErrNoFile
	}
	if !Allowed(filename) {
		return session.FileRecord{}, ErrExtensionNotAllowed
	}

	name := SanitizeFilename(filename)
	if name == "" {
		return session.FileRecord{}, ErrExtensionNotAllowed
	}

	path, size, err := p.storage.Store(name, r)
	if err != nil {
		return session.FileRecord{}, fmt.Errorf("failed to store %s: %w", name, err)
	}

	record := session.FileRecord{
		Filename: name,
		Size:     size,
		Path:     path,
	}

	if textExtensions[extension(name)] {
		preview, err := p.preview(name)
		if err != nil {
			return session.FileRecord{}, fmt.Errorf("failed to read %s: %w", name, err)
		}
		record.Kind = "text_file"
		record.Content = preview
	} else {
		record.Kind = "file"
		record.MimeType = mimeType
	}

	return record, nil
}

// preview decodes up to previewReadBytes of the stored file as text. UTF-8
// is tried first; invalid byte input falls back to ISO-8859-1, which maps
// every byte to a rune and therefore never fails.
func (p *Processor) preview(name string) (string, error) {
	f, err := p.storage.Open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, previewReadBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", err
	}
	raw := buf[:n]
	if n == previewReadBytes {
		// A full read can split a multi-byte rune at the buffer boundary;
		// the cut alone must not push a valid UTF-8 file onto the latin-1
		// fallback.
		raw = trimPartialRune(raw)
	}

	var content string
	if utf8.Valid(raw) {
		content = string(raw)
	} else {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
		if err != nil {
			return "", err
		}
		content = string(decoded)
	}

	runes := []rune(content)
	if len(runes) > previewMaxChars {
		return string(runes[:previewMaxChars]) + previewTruncationMarker, nil
	}
	return content, nil
}

// trimPartialRune drops a trailing incomplete UTF-8 sequence left behind by
// a byte-bounded read.
func trimPartialRune(b []byte) []byte {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if !utf8.FullRune(b[i:]) {
			return b[:i]
		}
		break
	}
	return b
}

// DiskStorage stores upload bytes as files under a root directory.
type DiskStorage struct {
	root string
}

// NewDiskStorage creates the root directory if needed.
func NewDiskStorage(root string) (*DiskStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &DiskStorage{root: root}, nil
}

// Root returns the directory uploads are written to.
func (d *DiskStorage) Root() string {
	return d.root
}

// Store writes the bytes to root/name, overwriting any previous upload with
// the same sanitized name.
func (d *DiskStorage) Store(name string, r io.Reader) (string, int64, error) {
	path := filepath.Join(d.root, name)
	f, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}
	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, err
	}
	return path, size, nil
}

// Open returns the stored bytes for name.
func (d *DiskStorage) Open(name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(d.root, name))
}
