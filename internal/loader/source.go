// =============================================================================
// FatturaPA Extractor - Document Loader
// =============================================================================
//
// The loader turns sources into items and items into element trees.
//
// DISCOVERY:
//   fattura.xml          -> 1 item  "fattura.xml"
//   lotto.zip            -> 1 item per .xml entry  "lotto.zip!IT01_0001.xml"
//   anything else        -> LoadError
//
// PARSING:
//   Items are decoded from a token stream into a namespace-agnostic tree.
//   DOCTYPE and entity declarations are rejected, never stripped.
//
// =============================================================================

package loader

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/ginjaninja78/fatturapa-extractor/internal/types"
)

// EntrySeparator joins an archive name and an entry name in item keys.
const EntrySeparator = "!"

var zipMagic = [][]byte{
	[]byte("PK\x03\x04"),
	[]byte("PK\x05\x06"), // empty archive
}

// ErrUnsupportedSource is wrapped by the LoadError returned for sources
// that are neither XML documents nor ZIP archives.
var ErrUnsupportedSource = errors.New("unsupported source: expected .xml or .zip")

// Source is a file on disk or an in-memory blob such as a web upload.
type Source struct {
	// Name is used to build item keys. For files it is the path as given.
	Name string
	// Path is set for file sources.
	Path string
	// Data is set for in-memory sources.
	Data []byte
}

// FileSource returns a source reading from path.
func FileSource(path string) Source {
	return Source{Name: path, Path: path}
}

// BytesSource returns an in-memory source.
func BytesSource(name string, data []byte) Source {
	return Source{Name: name, Data: data}
}

func (s Source) inMemory() bool { return s.Path == "" }

// Item is one XML document inside a source.
type Item struct {
	Name string
	open func() (io.ReadCloser, error)
}

// NewItem builds an item from an opener. Used by callers that hold
// documents outside the file system.
func NewItem(name string, open func() (io.ReadCloser, error)) Item {
	return Item{Name: name, open: open}
}

// Open returns a fresh reader on the item's raw bytes.
func (it Item) Open() (io.ReadCloser, error) {
	if it.open == nil {
		return nil, errors.Newf("item %s has no content", it.Name)
	}
	return it.open()
}

// Bundle is the result of discovery. Close releases the archive, if any,
// once every item has been parsed.
type Bundle struct {
	Source Source
	Items  []Item

	closer io.Closer
}

// Close releases resources held by the bundle.
func (b *Bundle) Close() error {
	if b == nil || b.closer == nil {
		return nil
	}
	err := b.closer.Close()
	b.closer = nil
	return err
}

// =============================================================================
// DISCOVERY
// =============================================================================

// Discover enumerates the items of src. Archive entries keep the order of
// the archive listing.
func (l *Loader) Discover(src Source) (*Bundle, error) {
	archive, err := isArchive(src)
	if err != nil {
		return nil, &types.LoadError{Source: src.Name, Err: err}
	}
	if archive {
		return l.discoverArchive(src)
	}
	if !strings.EqualFold(filepath.Ext(src.Name), ".xml") {
		return nil, &types.LoadError{Source: src.Name, Err: ErrUnsupportedSource}
	}

	if src.inMemory() {
		data := src.Data
		return &Bundle{Source: src, Items: []Item{{
			Name: src.Name,
			open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
		}}}, nil
	}

	info, err := os.Stat(src.Path)
	if err != nil {
		return nil, &types.LoadError{Source: src.Name, Err: err}
	}
	if info.IsDir() {
		return nil, &types.LoadError{Source: src.Name, Err: errors.New("is a directory")}
	}
	path := src.Path
	return &Bundle{Source: src, Items: []Item{{
		Name: src.Name,
		open: func() (io.ReadCloser, error) { return os.Open(path) },
	}}}, nil
}

func (l *Loader) discoverArchive(src Source) (*Bundle, error) {
	var (
		zr     *zip.Reader
		closer io.Closer
	)
	if src.inMemory() {
		r, err := zip.NewReader(bytes.NewReader(src.Data), int64(len(src.Data)))
		if err != nil {
			return nil, &types.LoadError{Source: src.Name, Err: errors.Wrap(err, "read archive")}
		}
		zr = r
	} else {
		rc, err := zip.OpenReader(src.Path)
		if err != nil {
			return nil, &types.LoadError{Source: src.Name, Err: errors.Wrap(err, "open archive")}
		}
		zr, closer = &rc.Reader, rc
	}

	bundle := &Bundle{Source: src, closer: closer}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(filepath.Ext(f.Name), ".xml") {
			continue
		}
		entry := f
		bundle.Items = append(bundle.Items, Item{
			Name: src.Name + EntrySeparator + entry.Name,
			open: func() (io.ReadCloser, error) { return entry.Open() },
		})
	}
	l.log.Debugw("Archive listed", "source", src.Name, "entries", len(zr.File), "items", len(bundle.Items))
	return bundle, nil
}

func isArchive(src Source) (bool, error) {
	if strings.EqualFold(filepath.Ext(src.Name), ".zip") {
		return true, nil
	}
	head := src.Data
	if !src.inMemory() {
		f, err := os.Open(src.Path)
		if err != nil {
			return false, err
		}
		defer f.Close()
		buf := make([]byte, 4)
		n, _ := io.ReadFull(f, buf)
		head = buf[:n]
	}
	for _, magic := range zipMagic {
		if bytes.HasPrefix(head, magic) {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// SEQUENTIAL LOAD
// =============================================================================

// Document is one parsed item. Err is set instead of Root when the item
// could not be parsed.
type Document struct {
	Name string
	Root *Node
	Err  error
}

// Load discovers and parses every item of src in order. Item failures are
// reported per document; only discovery failures are returned as error.
func (l *Loader) Load(ctx context.Context, src Source) ([]Document, error) {
	bundle, err := l.Discover(src)
	if err != nil {
		return nil, err
	}
	defer bundle.Close()

	docs := make([]Document, 0, len(bundle.Items))
	for _, item := range bundle.Items {
		root, err := l.Parse(ctx, item)
		docs = append(docs, Document{Name: item.Name, Root: root, Err: err})
	}
	return docs, nil
}
