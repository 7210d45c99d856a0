package loader

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/ginjaninja78/fatturapa-extractor/internal/logging"
	"github.com/ginjaninja78/fatturapa-extractor/internal/types"
)

// Default limits applied when Options leaves a field at zero.
const (
	DefaultMaxItemBytes  int64 = 32 << 20
	DefaultMaxDepth            = 64
	DefaultMaxElements         = 500_000
	DefaultCheckInterval       = 256
)

// DefaultFallbackEncodings are tried, in order, for documents that are not
// valid UTF-8 and either declare no encoding or declare UTF-8.
var DefaultFallbackEncodings = []string{"ISO-8859-15", "Windows-1252"}

var (
	utf8BOM        = []byte{0xEF, 0xBB, 0xBF}
	encodingDeclRe = regexp.MustCompile(`^\s*<\?xml[^?]*\bencoding\s*=\s*["']([^"']+)["']`)
)

// Options bounds the resources a single item may consume.
type Options struct {
	MaxItemBytes      int64
	MaxDepth          int
	MaxElements       int
	FallbackEncodings []string

	// CheckInterval is the number of tokens between context checks.
	CheckInterval int

	Logger *zap.SugaredLogger
}

// Loader discovers and parses items. It holds no per-item state and is
// safe for concurrent use.
type Loader struct {
	opts      Options
	fallbacks []namedEncoding
	log       *zap.SugaredLogger
}

type namedEncoding struct {
	label string
	enc   encoding.Encoding
}

// New creates a loader. Unknown fallback encoding labels are rejected.
func New(opts Options) (*Loader, error) {
	if opts.MaxItemBytes <= 0 {
		opts.MaxItemBytes = DefaultMaxItemBytes
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.MaxElements <= 0 {
		opts.MaxElements = DefaultMaxElements
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	if opts.FallbackEncodings == nil {
		opts.FallbackEncodings = DefaultFallbackEncodings
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("loader")
	}

	l := &Loader{opts: opts, log: opts.Logger}
	for _, label := range opts.FallbackEncodings {
		enc, err := lookupEncoding(label)
		if err != nil {
			return nil, err
		}
		l.fallbacks = append(l.fallbacks, namedEncoding{label: label, enc: enc})
	}
	return l, nil
}

// =============================================================================
// PARSING
// =============================================================================

// Parse reads item and builds its element tree.
//
// Errors are typed: *types.UnsafeXMLError for DTDs, entities and limit
// violations, *types.MalformedXMLError for syntax errors, *types.LoadError
// when the bytes cannot be read. A done ctx returns ctx.Err().
func (l *Loader) Parse(ctx context.Context, item Item) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rc, err := item.Open()
	if err != nil {
		return nil, &types.LoadError{Source: item.Name, Err: err}
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, l.opts.MaxItemBytes+1))
	if err != nil {
		return nil, &types.LoadError{Source: item.Name, Err: errors.Wrap(err, "read item")}
	}
	if int64(len(data)) > l.opts.MaxItemBytes {
		return nil, &types.UnsafeXMLError{
			Item:      item.Name,
			Construct: "oversized document",
			Detail:    fmt.Sprintf("more than %d bytes", l.opts.MaxItemBytes),
		}
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	if utf8.Valid(data) || !claimsUTF8(declaredEncoding(data)) {
		return l.build(ctx, item.Name, data)
	}

	var lastErr error = &types.MalformedXMLError{Item: item.Name, Err: errors.New("invalid UTF-8")}
	for _, fb := range l.fallbacks {
		decoded, err := fb.enc.NewDecoder().Bytes(data)
		if err != nil {
			continue
		}
		root, err := l.build(ctx, item.Name, decoded)
		if err == nil {
			l.log.Debugw("Decoded with fallback encoding", logging.FieldItem, item.Name, "encoding", fb.label)
			return root, nil
		}
		var malformed *types.MalformedXMLError
		if !errors.As(err, &malformed) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (l *Loader) build(ctx context.Context, name string, data []byte) (*Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true
	dec.CharsetReader = charsetReader

	var (
		root     *Node
		stack    []*Node
		elements int
	)
	for n := 0; ; n++ {
		if n%l.opts.CheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, syntaxError(name, dec, err)
		}

		switch t := tok.(type) {
		case xml.Directive:
			return nil, &types.UnsafeXMLError{
				Item:      name,
				Construct: directiveName(t),
				Detail:    "document type declarations are not accepted",
			}

		case xml.StartElement:
			if root != nil && len(stack) == 0 {
				line, col := dec.InputPos()
				return nil, &types.MalformedXMLError{Item: name, Line: line, Column: col, Err: errors.New("multiple root elements")}
			}
			elements++
			if elements > l.opts.MaxElements {
				return nil, &types.UnsafeXMLError{Item: name, Construct: "element count", Detail: fmt.Sprintf("more than %d elements", l.opts.MaxElements)}
			}
			if len(stack) >= l.opts.MaxDepth {
				return nil, &types.UnsafeXMLError{Item: name, Construct: "nesting depth", Detail: fmt.Sprintf("deeper than %d levels", l.opts.MaxDepth)}
			}

			line, _ := dec.InputPos()
			node := &Node{Name: t.Name.Local, Space: t.Name.Space, Line: line}
			if len(t.Attr) > 0 {
				node.Attrs = make(map[string]string, len(t.Attr))
				for _, a := range t.Attr {
					node.Attrs[a.Name.Local] = a.Value
				}
			}
			if len(stack) == 0 {
				root = node
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, node)
			}
			stack = append(stack, node)

		case xml.EndElement:
			top := stack[len(stack)-1]
			top.Text = strings.TrimSpace(top.Text)
			stack = stack[:len(stack)-1]

		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
				continue
			}
			if len(bytes.TrimSpace(t)) > 0 {
				line, col := dec.InputPos()
				return nil, &types.MalformedXMLError{Item: name, Line: line, Column: col, Err: errors.New("text outside the root element")}
			}
		}
	}

	if root == nil {
		return nil, &types.MalformedXMLError{Item: name, Err: errors.New("no root element")}
	}
	return root, nil
}

func syntaxError(name string, dec *xml.Decoder, err error) error {
	line, col := dec.InputPos()
	var se *xml.SyntaxError
	if !errors.As(err, &se) {
		return &types.MalformedXMLError{Item: name, Line: line, Column: col, Err: err}
	}
	if namedEntityReference(se.Msg) {
		return &types.UnsafeXMLError{Item: name, Construct: "ENTITY", Detail: se.Msg}
	}
	if se.Line > 0 && se.Line != line {
		line, col = se.Line, 0
	}
	return &types.MalformedXMLError{Item: name, Line: line, Column: col, Err: errors.New(se.Msg)}
}

// namedEntityReference reports whether msg rejects a reference such as
// &xxe;. Broken numeric references (&#xZZ;) are plain syntax errors.
func namedEntityReference(msg string) bool {
	const prefix = "invalid character entity &"
	i := strings.Index(msg, prefix)
	if i < 0 {
		return false
	}
	r, _ := utf8.DecodeRuneInString(msg[i+len(prefix):])
	return r == '_' || r == ':' || unicode.IsLetter(r)
}

func directiveName(d xml.Directive) string {
	fields := strings.Fields(string(d))
	if len(fields) == 0 {
		return "directive"
	}
	return strings.ToUpper(fields[0])
}

func declaredEncoding(data []byte) string {
	head := data
	if len(head) > 256 {
		head = head[:256]
	}
	m := encodingDeclRe.FindSubmatch(head)
	if m == nil {
		return ""
	}
	return string(m[1])
}

// claimsUTF8 is true for an absent declaration and for UTF-8 in any
// spelling.
func claimsUTF8(label string) bool {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", "utf-8":
		return true
	}
	return false
}

func lookupEncoding(label string) (encoding.Encoding, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, errors.Wrapf(err, "unknown encoding %q", label)
	}
	if enc == nil {
		return nil, errors.Newf("unsupported encoding %q", label)
	}
	return enc, nil
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := lookupEncoding(label)
	if err != nil {
		return nil, err
	}
	return enc.NewDecoder().Reader(input), nil
}
