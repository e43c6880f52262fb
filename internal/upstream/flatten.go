package upstream

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// flattenXML decodes an XML document into the same nested-map shape the JSON
// path produces: an element with only scalar children becomes a flat
// key/value map, and repeated sibling tags accumulate into an array under
// that tag.
func flattenXML(r io.Reader) (map[string]any, error) {
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "upstream: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			return nil, eris.New("upstream: empty xml document")
		}
		if err != nil {
			return nil, eris.Wrap(err, "upstream: read xml token")
		}
		if se, ok := tok.(xml.StartElement); ok {
			node, err := flattenElement(decoder, se)
			if err != nil {
				return nil, err
			}
			m, ok := node.(map[string]any)
			if !ok {
				// Root with no child elements; wrap so callers always get a map.
				return map[string]any{se.Name.Local: node}, nil
			}
			return m, nil
		}
	}
}

// flattenElement consumes one element and its subtree. It returns a
// map[string]any when the element has child elements, otherwise the
// element's trimmed character data as a string.
func flattenElement(decoder *xml.Decoder, start xml.StartElement) (any, error) {
	var text strings.Builder
	var children map[string]any

	for {
		tok, err := decoder.Token()
		if err != nil {
			return nil, eris.Wrap(err, "upstream: read xml token")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			child, err := flattenElement(decoder, t)
			if err != nil {
				return nil, err
			}
			if children == nil {
				children = make(map[string]any)
			}
			addChild(children, t.Name.Local, child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if children != nil {
				return children, nil
			}
			return strings.TrimSpace(text.String()), nil
		}
	}
}

// addChild inserts a child node, converting to an array when the tag repeats.
func addChild(m map[string]any, tag string, node any) {
	existing, found := m[tag]
	if !found {
		m[tag] = node
		return
	}
	if arr, ok := existing.([]any); ok {
		m[tag] = append(arr, node)
		return
	}
	m[tag] = []any{existing, node}
}
