// Package xmldoc decodes lead documents into a small element tree and exposes
// the tokenizer both parser tiers share.
package xmldoc

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// ErrNoRootElement is returned when the input contains no start element.
var ErrNoRootElement = errors.New("no root element")

// Node is one decoded element.
type Node struct {
	Name     xml.Name
	Attrs    []xml.Attr
	Children []*Node
	Text     string
}

// Attr returns the value of the attribute with the given local name, ignoring namespaces.
func (n *Node) Attr(local string) (string, bool) {
	for _, a := range n.Attrs {
		if IsNamespaceDecl(a) {
			continue
		}
		if strings.EqualFold(a.Name.Local, local) {
			return a.Value, true
		}
	}
	return "", false
}

// IsNamespaceDecl reports whether a is an xmlns declaration rather than data.
func IsNamespaceDecl(a xml.Attr) bool {
	return a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns")
}

// NewDecoder returns a decoder that understands declared non-UTF-8 encodings.
// strict toggles encoding/xml's well-formedness checks.
func NewDecoder(doc []byte, strict bool) *xml.Decoder {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	dec.Strict = strict
	dec.CharsetReader = charset.NewReaderLabel
	if !strict {
		dec.AutoClose = xml.HTMLAutoClose
		dec.Entity = xml.HTMLEntity
	}
	return dec
}

// Decode reads the whole document into a tree. Any syntax error fails the decode.
func Decode(doc []byte) (*Node, error) {
	dec := NewDecoder(doc, true)
	var stack []*Node
	var root *Node

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Name: t.Name, Attrs: append([]xml.Attr(nil), t.Attr...)}
			if len(stack) == 0 {
				if root != nil {
					return nil, errors.New("multiple root elements")
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				top.Text = strings.TrimSpace(top.Text)
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}

	if root == nil {
		return nil, ErrNoRootElement
	}
	return root, nil
}

// Root returns the first start element in doc without reading further.
// It tolerates malformed content after the root tag.
func Root(doc []byte) (xml.StartElement, error) {
	dec := NewDecoder(doc, false)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return xml.StartElement{}, ErrNoRootElement
		}
		if err != nil {
			return xml.StartElement{}, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Copy(), nil
		}
	}
}

// LocalName strips any prefix from a tag name. encoding/xml already splits
// resolved namespaces, but unresolved prefixes stay in Local as "p:name".
func LocalName(name xml.Name) string {
	if i := strings.LastIndexByte(name.Local, ':'); i >= 0 {
		return name.Local[i+1:]
	}
	return name.Local
}

// HasPrefix reports whether name carried a namespace or prefix.
func HasPrefix(name xml.Name) bool {
	return name.Space != "" || strings.Contains(name.Local, ":")
}
