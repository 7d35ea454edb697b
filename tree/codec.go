// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only
package tree

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// ParseError wraps an underlying XML decode failure with the byte
// offset, matching the "syntactically parseable" datastore invariant
// of spec.md §3.
type ParseError struct {
	Offset int64
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d: %s", e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse decodes a serialized config document into a tree rooted at a
// synthetic "config" element (spec.md §4.1 parse(bytes, schema)). The
// schema argument of the spec is supplied separately via BindSchema;
// Parse on its own only needs well-formed XML.
func Parse(data []byte) (*Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	root := New("config")
	stack := []*Node{root}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ParseError{Offset: dec.InputOffset(), Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := New(t.Name.Local)
			n.Namespace = t.Name.Space
			for _, a := range t.Attr {
				if a.Name.Local == "operation" {
					n.Operation = Operation(a.Value)
					continue
				}
				n.Attrs[attrKey(a.Name)] = a.Value
			}
			parent := stack[len(stack)-1]
			parent.AddChild(n)
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) <= 1 {
				return nil, &ParseError{Offset: dec.InputOffset(),
					Err: fmt.Errorf("unbalanced end element %s", t.Name.Local)}
			}
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(n.Children) == 0 {
				n.Value = strings.TrimSpace(n.Value)
				n.HasValue = true
			}
		case xml.CharData:
			cur := stack[len(stack)-1]
			cur.Value += string(t)
		}
	}
	if len(stack) != 1 {
		return nil, &ParseError{Err: fmt.Errorf("unexpected end of document")}
	}
	return root, nil
}

func attrKey(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

// Serialize renders the tree back to XML (spec.md §4.1 serialize). The
// synthetic "config" root is not itself emitted; its children are
// written at the top level, matching a NETCONF <config> payload.
func Serialize(n *Node, pretty bool) []byte {
	var b bytes.Buffer
	enc := xml.NewEncoder(&b)
	if pretty {
		enc.Indent("", "  ")
	}
	for _, c := range n.Children {
		writeElement(enc, c)
	}
	enc.Flush()
	return b.Bytes()
}

func writeElement(enc *xml.Encoder, n *Node) {
	name := xml.Name{Local: n.Name}
	start := xml.StartElement{Name: name}
	if n.Namespace != "" {
		start.Attr = append(start.Attr, xml.Attr{
			Name: xml.Name{Local: "xmlns"}, Value: n.Namespace})
	}
	if n.Operation != OpNone {
		start.Attr = append(start.Attr, xml.Attr{
			Name: xml.Name{Local: "operation"}, Value: string(n.Operation)})
	}
	for k, v := range n.Attrs {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: k}, Value: v})
	}
	enc.EncodeToken(start)
	if len(n.Children) == 0 {
		if n.HasValue && n.Value != "" {
			enc.EncodeToken(xml.CharData(n.Value))
		}
	} else {
		for _, c := range n.Children {
			writeElement(enc, c)
		}
	}
	enc.EncodeToken(xml.EndElement{Name: name})
}
