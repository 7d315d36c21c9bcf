package parser

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"leadpipeline_backend/internal/feed/xmldoc"
)

// fields is what a token walk collected, before normalization.
type fields struct {
	fullName   string
	firstName  string
	lastName   string
	email      string
	phone      string
	make       string
	model      string
	year       string
	provider   string
	externalID string
	comments   string

	truncated bool // walk stopped at a syntax error
	sawStart  bool
}

func (f fields) name() string {
	if strings.TrimSpace(f.fullName) != "" {
		return f.fullName
	}
	return strings.TrimSpace(f.firstName + " " + f.lastName)
}

// Elements under these ancestors describe the dealer or lead vendor, not the customer.
var foreignAncestors = map[string]bool{"vendor": true, "provider": true}

var vehicleElements = map[string]bool{"vehicleinterest": true, "vehicle": true}

// walk tokenizes doc leniently, ignoring namespaces and unknown elements, and
// keeps whatever it collected if the document turns out to be malformed.
func walk(doc []byte) fields {
	var f fields
	dec := xmldoc.NewDecoder(doc, false)

	type frame struct {
		name string
		part string
		attr map[string]string
		text strings.Builder
	}
	var stack []*frame

	underForeign := func() bool {
		for _, fr := range stack {
			if foreignAncestors[fr.name] {
				return true
			}
		}
		return false
	}
	parent := func() string {
		if len(stack) < 2 {
			return ""
		}
		return stack[len(stack)-2].name
	}
	underVehicle := func() bool {
		for _, fr := range stack[:len(stack)-1] {
			if vehicleElements[fr.name] {
				return true
			}
		}
		return false
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return f
		}
		if err != nil {
			f.truncated = true
			// Keep text of elements left open by the syntax error, innermost first.
			for len(stack) > 0 {
				fr := stack[len(stack)-1]
				if !underForeign() {
					f.collectText(fr.name, fr.part, parent(), underVehicle(), fr.attr, strings.TrimSpace(fr.text.String()))
				}
				stack = stack[:len(stack)-1]
			}
			return f
		}

		switch t := tok.(type) {
		case xml.StartElement:
			f.sawStart = true
			fr := &frame{name: strings.ToLower(xmldoc.LocalName(t.Name)), attr: attrMap(t.Attr)}
			fr.part = strings.ToLower(fr.attr["part"])
			stack = append(stack, fr)

			if underForeign() {
				continue
			}
			switch {
			case vehicleElements[fr.name]:
				setOnce(&f.make, fr.attr["make"])
				setOnce(&f.model, fr.attr["model"])
				setOnce(&f.year, fr.attr["year"])
			case fr.name == "source":
				setOnce(&f.provider, fr.attr["provider"])
				setOnce(&f.externalID, firstNonEmpty(fr.attr["externalid"], fr.attr["id"]))
			}

		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}

		case xml.EndElement:
			if len(stack) == 0 {
				continue
			}
			fr := stack[len(stack)-1]
			if !underForeign() {
				f.collectText(fr.name, fr.part, parent(), underVehicle(), fr.attr, strings.TrimSpace(fr.text.String()))
			}
			stack = stack[:len(stack)-1]
		}
	}
}

func (f *fields) collectText(name, part, parent string, inVehicle bool, attr map[string]string, text string) {
	if text == "" {
		return
	}
	switch name {
	case "name":
		switch part {
		case "first":
			setOnce(&f.firstName, text)
		case "last":
			setOnce(&f.lastName, text)
		default:
			setOnce(&f.fullName, text)
		}
	case "firstname", "first_name", "first":
		setOnce(&f.firstName, text)
	case "lastname", "last_name", "last", "surname":
		setOnce(&f.lastName, text)
	case "email", "emailaddress":
		setOnce(&f.email, text)
	case "phone", "telephone", "mobile":
		setOnce(&f.phone, text)
	case "make", "model", "year":
		if !inVehicle {
			return
		}
		switch name {
		case "make":
			setOnce(&f.make, text)
		case "model":
			setOnce(&f.model, text)
		default:
			setOnce(&f.year, text)
		}
	case "id", "externalid":
		if parent == "customer" || parent == "contact" {
			return
		}
		setOnce(&f.externalID, text)
		setOnce(&f.provider, attr["source"])
	case "comments":
		setOnce(&f.comments, text)
	}
}

func attrMap(attrs []xml.Attr) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, a := range attrs {
		if xmldoc.IsNamespaceDecl(a) {
			continue
		}
		key := strings.ToLower(a.Name.Local)
		if _, exists := out[key]; !exists {
			out[key] = strings.TrimSpace(a.Value)
		}
	}
	return out
}

func setOnce(dst *string, value string) {
	if *dst == "" {
		*dst = strings.TrimSpace(value)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
