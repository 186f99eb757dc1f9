package body

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pkg/errors"
)

const (
	TypeMultipartMixed = "multipart/mixed"
	TypeSDP            = "application/sdp"
)

// Part is one sub-part of a multipart body.
type Part struct {
	Type string
	Data []byte
}

// Body is a parsed message body: the container type and, for multipart
// containers, its sub-parts in arrival order.
type Body struct {
	Type  string
	Parts []Part
}

// Parse parses raw payload bytes against the declared content type. Only
// multipart containers are exploded; any other type is kept as a single
// opaque part.
func Parse(contentType string, raw []byte) (*Body, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse content type")
	}

	b := &Body{Type: mediaType}

	if !strings.HasPrefix(mediaType, "multipart/") {
		b.Parts = []Part{{Type: mediaType, Data: raw}}
		return b, nil
	}

	boundary, ok := params["boundary"]
	if !ok {
		return nil, errors.New("multipart content type missing boundary parameter")
	}

	mr := multipart.NewReader(bytes.NewReader(raw), boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to read body part")
		}

		partType := part.Header.Get("Content-Type")
		if mt, _, err := mime.ParseMediaType(partType); err == nil {
			partType = mt
		}

		data, err := io.ReadAll(part)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read body part payload")
		}

		b.Parts = append(b.Parts, Part{Type: partType, Data: data})
	}

	return b, nil
}

// SDPParts returns the application/sdp sub-parts in arrival order.
func (b *Body) SDPParts() []Part {
	var parts []Part
	for _, p := range b.Parts {
		if p.Type == TypeSDP {
			parts = append(parts, p)
		}
	}
	return parts
}

// Attribute is one free-form SDP attribute.
type Attribute struct {
	Name  string
	Value string
}

// Section is one media description of an offered session: the connection
// address, transport port, offered formats and attributes, plus the 0-based
// index it was assigned on arrival. The index is the correlation key for
// every relay operation concerning this section.
type Section struct {
	Index      int
	Media      string
	Address    string
	Port       int
	Protos     []string
	Formats    []string
	Attributes []Attribute
}

// FilterAttributes keeps only the attributes whose names are in the
// allow-list, preserving order.
func (s *Section) FilterAttributes(allowed ...string) {
	kept := s.Attributes[:0]
	for _, a := range s.Attributes {
		for _, name := range allowed {
			if a.Name == name {
				kept = append(kept, a)
				break
			}
		}
	}
	s.Attributes = kept
}

// ParseSections parses one SDP payload into its media sections. Section
// indexes continue from base so that sections from several SDP parts of the
// same offer share one global sequence. Media descriptions without their own
// connection line inherit the session-level one.
func ParseSections(raw []byte, base int) ([]*Section, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal(raw); err != nil {
		return nil, errors.Wrap(err, "failed to parse session description")
	}

	sessionAddr := ""
	if ci := sd.ConnectionInformation; ci != nil && ci.Address != nil {
		sessionAddr = ci.Address.Address
	}

	sections := make([]*Section, 0, len(sd.MediaDescriptions))
	for i, md := range sd.MediaDescriptions {
		sect := &Section{
			Index:   base + i,
			Media:   md.MediaName.Media,
			Address: sessionAddr,
			Port:    md.MediaName.Port.Value,
			Protos:  md.MediaName.Protos,
			Formats: md.MediaName.Formats,
		}
		if ci := md.ConnectionInformation; ci != nil && ci.Address != nil {
			sect.Address = ci.Address.Address
		}
		for _, a := range md.Attributes {
			sect.Attributes = append(sect.Attributes, Attribute{Name: a.Key, Value: a.Value})
		}
		sections = append(sections, sect)
	}

	return sections, nil
}
