package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// PayloadType is the declared kind of a message payload.
type PayloadType string

const (
	PayloadText     PayloadType = "text"
	PayloadImage    PayloadType = "image"
	PayloadAudio    PayloadType = "audio"
	PayloadDocument PayloadType = "document"
	PayloadList     PayloadType = "list"
	PayloadUnknown  PayloadType = "unknown"
)

// ListItem is one row of a list payload.
type ListItem struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Payload is the content of a message. Type selects which fields are meaningful:
// text uses Text; media types use MediaURL or MediaID plus Caption, FileName and
// MimeType; list uses Text as the header and Items.
type Payload struct {
	Type     PayloadType `json:"type"`
	Text     string      `json:"text,omitempty"`
	MediaURL string      `json:"url,omitempty"`
	MediaID  string      `json:"media_id,omitempty"`
	Caption  string      `json:"caption,omitempty"`
	FileName string      `json:"filename,omitempty"`
	MimeType string      `json:"mime_type,omitempty"`
	Items    []ListItem  `json:"items,omitempty"`
}

// TextPayload builds a text payload.
func TextPayload(text string) Payload {
	return Payload{Type: PayloadText, Text: text}
}

// IsMedia reports whether the payload carries a media reference.
func (p Payload) IsMedia() bool {
	switch p.Type {
	case PayloadImage, PayloadAudio, PayloadDocument:
		return true
	}
	return false
}

// Empty reports whether the payload carries no content at all.
func (p Payload) Empty() bool {
	return p.Text == "" && p.MediaURL == "" && p.MediaID == "" && p.Caption == "" &&
		p.FileName == "" && len(p.Items) == 0
}

// Preview renders a one-line textual summary.
func (p Payload) Preview() string {
	switch p.Type {
	case PayloadText:
		return strings.Join(strings.Fields(p.Text), " ")
	case PayloadImage, PayloadAudio, PayloadDocument:
		label := "[" + string(p.Type) + "]"
		switch {
		case p.Caption != "":
			return label + " " + p.Caption
		case p.FileName != "":
			return label + " " + p.FileName
		}
		return label
	case PayloadList:
		if p.Text != "" {
			return "[list] " + p.Text
		}
		return fmt.Sprintf("[list] %d items", len(p.Items))
	default:
		return "[unsupported]"
	}
}

// ParsePayload resolves wire content into a canonical payload. content may be a
// JSON object, or a JSON string holding bare text, serialized JSON, or a numeric
// media id. The result is final; callers never inspect the raw content again.
func ParsePayload(declared string, content json.RawMessage) Payload {
	typ := normalizeType(declared)
	content = bytes.TrimSpace(content)
	if len(content) == 0 || bytes.Equal(content, []byte("null")) {
		return Payload{Type: typ}
	}

	switch content[0] {
	case '{':
		return parseObject(typ, content)
	case '"':
		var s string
		if err := json.Unmarshal(content, &s); err != nil {
			return Payload{Type: PayloadUnknown}
		}
		return parseString(typ, s)
	default:
		// Numbers and booleans only make sense as media references.
		return parseString(typ, string(content))
	}
}

func parseString(typ PayloadType, s string) Payload {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return parseObject(typ, []byte(trimmed))
	}
	if isDigits(trimmed) && (typ == PayloadImage || typ == PayloadAudio || typ == PayloadDocument) {
		return Payload{Type: typ, MediaID: trimmed}
	}
	if typ == PayloadUnknown || typ == PayloadText {
		return TextPayload(s)
	}
	if typ == PayloadList {
		return Payload{Type: PayloadList, Text: s}
	}
	// A media type with free text: keep it as the caption.
	return Payload{Type: typ, Caption: s}
}

func parseObject(typ PayloadType, raw []byte) Payload {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{Type: PayloadUnknown}
	}
	if declared := normalizeType(string(p.Type)); p.Type != "" && declared != PayloadUnknown {
		typ = declared
	}
	if typ == PayloadUnknown {
		typ = inferType(p)
	}
	p.Type = typ
	return p
}

func inferType(p Payload) PayloadType {
	switch {
	case len(p.Items) > 0:
		return PayloadList
	case p.MediaURL != "" || p.MediaID != "":
		return PayloadDocument
	case p.Text != "":
		return PayloadText
	}
	return PayloadUnknown
}

func normalizeType(s string) PayloadType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "chat":
		return PayloadText
	case "image", "sticker":
		return PayloadImage
	case "audio", "ptt", "voice":
		return PayloadAudio
	case "document", "file", "video":
		return PayloadDocument
	case "list", "interactive":
		return PayloadList
	}
	return PayloadUnknown
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
