// Package chatmsg defines the chat-completion message shape shared by the
// message source, token counter, and streaming client: content is a tagged
// union that is either a plain string or a list of typed parts, matching
// the JSON the wire format actually allows.
package chatmsg

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ImageURL is the `image_url` part payload.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// Part is one element of a list-typed message content.
type Part struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// Content is either a plain string (Text != nil) or a list of parts
// (Parts != nil). At most one is set; unmarshalling a JSON null leaves
// both unset.
type Content struct {
	Text  *string
	Parts []Part
}

// NewTextContent builds a string-content value.
func NewTextContent(s string) Content {
	return Content{Text: &s}
}

// NewPartsContent builds a list-content value.
func NewPartsContent(parts []Part) Content {
	return Content{Parts: parts}
}

// IsText reports whether this content is the plain-string form.
func (c Content) IsText() bool { return c.Text != nil }

// MarshalJSON emits a bare string or a JSON array depending on which form
// is set.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Text != nil {
		return json.Marshal(*c.Text)
	}
	return json.Marshal(c.Parts)
}

// UnmarshalJSON accepts either a JSON string or a JSON array of parts.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*c = Content{}
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*c = Content{Text: &s}
		return nil
	}
	if trimmed[0] == '[' {
		var parts []Part
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return err
		}
		*c = Content{Parts: parts}
		return nil
	}
	return fmt.Errorf("chatmsg: unrecognized content shape: %s", string(trimmed))
}

// Message is one chat-completion message.
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// PrependText returns a copy of c with prefix prepended ahead of the
// existing text: for string content, prefix is prepended directly; for
// list content, prefix is prepended to the first Type=="text" part, or a
// new part is inserted at the front if none exists.
func (c Content) PrependText(prefix string) Content {
	if c.Text != nil {
		joined := prefix + *c.Text
		return Content{Text: &joined}
	}

	parts := make([]Part, len(c.Parts))
	copy(parts, c.Parts)
	for i := range parts {
		if parts[i].Type == "text" {
			parts[i].Text = prefix + parts[i].Text
			return Content{Parts: parts}
		}
	}
	return Content{Parts: append([]Part{{Type: "text", Text: prefix}}, parts...)}
}
