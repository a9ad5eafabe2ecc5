package chatmsg

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContentMarshalsPlainString(t *testing.T) {
	c := NewTextContent("hello")
	b, err := json.Marshal(c)
	require.NoError(t, err)
	require.JSONEq(t, `"hello"`, string(b))
}

func TestContentMarshalsParts(t *testing.T) {
	c := NewPartsContent([]Part{
		{Type: "text", Text: "hi"},
		{Type: "image_url", ImageURL: &ImageURL{URL: "data:image/png;base64,abc", Detail: "high"}},
	})
	b, err := json.Marshal(c)
	require.NoError(t, err)
	require.JSONEq(t, `[{"type":"text","text":"hi"},{"type":"image_url","image_url":{"url":"data:image/png;base64,abc","detail":"high"}}]`, string(b))
}

func TestContentUnmarshalsPlainString(t *testing.T) {
	var c Content
	require.NoError(t, json.Unmarshal([]byte(`"hello"`), &c))
	require.True(t, c.IsText())
	require.Equal(t, "hello", *c.Text)
}

func TestContentUnmarshalsParts(t *testing.T) {
	var c Content
	require.NoError(t, json.Unmarshal([]byte(`[{"type":"text","text":"hi"}]`), &c))
	require.False(t, c.IsText())
	require.Len(t, c.Parts, 1)
	require.Equal(t, "hi", c.Parts[0].Text)
}

func TestContentUnmarshalsNull(t *testing.T) {
	var c Content
	require.NoError(t, json.Unmarshal([]byte(`null`), &c))
	require.False(t, c.IsText())
	require.Nil(t, c.Parts)
}

func TestContentUnmarshalRejectsUnrecognizedShape(t *testing.T) {
	var c Content
	require.Error(t, json.Unmarshal([]byte(`42`), &c))
}

func TestMessageRoundTripsThroughJSON(t *testing.T) {
	msg := Message{Role: "user", Content: NewTextContent("hi there")}
	b, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Equal(t, "user", decoded.Role)
	require.True(t, decoded.Content.IsText())
	require.Equal(t, "hi there", *decoded.Content.Text)
}

func TestPrependTextOnStringContent(t *testing.T) {
	c := NewTextContent("world")
	out := c.PrependText("hello ")
	require.Equal(t, "hello world", *out.Text)
	require.Equal(t, "world", *c.Text, "original must be unmodified")
}

func TestPrependTextOnPartsWithExistingTextPart(t *testing.T) {
	c := NewPartsContent([]Part{
		{Type: "image_url", ImageURL: &ImageURL{URL: "x"}},
		{Type: "text", Text: "world"},
	})
	out := c.PrependText("hello ")
	require.Equal(t, "hello world", out.Parts[1].Text)
	require.Equal(t, "world", c.Parts[1].Text, "original must be unmodified")
}

func TestPrependTextOnPartsWithoutTextPartInsertsNewOne(t *testing.T) {
	c := NewPartsContent([]Part{
		{Type: "image_url", ImageURL: &ImageURL{URL: "x"}},
	})
	out := c.PrependText("hello")
	require.Len(t, out.Parts, 2)
	require.Equal(t, "text", out.Parts[0].Type)
	require.Equal(t, "hello", out.Parts[0].Text)
}
