package tokencounter

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/guming3d/azure-openai-benchmark/internal/chatmsg"
)

func pngDataURI(t *testing.T, width, height int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestCountTextContentCountsMessageOverheadAndReplyPriming(t *testing.T) {
	counter, err := NewTiktoken("gpt-4o")
	require.NoError(t, err)

	text, image, err := counter.Count([]chatmsg.Message{
		{Role: "user", Content: chatmsg.NewTextContent("hello world")},
	})
	require.NoError(t, err)
	require.Equal(t, 0, image)
	require.Greater(t, text, 3+3) // tokensPerMessage + reply priming, plus some text tokens
}

func TestCountEmptyTextContentSkipsEncoding(t *testing.T) {
	counter, err := NewTiktoken("gpt-4o")
	require.NoError(t, err)

	text, _, err := counter.Count([]chatmsg.Message{
		{Role: "user", Content: chatmsg.NewTextContent("   ")},
	})
	require.NoError(t, err)
	require.Equal(t, 3+3, text) // just the message and reply-priming overhead
}

func TestCountImagePartLowDetail(t *testing.T) {
	counter, err := NewTiktoken("gpt-4o")
	require.NoError(t, err)

	uri := pngDataURI(t, 64, 64)
	_, imageTokens, err := counter.Count([]chatmsg.Message{
		{Role: "user", Content: chatmsg.NewPartsContent([]chatmsg.Part{
			{Type: "image_url", ImageURL: &chatmsg.ImageURL{URL: uri, Detail: "low"}},
		})},
	})
	require.NoError(t, err)
	require.Equal(t, imgBaseTokensPerImg, imageTokens)
}

func TestCountMixedTextAndImageParts(t *testing.T) {
	counter, err := NewTiktoken("gpt-4o")
	require.NoError(t, err)

	uri := pngDataURI(t, 512, 512)
	text, imageTokens, err := counter.Count([]chatmsg.Message{
		{Role: "user", Content: chatmsg.NewPartsContent([]chatmsg.Part{
			{Type: "text", Text: "describe this"},
			{Type: "image_url", ImageURL: &chatmsg.ImageURL{URL: uri, Detail: "high"}},
		})},
	})
	require.NoError(t, err)
	require.Greater(t, text, 0)
	require.Equal(t, imgBaseTokensPerImg+imgHQTokensPerTile, imageTokens)
}
