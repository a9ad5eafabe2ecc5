package tokencounter

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
)

// Vision tiling constants, ported from the upstream tokenizer's tiling
// estimate (https://platform.openai.com/docs/guides/vision/calculating-costs).
const (
	imgBaseTokensPerImg  = 85
	imgHQTokensPerTile   = 170
	imgTileSizePixels    = 512
	imgMaxSquarePixels   = 2048
	imgShortSidePixels   = 768
)

// NumTokensFromImage returns the token cost of one image at the given
// quality setting. "low" detail is a flat cost; "high" detail tiles the
// image and charges per tile.
func NumTokensFromImage(width, height int, quality string) int {
	if quality == "low" {
		return imgBaseTokensPerImg
	}
	tiles := calcNumImgPatches(width, height)
	return imgBaseTokensPerImg + tiles*imgHQTokensPerTile
}

// calcNumImgPatches ports the upstream three-step tiling estimate: scale
// to fit within a 2048x2048 square, scale again so the shortest side is
// 768px, then count how many 512px tiles the result covers. The
// width/height labels are interchangeable here since the tile count is
// symmetric in the two dimensions.
func calcNumImgPatches(width, height int) int {
	if width <= 0 || height <= 0 {
		return 0
	}

	maxSide := width
	if height > maxSide {
		maxSide = height
	}
	scale := minFloat(1, float64(imgMaxSquarePixels)/float64(maxSide))
	scaledWidth := int(float64(width) * scale)
	scaledHeight := int(float64(height) * scale)

	minSide := scaledWidth
	if scaledHeight < minSide {
		minSide = scaledHeight
	}
	if minSide <= 0 {
		return 0
	}
	scale2 := minFloat(1, float64(imgShortSidePixels)/float64(minSide))
	scaledWidth = int(float64(scaledWidth) * scale2)
	scaledHeight = int(float64(scaledHeight) * scale2)

	numWidthTiles := scaledWidth/imgTileSizePixels + boolToInt(scaledWidth%imgTileSizePixels > 0)
	numHeightTiles := scaledHeight/imgTileSizePixels + boolToInt(scaledHeight%imgTileSizePixels > 0)
	return numWidthTiles * numHeightTiles
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// decodeDataURIDimensions decodes a (possibly data-URI-prefixed) base64
// image and returns its pixel dimensions without decoding the full image,
// using image.DecodeConfig.
func decodeDataURIDimensions(uri string) (width, height int, err error) {
	payload := uri
	if idx := strings.LastIndex(uri, ","); idx >= 0 {
		payload = uri[idx+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return 0, 0, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
