package call

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// EncodeVideoFrame 把画面缩放到 width x height 并编码为 JPEG 分片
func EncodeVideoFrame(img image.Image, width, height, quality int) (MediaChunk, error) {
	if img == nil {
		return MediaChunk{}, fmt.Errorf("encode video frame: no image")
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return MediaChunk{}, fmt.Errorf("encode video frame: %w", err)
	}
	return MediaChunk{
		MIMEType: "image/jpeg",
		Data:     base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}
