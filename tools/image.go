package tools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/PlatformNetwork/top-agent/unifiedllm"
)

const maxImageBytes = 5 << 20

// ViewImageTool loads an image so the model can look at it. Netpbm files are
// converted to PNG, which every vision endpoint accepts.
func ViewImageTool(ws *Workspace) Tool {
	return New(Definition{
		Name: "view_image",
		Description: "View a local image from the filesystem for visual analysis.\n" +
			"Use it for images the user points to, or for images you render yourself from data " +
			"(write a PPM or PNG file, then call view_image with its path).\n" +
			"Supported formats: PNG, JPEG, GIF, WebP, PPM/PGM.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Local filesystem path to the image file",
				},
			},
			"required": []string{"path"},
		},
		Cacheable: true,
	}, func(ctx context.Context, params Params) (Result, error) {
		path := ws.Resolve(params.StringOr("path", ""))
		info, err := statPath(path)
		if err != nil {
			return Result{}, err
		}
		if info.Size() > maxImageBytes {
			return Result{}, fmt.Errorf("image is %d bytes, larger than the %d byte limit", info.Size(), maxImageBytes)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return Result{}, fmt.Errorf("failed to read image: %w", err)
		}

		mediaType := http.DetectContentType(data)
		if isNetpbm(data) {
			data, err = netpbmToPNG(data)
			if err != nil {
				return Result{}, fmt.Errorf("failed to convert %s: %w", filepath.Base(path), err)
			}
			mediaType = "image/png"
		}
		switch mediaType {
		case "image/png", "image/jpeg", "image/gif", "image/webp":
		default:
			return Result{}, fmt.Errorf("unsupported image type %s for %s", mediaType, path)
		}

		return Result{
			Output: fmt.Sprintf("Image loaded: %s (%s, %d bytes). It is attached below.", path, mediaType, len(data)),
			Images: []unifiedllm.ImageData{{Data: data, MediaType: mediaType}},
		}, nil
	})
}

func isNetpbm(data []byte) bool {
	return len(data) > 2 && data[0] == 'P' && strings.ContainsRune("2356", rune(data[1]))
}

// netpbmToPNG decodes P2/P3 (ASCII) and P5/P6 (binary) images.
func netpbmToPNG(data []byte) ([]byte, error) {
	r := bufio.NewReader(bytes.NewReader(data))
	magic, err := pnmToken(r)
	if err != nil {
		return nil, err
	}
	var dims [3]int
	for i := range dims {
		tok, err := pnmToken(r)
		if err != nil {
			return nil, fmt.Errorf("truncated header: %w", err)
		}
		if dims[i], err = strconv.Atoi(tok); err != nil || dims[i] <= 0 {
			return nil, fmt.Errorf("bad header value %q", tok)
		}
	}
	width, height, maxval := dims[0], dims[1], dims[2]
	if maxval > 65535 || width*height > 64<<20 {
		return nil, fmt.Errorf("unsupported dimensions %dx%d max %d", width, height, maxval)
	}

	channels := 1
	if magic == "P3" || magic == "P6" {
		channels = 3
	}
	ascii := magic == "P2" || magic == "P3"
	wide := maxval > 255

	sample := func() (int, error) {
		if ascii {
			tok, err := pnmToken(r)
			if err != nil {
				return 0, err
			}
			return strconv.Atoi(tok)
		}
		if wide {
			var b [2]byte
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return 0, err
			}
			return int(b[0])<<8 | int(b[1]), nil
		}
		b, err := r.ReadByte()
		return int(b), err
	}
	scale := func(v int) uint8 {
		return uint8(v * 255 / maxval)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var px [3]int
			for c := 0; c < channels; c++ {
				if px[c], err = sample(); err != nil {
					return nil, fmt.Errorf("truncated pixel data: %w", err)
				}
			}
			if channels == 1 {
				px[1], px[2] = px[0], px[0]
			}
			img.Set(x, y, color.RGBA{R: scale(px[0]), G: scale(px[1]), B: scale(px[2]), A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// pnmToken reads one whitespace-separated header token, skipping comments.
// Exactly one whitespace byte after the token is consumed, as binary pixel
// data starts right after the maxval token.
func pnmToken(r *bufio.Reader) (string, error) {
	var tok []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			if len(tok) > 0 && err == io.EOF {
				return string(tok), nil
			}
			return "", err
		}
		switch {
		case b == '#' && len(tok) == 0:
			if _, err := r.ReadString('\n'); err != nil {
				return "", err
			}
		case b == ' ' || b == '\t' || b == '\n' || b == '\r':
			if len(tok) > 0 {
				return string(tok), nil
			}
		default:
			tok = append(tok, b)
		}
	}
}
