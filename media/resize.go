// Package media готовит аватарки к загрузке: уменьшает и перекодирует в JPEG.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

const (
	DefaultMaxSide = 400
	DefaultQuality = 80
)

var ErrNotImage = errors.New("unsupported image format")

// FitSize возвращает размеры с сохранением пропорций, не больше maxW x maxH.
// Картинки меньше лимита не увеличиваются.
func FitSize(w, h, maxW, maxH int) (int, int) {
	if w > h {
		if w > maxW {
			h = h * maxW / w
			w = maxW
		}
	} else if h > maxH {
		w = w * maxH / h
		h = maxH
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// Resize декодирует картинку (jpeg, png, gif), вписывает в maxSide x maxSide
// и кодирует в JPEG с качеством quality.
func Resize(data []byte, maxSide, quality int) ([]byte, error) {
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	b := src.Bounds()
	w, h := FitSize(b.Dx(), b.Dy(), maxSide, maxSide)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// JPEG без альфа-канала: прозрачные области становятся белыми
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
