package x11

import (
	"image"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/pkg/errors"
)

// putRequestHeader is the size of a PutImage request without its data.
const putRequestHeader = 24

// pixmapFormat returns bits per pixel and scanline padding for depth.
func (d *Display) pixmapFormat(depth byte) (bpp, pad int, err error) {
	for _, f := range d.setup.PixmapFormats {
		if f.Depth == depth {
			return int(f.BitsPerPixel), int(f.ScanlinePad), nil
		}
	}
	return 0, 0, errors.Errorf("no pixmap format for depth %d", depth)
}

// zpixmap converts rows [y0, y1) of img to ZPixmap data laid out for a
// little-endian TrueColor visual. Only 24 and 32 bits per pixel are
// supported.
func zpixmap(img *image.RGBA, y0, y1, bpp, pad int, withAlpha bool) ([]byte, int, error) {
	if bpp != 24 && bpp != 32 {
		return nil, 0, errors.Errorf("unsupported bits per pixel %d", bpp)
	}
	bytesPerPixel := bpp / 8
	width := img.Bounds().Dx()
	stride := scanlineStride(width, bpp, pad)

	data := make([]byte, stride*(y1-y0))
	for y := y0; y < y1; y++ {
		src := img.Pix[(y-img.Rect.Min.Y)*img.Stride:]
		dst := data[(y-y0)*stride:]
		for x := 0; x < width; x++ {
			s := src[x*4 : x*4+4]
			p := dst[x*bytesPerPixel:]
			p[0] = s[2]
			p[1] = s[1]
			p[2] = s[0]
			if bytesPerPixel == 4 && withAlpha {
				p[3] = s[3]
			}
		}
	}
	return data, stride, nil
}

func scanlineStride(width, bpp, pad int) int {
	padBytes := pad / 8
	if padBytes == 0 {
		padBytes = 1
	}
	return ((width*bpp/8 + padBytes - 1) / padBytes) * padBytes
}

// putImage uploads img to the window in strips small enough for the
// server's request size limit.
func (d *Display) putImage(wid xproto.Window, gc xproto.Gcontext, s *Screen, img *image.RGBA) error {
	bpp, pad, err := d.pixmapFormat(s.depth)
	if err != nil {
		return err
	}

	width := img.Bounds().Dx()
	height := img.Bounds().Dy()
	stride := scanlineStride(width, bpp, pad)

	maxBytes := int(d.setup.MaximumRequestLength)*4 - putRequestHeader
	rows := maxBytes / stride
	if rows < 1 {
		return errors.Errorf("row of %d bytes exceeds the request limit", stride)
	}

	for y := 0; y < height; y += rows {
		end := y + rows
		if end > height {
			end = height
		}
		data, _, err := zpixmap(img, y, end, bpp, pad, s.depth == 32)
		if err != nil {
			return err
		}
		xproto.PutImage(d.conn, xproto.ImageFormatZPixmap, xproto.Drawable(wid), gc,
			uint16(width), uint16(end-y), 0, int16(y), 0, s.depth, data)
	}
	return nil
}
