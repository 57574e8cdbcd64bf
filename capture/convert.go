package capture

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/e7canasta/orion-care-sensor/camera-shm/framering"
)

// Fixed-point BT.601 luma weights (14-bit), the same coefficients OpenCV's
// RGB2GRAY uses, so frames match what OpenCV consumers expect.
const (
	lumaR     = 4899
	lumaG     = 9617
	lumaB     = 1868
	lumaShift = 14
	lumaRound = 1 << (lumaShift - 1)
)

// ConvertAndResize converts raw to single-channel gray and scales it to shape.
//
// Scaling uses bilinear interpolation (golang.org/x/image/draw.BiLinear).
// When raw already has the target size the gray plane is returned as is.
//
// Returns an error wrapping ErrCaptureFailed if raw is malformed; callers
// skip the frame, nothing is written.
func ConvertAndResize(raw RawFrame, shape framering.Shape) (framering.Frame, error) {
	if err := shape.Validate(); err != nil {
		return framering.Frame{}, err
	}
	if err := raw.Validate(); err != nil {
		return framering.Frame{}, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}

	gray := toGray(raw)

	if raw.Width == shape.Width && raw.Height == shape.Height {
		return framering.Frame{Shape: shape, Pix: gray.Pix}, nil
	}

	dst := image.NewGray(image.Rect(0, 0, shape.Width, shape.Height))
	draw.BiLinear.Scale(dst, dst.Bounds(), gray, gray.Bounds(), draw.Src, nil)

	return framering.Frame{Shape: shape, Pix: dst.Pix}, nil
}

// toGray returns a tightly packed gray image (Stride == Width).
func toGray(raw RawFrame) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, raw.Width, raw.Height))

	switch raw.Format {
	case FormatGray:
		copy(img.Pix, raw.Data)

	case FormatRGB, FormatBGR:
		r, b := 0, 2
		if raw.Format == FormatBGR {
			r, b = 2, 0
		}
		for i, j := 0, 0; i < len(img.Pix); i, j = i+1, j+3 {
			px := raw.Data[j : j+3 : j+3]
			img.Pix[i] = uint8((uint32(px[r])*lumaR + uint32(px[1])*lumaG + uint32(px[b])*lumaB + lumaRound) >> lumaShift)
		}
	}

	return img
}
