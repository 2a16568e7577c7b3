//go:build cgo

package transcode

import (
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
)

// videoConverter turns decoded frames into yuv420p frames of a fixed size.
// Every frame is converted, including frames already in the target format.
type videoConverter struct {
	width  int
	height int

	ssc *astiav.SoftwareScaleContext
	dst *astiav.Frame

	srcW, srcH int
	srcFmt     astiav.PixelFormat
}

func newVideoConverter(width, height int, c *astikit.Closer) (*videoConverter, error) {
	v := &videoConverter{
		width:  width,
		height: height,
	}

	v.dst = astiav.AllocFrame()
	acquire(c, v.dst.Free)
	v.dst.SetWidth(width)
	v.dst.SetHeight(height)
	v.dst.SetPixelFormat(astiav.PixelFormatYuv420P)
	if err := v.dst.AllocBuffer(0); err != nil {
		return nil, fmt.Errorf("%w: allocating %dx%d frame: %w", ErrConversion, width, height, err)
	}

	acquire(c, func() {
		if v.ssc != nil {
			v.ssc.Free()
		}
	})

	return v, nil
}

// ensure (re)creates the scale context when the source geometry changes.
func (v *videoConverter) ensure(src *astiav.Frame) error {
	w, h, f := src.Width(), src.Height(), src.PixelFormat()
	if v.ssc != nil && w == v.srcW && h == v.srcH && f == v.srcFmt {
		return nil
	}

	if v.ssc != nil {
		v.ssc.Free()
		v.ssc = nil
	}

	ssc, err := astiav.CreateSoftwareScaleContext(
		w, h, f,
		v.width, v.height, astiav.PixelFormatYuv420P,
		astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear),
	)
	if err != nil {
		return fmt.Errorf("%w: scaler %dx%d %s -> %dx%d yuv420p: %w",
			ErrConversion, w, h, f, v.width, v.height, err)
	}

	v.ssc = ssc
	v.srcW, v.srcH, v.srcFmt = w, h, f
	return nil
}

// convert returns the converted frame. The frame is owned by the converter
// and valid until the next call.
func (v *videoConverter) convert(src *astiav.Frame) (*astiav.Frame, error) {
	if err := v.ensure(src); err != nil {
		return nil, err
	}

	// the encoder may still reference the previous picture
	if err := v.dst.MakeWritable(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConversion, err)
	}

	if err := v.ssc.ScaleFrame(src, v.dst); err != nil {
		return nil, fmt.Errorf("%w: scaling: %w", ErrConversion, err)
	}

	v.dst.SetPts(src.Pts())
	v.dst.SetPictureType(astiav.PictureTypeNone)

	return v.dst, nil
}
