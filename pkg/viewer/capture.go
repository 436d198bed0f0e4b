package viewer

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"go.uber.org/zap"
)

// captureFrame writes the current frame to CaptureDir as a PNG. Encoding happens off the
// render loop.
func (v *Viewer) captureFrame(img *ebiten.Image, timestamp time.Time) {
	if v.CaptureDir == "" {
		v.logger.Info("frame capture disabled, set a capture dir")
		return
	}
	if err := os.MkdirAll(v.CaptureDir, 0o755); err != nil {
		v.logger.Error("creating capture directory", zap.Error(err))
		return
	}

	path := filepath.Join(v.CaptureDir, fmt.Sprintf("traffic-%s.png", timestamp.Format("20060102-150405.000")))

	rgba := image.NewRGBA(img.Bounds())
	img.ReadPixels(rgba.Pix)

	go func() {
		f, err := os.Create(path)
		if err != nil {
			v.logger.Error("creating capture file", zap.Error(err))
			return
		}
		defer func() {
			if err := f.Close(); err != nil {
				v.logger.Error("closing capture file", zap.Error(err))
			}
		}()
		if err := png.Encode(f, rgba); err != nil {
			v.logger.Error("encoding capture", zap.Error(err))
			return
		}
		v.logger.Info("captured frame", zap.String("path", path))
	}()
}
