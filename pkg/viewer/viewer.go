// Package viewer renders the traffic scene on a rotating orthographic globe.
package viewer

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"math/rand/v2"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"go.uber.org/zap"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/sudorandom/traffic-globe/pkg/geo"
	"github.com/sudorandom/traffic-globe/pkg/scene"
	"github.com/sudorandom/traffic-globe/pkg/sources"
	"github.com/sudorandom/traffic-globe/pkg/trafficengine"
	"github.com/sudorandom/traffic-globe/pkg/wire"
)

var (
	ColorNormal     = color.RGBA{0, 191, 255, 255} // Sky Blue
	ColorSuspicious = color.RGBA{255, 50, 50, 255} // Red
	ColorBackground = color.RGBA{8, 10, 15, 255}
	ColorOcean      = color.RGBA{14, 18, 26, 255}
	ColorLand       = color.RGBA{46, 54, 68, 255}
	ColorPanel      = color.RGBA{0, 0, 0, 100}
	ColorPanelEdge  = color.RGBA{36, 42, 53, 255}
)

const (
	rotationSpeed = 0.08 // radians per second
	arcLift       = 0.18
	arcSteps      = 24
	generateCount = 5
	starCount     = 400
	defaultRadius = 50.0
)

// Commander sends control commands to the server.
type Commander interface {
	Send(cmd string, data any)
}

type star struct {
	x, y  float32
	size  float32
	phase float64
}

type Viewer struct {
	Width, Height int
	CaptureDir    string

	scene  *scene.Scene
	client Commander
	logger *zap.Logger

	world    [][]geo.Vec3
	stars    []star
	rotation float64
	rotating bool
	heatmap  bool
	capture  bool
	last     time.Time

	fontSource *text.GoTextFaceSource
	monoSource *text.GoTextFaceSource
}

func New(width, height int, sc *scene.Scene, client Commander, world []sources.Ring, logger *zap.Logger) *Viewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s, err := text.NewGoTextFaceSource(bytes.NewReader(goregular.TTF))
	if err != nil {
		logger.Warn("loading font", zap.Error(err))
	}
	m, err := text.NewGoTextFaceSource(bytes.NewReader(gomono.TTF))
	if err != nil {
		logger.Warn("loading mono font", zap.Error(err))
	}

	v := &Viewer{
		Width:      width,
		Height:     height,
		scene:      sc,
		client:     client,
		logger:     logger.Named("viewer"),
		rotating:   true,
		fontSource: s,
		monoSource: m,
	}
	v.world = projectWorld(world)
	v.stars = makeStars(width, height)
	return v
}

// projectWorld places the coastline rings on the unit sphere once so each frame only rotates.
func projectWorld(rings []sources.Ring) [][]geo.Vec3 {
	out := make([][]geo.Vec3, 0, len(rings))
	for _, ring := range rings {
		pts := make([]geo.Vec3, 0, len(ring))
		for _, p := range ring {
			v, err := geo.Project(p[1], p[0], 1)
			if err != nil {
				continue
			}
			pts = append(pts, v)
		}
		if len(pts) > 1 {
			out = append(out, pts)
		}
	}
	return out
}

func makeStars(width, height int) []star {
	rng := rand.New(rand.NewPCG(7, 11))
	stars := make([]star, starCount)
	for i := range stars {
		stars[i] = star{
			x:     float32(rng.Float64() * float64(width)),
			y:     float32(rng.Float64() * float64(height)),
			size:  float32(1 + rng.IntN(2)),
			phase: rng.Float64() * 2 * math.Pi,
		}
	}
	return stars
}

func (v *Viewer) Update() error {
	now := time.Now()
	if !v.last.IsZero() && v.rotating {
		v.rotation = math.Mod(v.rotation+rotationSpeed*now.Sub(v.last).Seconds(), 2*math.Pi)
	}
	v.last = now

	v.handleInput()
	v.scene.Tick(now)
	return nil
}

func (v *Viewer) handleInput() {
	cfg := v.scene.Config()
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyR):
		v.rotating = !v.rotating
	case inpututil.IsKeyJustPressed(ebiten.KeyH):
		v.heatmap = !v.heatmap
	case inpututil.IsKeyJustPressed(ebiten.KeyP):
		v.capture = true
	case inpututil.IsKeyJustPressed(ebiten.KeyS):
		v.client.Send(wire.CmdSetSuspiciousFilter, wire.SetSuspiciousFilter{Active: !cfg.ShowSuspicious})
	case inpututil.IsKeyJustPressed(ebiten.KeyC):
		v.client.Send(wire.CmdClear, nil)
	case inpututil.IsKeyJustPressed(ebiten.KeyG):
		v.client.Send(wire.CmdGenerate, wire.Count{Count: generateCount})
	case inpututil.IsKeyJustPressed(ebiten.KeyEqual), inpututil.IsKeyJustPressed(ebiten.KeyNumpadAdd):
		v.setFade(cfg.FadeSeconds + 1)
	case inpututil.IsKeyJustPressed(ebiten.KeyMinus), inpututil.IsKeyJustPressed(ebiten.KeyNumpadSubtract):
		v.setFade(cfg.FadeSeconds - 1)
	}
}

func (v *Viewer) setFade(seconds float64) {
	seconds = math.Round(seconds)
	lo, hi := trafficengine.MinFadeDuration.Seconds(), trafficengine.MaxFadeDuration.Seconds()
	seconds = min(max(seconds, lo), hi)
	v.client.Send(wire.CmdSetFade, wire.SetFade{Seconds: seconds})
}

func (v *Viewer) Layout(w, h int) (int, int) { return v.Width, v.Height }

func (v *Viewer) globe() (cx, cy, r float64) {
	return float64(v.Width) / 2, float64(v.Height) / 2, math.Min(float64(v.Width), float64(v.Height)) * 0.4
}

func (v *Viewer) Draw(screen *ebiten.Image) {
	screen.Fill(ColorBackground)
	now := time.Now()

	v.drawStars(screen, now)
	v.drawGlobe(screen)

	cfg := v.scene.Config()
	radius := cfg.Radius
	if radius <= 0 {
		radius = defaultRadius
	}
	_, _, r := v.globe()
	scale := r / radius

	if v.heatmap {
		v.drawHeat(screen, radius, scale)
	}
	v.drawEntities(screen, scale)
	v.drawHUD(screen, cfg)
	v.drawAlerts(screen)

	if v.capture {
		v.capture = false
		v.captureFrame(screen, now)
	}
}

func (v *Viewer) drawStars(screen *ebiten.Image, now time.Time) {
	t := float64(now.UnixMilli()) / 1000
	for _, s := range v.stars {
		a := 0.35 + 0.25*math.Sin(t*0.8+s.phase)
		vector.DrawFilledRect(screen, s.x, s.y, s.size, s.size, withAlpha(color.RGBA{255, 255, 255, 255}, a), false)
	}
}

func (v *Viewer) drawGlobe(screen *ebiten.Image) {
	cx, cy, r := v.globe()
	vector.DrawFilledCircle(screen, float32(cx), float32(cy), float32(r), ColorOcean, true)
	vector.StrokeCircle(screen, float32(cx), float32(cy), float32(r), 1.5, ColorPanelEdge, true)

	for _, ring := range v.world {
		px, py, pf := geo.Orthographic(ring[0], v.rotation, r, cx, cy)
		for _, p := range ring[1:] {
			x, y, front := geo.Orthographic(p, v.rotation, r, cx, cy)
			if front && pf && math.Abs(x-px)+math.Abs(y-py) >= 0.5 {
				vector.StrokeLine(screen, float32(px), float32(py), float32(x), float32(y), 1, ColorLand, false)
			}
			if !front || !pf || math.Abs(x-px)+math.Abs(y-py) >= 0.5 {
				px, py, pf = x, y, front
			}
		}
	}
}

func (v *Viewer) drawEntities(screen *ebiten.Image, scale float64) {
	cx, cy, _ := v.globe()
	for _, e := range v.scene.Entities() {
		if !e.Visible {
			continue
		}
		c := ColorNormal
		if e.Suspicious {
			c = ColorSuspicious
		}
		clr := withAlpha(c, e.Opacity)

		switch e.Kind {
		case trafficengine.KindPoint:
			x, y, front := geo.Orthographic(e.Position, v.rotation, scale, cx, cy)
			if !front {
				continue
			}
			vector.DrawFilledCircle(screen, float32(x), float32(y), 4, clr, true)
			vector.StrokeCircle(screen, float32(x), float32(y), 7, 1, withAlpha(c, e.Opacity*0.5), true)
		case trafficengine.KindConnection:
			width := float32(1.5)
			if e.Suspicious {
				width = 2.5
			}
			pts := geo.Arc(e.From, e.To, arcLift, arcSteps)
			px, py, pf := geo.Orthographic(pts[0], v.rotation, scale, cx, cy)
			for _, p := range pts[1:] {
				x, y, front := geo.Orthographic(p, v.rotation, scale, cx, cy)
				if front && pf {
					vector.StrokeLine(screen, float32(px), float32(py), float32(x), float32(y), width, clr, true)
				}
				px, py, pf = x, y, front
			}
		}
	}
}

func (v *Viewer) drawHeat(screen *ebiten.Image, radius, scale float64) {
	cx, cy, _ := v.globe()
	spots := v.scene.Heat()
	if len(spots) == 0 {
		return
	}
	peak := float64(spots[0].Hits)
	for _, h := range spots {
		pos, err := geo.Project(h.Lat, h.Lon, radius)
		if err != nil {
			continue
		}
		x, y, front := geo.Orthographic(pos, v.rotation, scale, cx, cy)
		if !front {
			continue
		}
		weight := float64(h.Hits) / peak
		c := ColorNormal
		if h.Suspicious*2 >= h.Hits {
			c = ColorSuspicious
		}
		vector.DrawFilledCircle(screen, float32(x), float32(y), float32(6+30*math.Sqrt(weight)), withAlpha(c, 0.15+0.25*weight), true)
	}
}

func (v *Viewer) drawHUD(screen *ebiten.Image, cfg wire.ConfigView) {
	if v.fontSource == nil || v.monoSource == nil {
		return
	}
	fontSize := 18.0
	if v.Width > 2000 {
		fontSize = 36.0
	}
	margin := fontSize * 2
	st := v.scene.Stats()

	face := &text.GoTextFace{Source: v.monoSource, Size: fontSize}
	lines := []string{
		fmt.Sprintf("Total packets    %d", st.TotalPackets),
		fmt.Sprintf("Suspicious       %d", st.SuspiciousPackets),
		fmt.Sprintf("Visible          %d / %d", st.VisibleItems, st.Population),
		fmt.Sprintf("Fade             %.0fs", cfg.FadeSeconds),
		fmt.Sprintf("Show suspicious  %t", cfg.ShowSuspicious),
	}
	boxW, boxH := fontSize*18, fontSize*1.5*float64(len(lines))+fontSize
	vector.DrawFilledRect(screen, float32(margin-10), float32(margin-10), float32(boxW), float32(boxH), ColorPanel, false)
	vector.StrokeRect(screen, float32(margin-10), float32(margin-10), float32(boxW), float32(boxH), 1, ColorPanelEdge, false)
	vector.DrawFilledRect(screen, float32(margin-10), float32(margin-10), 4, float32(boxH), ColorNormal, false)
	for i, l := range lines {
		op := &text.DrawOptions{}
		op.GeoM.Translate(margin, margin+float64(i)*fontSize*1.5)
		op.ColorScale.Scale(1, 1, 1, 0.85)
		text.Draw(screen, l, face, op)
	}

	help := "R rotate  S suspicious  C clear  G generate  +/- fade  H heatmap  P capture"
	small := &text.GoTextFace{Source: v.fontSource, Size: fontSize * 0.8}
	op := &text.DrawOptions{}
	op.GeoM.Translate(margin, float64(v.Height)-margin)
	op.ColorScale.Scale(1, 1, 1, 0.6)
	text.Draw(screen, help, small, op)

	if d := v.scene.Diagnostic(); d != "" {
		dop := &text.DrawOptions{}
		dop.GeoM.Translate(margin, float64(v.Height)-margin-fontSize*1.5)
		dop.ColorScale.ScaleWithColor(ColorSuspicious)
		text.Draw(screen, d, small, dop)
	}
}

func (v *Viewer) drawAlerts(screen *ebiten.Image) {
	if v.fontSource == nil {
		return
	}
	alerts := v.scene.Alerts()
	if len(alerts) == 0 {
		return
	}
	fontSize := 16.0
	if v.Width > 2000 {
		fontSize = 32.0
	}
	margin := fontSize * 2
	face := &text.GoTextFace{Source: v.fontSource, Size: fontSize}
	boxW := fontSize * 26
	x := float64(v.Width) - margin - boxW
	for i, a := range alerts {
		y := margin + float64(i)*fontSize*3.2
		vector.DrawFilledRect(screen, float32(x), float32(y), float32(boxW), float32(fontSize*2.6), ColorPanel, false)
		vector.DrawFilledRect(screen, float32(x), float32(y), 4, float32(fontSize*2.6), ColorSuspicious, false)

		op := &text.DrawOptions{}
		op.GeoM.Translate(x+12, y+4)
		op.ColorScale.ScaleWithColor(ColorSuspicious)
		text.Draw(screen, a.Message, face, op)

		detail := fmt.Sprintf("%s -> %s  %s %dB", a.Packet.Source.Name, a.Packet.Destination.Name, a.Packet.Protocol, a.Packet.SizeBytes)
		dop := &text.DrawOptions{}
		dop.GeoM.Translate(x+12, y+4+fontSize*1.2)
		dop.ColorScale.Scale(1, 1, 1, 0.7)
		text.Draw(screen, detail, face, dop)
	}
}

// withAlpha returns c scaled to alpha a as a premultiplied colour.
func withAlpha(c color.RGBA, a float64) color.RGBA {
	a = min(max(a, 0), 1)
	return color.RGBA{
		R: uint8(float64(c.R) * a),
		G: uint8(float64(c.G) * a),
		B: uint8(float64(c.B) * a),
		A: uint8(255 * a),
	}
}
