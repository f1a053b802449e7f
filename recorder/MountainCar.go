package recorder

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
)

// MountainCar renders mountain-car observations. Observations are
// expected to lead with the car's x position.
type MountainCar struct {
	width  int
	height int

	minPosition  float64
	maxPosition  float64
	goalPosition float64

	hillColour color.Color
	carColour  color.Color
	flagColour color.Color
}

// NewMountainCar returns a renderer for mountain-car observations
func NewMountainCar() *MountainCar {
	return &MountainCar{
		width:  320,
		height: 210,

		minPosition:  -1.2,
		maxPosition:  0.6,
		goalPosition: 0.45,

		hillColour: color.RGBA{R: 40, G: 40, B: 40, A: 255},
		carColour:  color.RGBA{R: 40, G: 40, B: 40, A: 255},
		flagColour: color.RGBA{R: 204, G: 204, B: 0, A: 255},
	}
}

// Frame renders one mountain-car observation
func (m *MountainCar) Frame(obs []float64) (image.Image, error) {
	if len(obs) < 1 {
		return nil, fmt.Errorf("frame: illegal observation size "+
			"\n\twant(>= 1)\n\thave(%v)", len(obs))
	}
	x := obs[0]

	dc := gg.NewContext(m.width, m.height)
	dc.SetColor(color.White)
	dc.Clear()

	// Hill
	dc.SetColor(m.hillColour)
	dc.SetLineWidth(2)
	for px := 0; px < m.width; px++ {
		wx := m.worldX(px)
		if px == 0 {
			dc.MoveTo(float64(px), m.screenY(hill(wx)))
			continue
		}
		dc.LineTo(float64(px), m.screenY(hill(wx)))
	}
	dc.Stroke()

	// Flag on the goal
	flagX := m.screenX(m.goalPosition)
	flagY := m.screenY(hill(m.goalPosition))
	dc.ClearPath()
	dc.SetLineWidth(2)
	dc.DrawLine(flagX, flagY, flagX, flagY-30)
	dc.Stroke()
	dc.ClearPath()
	dc.MoveTo(flagX, flagY-30)
	dc.LineTo(flagX+14, flagY-25)
	dc.LineTo(flagX, flagY-20)
	dc.ClosePath()
	dc.SetColor(m.flagColour)
	dc.Fill()

	// Car, tilted to the slope it sits on
	const carW, carH = 26.0, 12.0
	carX := m.screenX(x)
	carY := m.screenY(hill(x))
	angle := -math.Atan(1.35 * math.Cos(3*x) * m.aspect())

	dc.Push()
	dc.RotateAbout(angle, carX, carY)
	dc.ClearPath()
	dc.DrawRectangle(carX-carW/2, carY-carH-4, carW, carH)
	dc.SetColor(m.carColour)
	dc.Fill()
	dc.ClearPath()
	dc.DrawCircle(carX-carW/4, carY-4, 4)
	dc.DrawCircle(carX+carW/4, carY-4, 4)
	dc.Fill()
	dc.Pop()

	return dc.Image(), nil
}

// Delay returns the GIF frame delay in hundredths of a second
func (m *MountainCar) Delay() int {
	return 3
}

// hill is the height of the mountain at position x, in world units
func hill(x float64) float64 {
	return math.Sin(3*x)*0.45 + 0.55
}

func (m *MountainCar) screenX(x float64) float64 {
	return (x - m.minPosition) / (m.maxPosition - m.minPosition) *
		float64(m.width)
}

func (m *MountainCar) worldX(px int) float64 {
	return m.minPosition + float64(px)/float64(m.width)*
		(m.maxPosition-m.minPosition)
}

func (m *MountainCar) screenY(wy float64) float64 {
	return float64(m.height) * (0.95 - 0.8*wy)
}

// aspect converts a world-space slope to a screen-space slope
func (m *MountainCar) aspect() float64 {
	yPerWorld := 0.8 * float64(m.height)
	xPerWorld := float64(m.width) / (m.maxPosition - m.minPosition)
	return yPerWorld / xPerWorld
}
