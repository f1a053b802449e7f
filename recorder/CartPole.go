package recorder

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
)

// CartPole renders cart-pole observations. Observations are expected
// to lead with the cart position in metres and carry the pole angle,
// measured from vertical, in their third feature.
type CartPole struct {
	width  int
	height int

	trackLimit float64 // metres of track either side of centre
	poleLength float64 // full pole length in metres

	trackColour color.Color
	cartColour  color.Color
	poleColour  color.Color
	axleColour  color.Color
}

// NewCartPole returns a renderer for cart-pole observations
func NewCartPole() *CartPole {
	return &CartPole{
		width:  320,
		height: 210,

		trackLimit: 2.4,
		poleLength: 1.0,

		trackColour: color.RGBA{R: 40, G: 40, B: 40, A: 255},
		cartColour:  color.RGBA{R: 40, G: 40, B: 40, A: 255},
		poleColour:  color.RGBA{R: 204, G: 153, B: 102, A: 255},
		axleColour:  color.RGBA{R: 127, G: 127, B: 204, A: 255},
	}
}

// Frame renders one cart-pole observation
func (c *CartPole) Frame(obs []float64) (image.Image, error) {
	if len(obs) < 3 {
		return nil, fmt.Errorf("frame: illegal observation size "+
			"\n\twant(>= 3)\n\thave(%v)", len(obs))
	}
	x := obs[0]
	theta := obs[2]

	dc := gg.NewContext(c.width, c.height)
	dc.SetColor(color.White)
	dc.Clear()

	scale := float64(c.width) / (2 * c.trackLimit * 1.2)
	cartX := float64(c.width)/2 + x*scale
	cartY := float64(c.height) * 0.75

	// Track
	dc.SetColor(c.trackColour)
	dc.SetLineWidth(1)
	dc.DrawLine(0, cartY, float64(c.width), cartY)
	dc.Stroke()

	// Cart
	const cartW, cartH = 40.0, 20.0
	dc.ClearPath()
	dc.DrawRectangle(cartX-cartW/2, cartY-cartH/2, cartW, cartH)
	dc.SetColor(c.cartColour)
	dc.Fill()

	// Pole, pivoting on top of the cart
	pivotY := cartY - cartH/2
	tipX := cartX + c.poleLength*scale*math.Sin(theta)
	tipY := pivotY - c.poleLength*scale*math.Cos(theta)
	dc.ClearPath()
	dc.SetColor(c.poleColour)
	dc.SetLineWidth(6)
	dc.DrawLine(cartX, pivotY, tipX, tipY)
	dc.Stroke()

	// Axle
	dc.ClearPath()
	dc.DrawCircle(cartX, pivotY, 4)
	dc.SetColor(c.axleColour)
	dc.Fill()

	return dc.Image(), nil
}

// Delay returns the GIF frame delay matching the cart-pole integration
// timestep of 0.02 seconds.
func (c *CartPole) Delay() int {
	return 2
}
