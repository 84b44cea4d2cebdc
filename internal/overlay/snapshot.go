package overlay

import "image"

// Snapshot is the normalized overlay state at one instant.
type Snapshot struct {
	X, Y    float64
	W, H    float64
	Aspect  float64
	Visible bool
}

// RectIn scales the snapshot to a frame of width×height pixels. The result
// keeps the aspect ratio and lies inside the frame.
func (s Snapshot) RectIn(width, height int) image.Rectangle {
	cw, ch := float64(width), float64(height)
	aspect := s.Aspect
	if aspect <= 0 {
		aspect = defaultAspect
	}
	r := containRect(Rect{X: s.X * cw, Y: s.Y * ch, W: s.W * cw}, aspect, cw, ch)
	x0, y0 := int(r.X+0.5), int(r.Y+0.5)
	x1, y1 := int(r.X+r.W+0.5), int(r.Y+r.H+0.5)
	if x1 > width {
		x1 = width
	}
	if y1 > height {
		y1 = height
	}
	return image.Rect(x0, y0, x1, y1)
}
