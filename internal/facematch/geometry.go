package facematch

import "fmt"

// BoundingBox is a face location in image pixels, as reported by the
// detector. Coordinates pass through unmodified.
type BoundingBox struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// BoxFromSlice builds a box from [top, right, bottom, left].
func BoxFromSlice(v []int) (BoundingBox, error) {
	if len(v) != 4 {
		return BoundingBox{}, fmt.Errorf("bounding box needs 4 values (top, right, bottom, left), got %d", len(v))
	}
	return BoundingBox{Top: v[0], Right: v[1], Bottom: v[2], Left: v[3]}, nil
}

// Slice returns the box as [top, right, bottom, left].
func (b BoundingBox) Slice() []int {
	return []int{b.Top, b.Right, b.Bottom, b.Left}
}

// Width returns the horizontal extent of the box.
func (b BoundingBox) Width() int {
	return b.Right - b.Left
}

// Height returns the vertical extent of the box.
func (b BoundingBox) Height() int {
	return b.Bottom - b.Top
}
