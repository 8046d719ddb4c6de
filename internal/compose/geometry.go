// Package compose renders a source video into a vertical 1080x1920 frame
// with burned-in captions. The source is scaled by min(targetW/w, targetH/h)
// times the zoom factor and centered on a black canvas; zoomed frames
// overflow horizontally and are clipped by the canvas edges.
package compose

import (
	"fmt"

	"clipper/internal/services"
)

// Geometry describes how the source frame maps onto the output canvas.
type Geometry struct {
	Scale    float64
	ScaledW  int
	ScaledH  int
	OverlayX int
	OverlayY int
	TargetW  int
	TargetH  int
}

// ComputeGeometry derives the scaled dimensions and centered overlay offsets
// for a source of srcW x srcH. Scaled dimensions round down to even values
// (libx264 rejects odd dimensions in yuv420p); overlay offsets go negative
// when the zoomed frame overflows the canvas.
func ComputeGeometry(srcW, srcH, targetW, targetH int, zoom float64) (Geometry, error) {
	if srcW <= 0 || srcH <= 0 {
		return Geometry{}, services.Wrap(services.ErrValidation, "compose", "geometry",
			fmt.Sprintf("invalid source dimensions %dx%d", srcW, srcH), nil)
	}
	if targetW <= 0 || targetH <= 0 {
		return Geometry{}, services.Wrap(services.ErrValidation, "compose", "geometry",
			fmt.Sprintf("invalid target dimensions %dx%d", targetW, targetH), nil)
	}
	if zoom < 1.0 {
		return Geometry{}, services.Wrap(services.ErrValidation, "compose", "geometry",
			fmt.Sprintf("zoom factor %.3f below 1.0", zoom), nil)
	}

	fit := float64(targetW) / float64(srcW)
	if vertical := float64(targetH) / float64(srcH); vertical < fit {
		fit = vertical
	}
	scale := fit * zoom

	g := Geometry{
		Scale:   scale,
		ScaledW: evenFloor(float64(srcW) * scale),
		ScaledH: evenFloor(float64(srcH) * scale),
		TargetW: targetW,
		TargetH: targetH,
	}
	if g.ScaledW < 1 || g.ScaledH < 1 {
		return Geometry{}, services.Wrap(services.ErrValidation, "compose", "geometry",
			"scaled dimensions collapsed to zero", nil)
	}
	g.OverlayX = (targetW - g.ScaledW) / 2
	g.OverlayY = (targetH - g.ScaledH) / 2
	return g, nil
}

func evenFloor(v float64) int {
	n := int(v)
	return n - n%2
}
