package engine

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/aerofollow/gcs/pkg/model"
)

var (
	hoverColor    = color.RGBA{R: 255, G: 200, B: 0, A: 255}
	trackColor    = color.RGBA{R: 0, G: 220, B: 120, A: 255}
	labelColor    = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// annotateHover draws a hover outline on the topmost detection under the
// cursor (if any); other detections are left undrawn to match the spec's
// "draw hover highlight on an output copy" for exactly the hovered box.
func annotateHover(frame model.Frame, detections []model.Detection, hoveredIdx int) model.Frame {
	if hoveredIdx < 0 {
		return frame
	}

	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Pixels)
	if err != nil {
		return frame
	}
	defer mat.Close()

	out := mat.Clone()
	defer out.Close()

	det := detections[hoveredIdx]
	r := image.Rect(det.BBox.X, det.BBox.Y, det.BBox.X+det.BBox.W, det.BBox.Y+det.BBox.H)
	gocv.Rectangle(&out, r, hoverColor, 2)
	gocv.PutText(&out, det.ClassName, image.Pt(r.Min.X, r.Min.Y-6),
		gocv.FontHersheySimplex, 0.5, labelColor, 1)

	return model.Frame{
		Width:     frame.Width,
		Height:    frame.Height,
		Pixels:    append([]byte(nil), out.ToBytes()...),
		CaptureTS: frame.CaptureTS,
		FrameSeq:  frame.FrameSeq,
	}
}

// annotateTracking renders the filled translucent box + label called for in
// §4.4 step 4.
func annotateTracking(frame model.Frame, bbox model.BBox, className string) model.Frame {
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Pixels)
	if err != nil {
		return frame
	}
	defer mat.Close()

	out := mat.Clone()
	defer out.Close()

	r := image.Rect(bbox.X, bbox.Y, bbox.X+bbox.W, bbox.Y+bbox.H)

	overlay := out.Clone()
	defer overlay.Close()
	gocv.Rectangle(&overlay, r, trackColor, -1)
	gocv.AddWeighted(overlay, 0.25, out, 0.75, 0, &out)
	gocv.Rectangle(&out, r, trackColor, 2)
	gocv.PutText(&out, className, image.Pt(r.Min.X, r.Min.Y-6),
		gocv.FontHersheySimplex, 0.6, labelColor, 2)

	return model.Frame{
		Width:     frame.Width,
		Height:    frame.Height,
		Pixels:    append([]byte(nil), out.ToBytes()...),
		CaptureTS: frame.CaptureTS,
		FrameSeq:  frame.FrameSeq,
	}
}
