package engine

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/aerofollow/gcs/pkg/model"
)

// YOLODetector runs a YOLO-family ONNX model through gocv's DNN module,
// reexpressing the original engine's ultralytics `model.predict(conf=...,
// iou=...)` call as an explicit blob→forward→NMSBoxes pipeline.
type YOLODetector struct {
	net                 gocv.Net
	classNames          []string
	confidenceThreshold float64
	nmsIoU              float64
	inputSize           int
}

// NewYOLODetector loads the ONNX model at modelPath and wires CUDA if
// available, matching the tracker backend's own CUDA probe.
func NewYOLODetector(modelPath string, classNames []string, confidenceThreshold, nmsIoU float64) (*YOLODetector, error) {
	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("load YOLO model %q", modelPath)
	}

	if gocv.GetCudaEnabledDeviceCount() > 0 {
		net.SetPreferableBackend(gocv.NetBackendCUDA)
		net.SetPreferableTarget(gocv.NetTargetCUDA)
	}

	return &YOLODetector{
		net:                 net,
		classNames:          classNames,
		confidenceThreshold: confidenceThreshold,
		nmsIoU:              nmsIoU,
		inputSize:            640,
	}, nil
}

// Detect runs one forward pass and returns detections above
// confidenceThreshold after NMS, matching CONFIDENCE_THRESHOLD / NMS_IOU
// (§4.4 Configuration).
func (d *YOLODetector) Detect(frame model.Frame) ([]model.Detection, error) {
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Pixels)
	if err != nil {
		return nil, fmt.Errorf("wrap frame for detection: %w", err)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(d.inputSize, d.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	return d.postprocess(output, frame.Width, frame.Height)
}

// postprocess decodes a standard YOLOv8-style [1, 84, N] output tensor:
// 4 box parameters (cx, cy, w, h in model-input space) followed by one
// score per class.
func (d *YOLODetector) postprocess(output gocv.Mat, frameW, frameH int) ([]model.Detection, error) {
	sizes := output.Size()
	if len(sizes) != 3 {
		return nil, fmt.Errorf("unexpected YOLO output rank %d", len(sizes))
	}
	numAttrs := sizes[1]
	numBoxes := sizes[2]
	numClasses := numAttrs - 4

	scaleX := float64(frameW) / float64(d.inputSize)
	scaleY := float64(frameH) / float64(d.inputSize)

	var boxes []image.Rectangle
	var scores []float32
	var classIDs []int

	for i := 0; i < numBoxes; i++ {
		cx := output.GetFloatAt3(0, 0, i)
		cy := output.GetFloatAt3(0, 1, i)
		w := output.GetFloatAt3(0, 2, i)
		h := output.GetFloatAt3(0, 3, i)

		bestClass := -1
		bestScore := float32(0)
		for c := 0; c < numClasses; c++ {
			score := output.GetFloatAt3(0, 4+c, i)
			if score > bestScore {
				bestScore = score
				bestClass = c
			}
		}
		if bestClass < 0 || float64(bestScore) < d.confidenceThreshold {
			continue
		}

		x1 := int((float64(cx) - float64(w)/2) * scaleX)
		y1 := int((float64(cy) - float64(h)/2) * scaleY)
		x2 := int((float64(cx) + float64(w)/2) * scaleX)
		y2 := int((float64(cy) + float64(h)/2) * scaleY)

		boxes = append(boxes, image.Rect(x1, y1, x2, y2))
		scores = append(scores, bestScore)
		classIDs = append(classIDs, bestClass)
	}

	if len(boxes) == 0 {
		return nil, nil
	}

	keep := gocv.NMSBoxes(boxes, scores, float32(d.confidenceThreshold), float32(d.nmsIoU))

	var detections []model.Detection
	for _, idx := range keep {
		r := boxes[idx]
		bbox, ok := model.NewBBox(r.Min.X, r.Min.Y, r.Dx(), r.Dy(), frameW, frameH)
		if !ok {
			continue
		}
		classID := classIDs[idx]
		className := fmt.Sprintf("class_%d", classID)
		if classID >= 0 && classID < len(d.classNames) {
			className = d.classNames[classID]
		}
		detections = append(detections, model.Detection{
			BBox:       bbox,
			ClassID:    classID,
			ClassName:  className,
			Confidence: float64(scores[idx]),
		})
	}

	return detections, nil
}

// Close releases the underlying DNN network.
func (d *YOLODetector) Close() error {
	d.net.Close()
	return nil
}
