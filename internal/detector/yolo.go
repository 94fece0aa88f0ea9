package detector

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/imageio"
	"github.com/tphakala/wildlife-reid/internal/inference"
)

// RawDetection is a model output box in detector pixel space after NMS
type RawDetection struct {
	X1, Y1, X2, Y2 float64
	Score          float64
	ClassID        int
	Label          string
}

// Model produces raw detections for a square detector-resolution image
type Model interface {
	Infer(ctx context.Context, img image.Image) ([]RawDetection, error)
	InputSize() int
}

// NMSConfig holds the model's own output filtering defaults
type NMSConfig struct {
	ScoreThreshold float64
	IoUThreshold   float64
	MaxDetections  int
}

// DefaultNMS matches the YOLOv5 inference defaults
var DefaultNMS = NMSConfig{ScoreThreshold: 0.25, IoUThreshold: 0.45, MaxDetections: 300}

// DecodeYOLO converts a YOLOv5 output tensor into detections in detector pixels.
// Rows are [cx, cy, w, h, objectness, class scores...]; both [1, N, 5+C] and the transposed
// [1, 5+C, N] layouts are accepted. Normalised coordinates are scaled by inputSize.
func DecodeYOLO(out inference.Output, inputSize int, labels []string, nms NMSConfig) ([]RawDetection, error) {
	if len(out.Shape) != 3 {
		return nil, fmt.Errorf("unexpected YOLO output rank %d", len(out.Shape))
	}
	rows, cols := out.Shape[1], out.Shape[2]
	transposed := false
	if rows < cols && rows >= 6 {
		rows, cols = cols, rows
		transposed = true
	}
	if cols < 6 {
		return nil, fmt.Errorf("YOLO output rows need at least 6 values, got %d", cols)
	}
	if len(out.Data) < rows*cols {
		return nil, fmt.Errorf("YOLO output has %d values, shape needs %d", len(out.Data), rows*cols)
	}

	at := func(r, c int) float64 {
		if transposed {
			return float64(out.Data[c*rows+r])
		}
		return float64(out.Data[r*cols+c])
	}

	normalised := true
	for r := range rows {
		if at(r, 0) > 2 || at(r, 1) > 2 {
			normalised = false
			break
		}
	}
	scale := 1.0
	if normalised {
		scale = float64(inputSize)
	}

	var dets []RawDetection
	for r := range rows {
		obj := at(r, 4)
		if obj < nms.ScoreThreshold {
			continue
		}
		best, bestScore := -1, 0.0
		for c := 5; c < cols; c++ {
			if s := at(r, c); s > bestScore {
				best, bestScore = c-5, s
			}
		}
		score := obj * bestScore
		if best < 0 || score < nms.ScoreThreshold {
			continue
		}
		cx, cy := at(r, 0)*scale, at(r, 1)*scale
		w, h := at(r, 2)*scale, at(r, 3)*scale
		dets = append(dets, RawDetection{
			X1: cx - w/2, Y1: cy - h/2, X2: cx + w/2, Y2: cy + h/2,
			Score:   score,
			ClassID: best,
			Label:   labelFor(labels, best),
		})
	}
	return NMS(dets, nms.IoUThreshold, nms.MaxDetections), nil
}

// NMS performs class-aware greedy non-maximum suppression, keeping at most maxDet boxes
// ordered by descending score.
func NMS(dets []RawDetection, iouThreshold float64, maxDet int) []RawDetection {
	sorted := append([]RawDetection(nil), dets...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	kept := make([]RawDetection, 0, len(sorted))
	for _, d := range sorted {
		suppressed := false
		for _, k := range kept {
			if k.ClassID == d.ClassID && iou(k, d) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
			if maxDet > 0 && len(kept) == maxDet {
				break
			}
		}
	}
	return kept
}

func iou(a, b RawDetection) float64 {
	ix1, iy1 := max(a.X1, b.X1), max(a.Y1, b.Y1)
	ix2, iy2 := min(a.X2, b.X2), min(a.Y2, b.Y2)
	iw, ih := max(0, ix2-ix1), max(0, iy2-iy1)
	inter := iw * ih
	union := (a.X2-a.X1)*(a.Y2-a.Y1) + (b.X2-b.X1)*(b.Y2-b.Y1) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func labelFor(labels []string, id int) string {
	if id >= 0 && id < len(labels) {
		return labels[id]
	}
	return strconv.Itoa(id)
}

// YOLOModel runs a YOLOv5 TFLite export
type YOLOModel struct {
	interp    *inference.Interpreter
	labels    []string
	inputSize int
	nms       NMSConfig
}

// NewYOLOModel binds a loaded interpreter to its labels. The interpreter input must be [1, S, S, 3].
func NewYOLOModel(interp *inference.Interpreter, labels []string, nms NMSConfig) (*YOLOModel, error) {
	shape := interp.InputShape()
	if len(shape) != 4 || shape[1] != shape[2] || shape[3] != 3 {
		return nil, errors.Newf("detector input shape %v is not [1, S, S, 3]", shape).
			Component("detector").
			Category(errors.CategoryModelInit).
			Build()
	}
	return &YOLOModel{interp: interp, labels: labels, inputSize: shape[1], nms: nms}, nil
}

// InputSize returns the square input resolution
func (m *YOLOModel) InputSize() int {
	return m.inputSize
}

// Infer runs the model on an image already resized to InputSize
func (m *YOLOModel) Infer(ctx context.Context, img image.Image) ([]RawDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Dx() != m.inputSize || b.Dy() != m.inputSize {
		img = imageio.Resize(img, m.inputSize, m.inputSize)
	}
	outputs, err := m.interp.Run(imageToFloatBuffer(img))
	if err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, errors.Newf("detector produced no output tensors").
			Component("detector").
			Category(errors.CategoryInference).
			Build()
	}
	return DecodeYOLO(outputs[0], m.inputSize, m.labels, m.nms)
}

// Close releases the interpreter
func (m *YOLOModel) Close() {
	m.interp.Close()
}

// imageToFloatBuffer flattens img into NHWC float32 scaled to [0, 1]
func imageToFloatBuffer(img image.Image) []float32 {
	b := img.Bounds()
	out := make([]float32, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			out = append(out, float32(r>>8)/255, float32(g>>8)/255, float32(bl>>8)/255)
		}
	}
	return out
}

// LoadLabels reads one class name per line, skipping blank lines
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("detector").
			Category(errors.CategoryLabelLoad).
			Build()
	}
	defer func() { _ = f.Close() }()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			labels = append(labels, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.New(err).
			Component("detector").
			Category(errors.CategoryLabelLoad).
			Build()
	}
	return labels, nil
}
