package layout

import (
	"strconv"
	"strings"
)

// Geometry is the renderable layout of one pipeline snapshot.
type Geometry struct {
	Title  string  `json:"title,omitempty"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Nodes  []Node  `json:"nodes"`
	Edges  []Edge  `json:"edges"`
	// Stages lists step indices per stage, top to bottom.
	Stages [][]int `json:"stages"`
}

// Node is a step placed on the canvas. X and Y are the top-left corner.
type Node struct {
	ID            string  `json:"id"`
	StepIndex     int     `json:"step_index"`
	Stage         int     `json:"stage"`
	Slot          int     `json:"slot"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	Width         float64 `json:"width"`
	Height        float64 `json:"height"`
	AgentRef      string  `json:"agent_ref,omitempty"`
	Unassigned    bool    `json:"unassigned,omitempty"`
	ParallelGroup *int    `json:"parallel_group,omitempty"`
}

// TopCenter is where incoming edges end.
func (n Node) TopCenter() Point {
	return Point{X: n.X + n.Width/2, Y: n.Y}
}

// BottomCenter is where outgoing edges start.
func (n Node) BottomCenter() Point {
	return Point{X: n.X + n.Width/2, Y: n.Y + n.Height}
}

// Edge connects a node to a node of the next stage. Its identity for
// diffing is the (From, To) pair; the arrowhead sits at Curve.End.
type Edge struct {
	From     string `json:"from"`
	To       string `json:"to"`
	FromStep int    `json:"from_step"`
	ToStep   int    `json:"to_step"`
	Curve    Curve  `json:"curve"`
	// LabelAt is the curve midpoint, where a renderer places edge labels.
	LabelAt Point `json:"label_at"`
}

// Key returns the (From, To) identity as a single string.
func (e Edge) Key() string {
	return e.From + "->" + e.To
}

// Point is a canvas coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Curve is a cubic Bezier segment.
type Curve struct {
	Start    Point `json:"start"`
	Control1 Point `json:"control1"`
	Control2 Point `json:"control2"`
	End      Point `json:"end"`
}

// At evaluates the curve at t in [0, 1].
func (c Curve) At(t float64) Point {
	u := 1 - t
	a, b, cc, d := u*u*u, 3*u*u*t, 3*u*t*t, t*t*t
	return Point{
		X: a*c.Start.X + b*c.Control1.X + cc*c.Control2.X + d*c.End.X,
		Y: a*c.Start.Y + b*c.Control1.Y + cc*c.Control2.Y + d*c.End.Y,
	}
}

// Path renders the curve as SVG path data: "M x y C x1 y1 x2 y2 x y".
func (c Curve) Path() string {
	var b strings.Builder
	b.WriteString("M ")
	writePoint(&b, c.Start)
	b.WriteString(" C ")
	writePoint(&b, c.Control1)
	b.WriteByte(' ')
	writePoint(&b, c.Control2)
	b.WriteByte(' ')
	writePoint(&b, c.End)
	return b.String()
}

func writePoint(b *strings.Builder, p Point) {
	b.WriteString(strconv.FormatFloat(p.X, 'f', -1, 64))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatFloat(p.Y, 'f', -1, 64))
}

// NodeByID returns the node with the given id.
func (g *Geometry) NodeByID(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// StageSizes returns the member count of each stage.
func (g *Geometry) StageSizes() []int {
	sizes := make([]int, len(g.Stages))
	for i, s := range g.Stages {
		sizes[i] = len(s)
	}
	return sizes
}
