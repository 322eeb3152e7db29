// Package layout turns a pipeline's steps into canvas geometry: stages
// stacked top to bottom, siblings centered side by side, and curved edges
// between every pair of nodes in consecutive stages.
//
// Compute is a pure function. The same steps, canvas width and Config
// always produce the same Geometry.
package layout

import (
	"slices"

	"github.com/FrancisVarga/stupid-db-sub000/pkg/schema"
)

// Build lays out a pipeline definition and titles the geometry with its name.
func Build(def *schema.PipelineDefinition, canvasWidth float64, cfg Config) *Geometry {
	if def == nil {
		return Compute(nil, canvasWidth, cfg)
	}
	g := Compute(def.Steps, canvasWidth, cfg)
	g.Title = def.Name
	return g
}

// Compute lays out steps. A non-positive canvasWidth falls back to
// cfg.CanvasWidth; the canvas widens to fit the widest stage plus margins.
// Zero steps yield no nodes, no edges and zero height.
func Compute(steps []schema.StepDefinition, canvasWidth float64, cfg Config) *Geometry {
	if canvasWidth <= 0 {
		canvasWidth = cfg.CanvasWidth
	}

	stages := partition(steps)

	widest := 0.0
	for _, members := range stages {
		widest = max(widest, rowWidth(len(members), cfg))
	}
	width := max(canvasWidth, widest+2*cfg.Margin)

	g := &Geometry{
		Width:  width,
		Nodes:  make([]Node, 0, len(steps)),
		Edges:  []Edge{},
		Stages: stages,
	}
	if len(stages) == 0 {
		g.Stages = [][]int{}
		return g
	}

	n := float64(len(stages))
	g.Height = 2*cfg.Margin + n*cfg.NodeHeight + (n-1)*cfg.InterStageGap

	// placed[i] holds the nodes of stage i in slot order.
	placed := make([][]Node, len(stages))
	for stage, members := range stages {
		x0 := (width - rowWidth(len(members), cfg)) / 2
		y := cfg.Margin + float64(stage)*(cfg.NodeHeight+cfg.InterStageGap)

		for slot, idx := range members {
			step := steps[idx]
			node := Node{
				ID:         step.ID,
				StepIndex:  idx,
				Stage:      stage,
				Slot:       slot,
				X:          x0 + float64(slot)*(cfg.NodeWidth+cfg.IntraStageGap),
				Y:          y,
				Width:      cfg.NodeWidth,
				Height:     cfg.NodeHeight,
				AgentRef:   step.AgentRef,
				Unassigned: !step.Assigned(),
			}
			if step.ParallelGroup != nil {
				group := *step.ParallelGroup
				node.ParallelGroup = &group
			}
			placed[stage] = append(placed[stage], node)
			g.Nodes = append(g.Nodes, node)
		}
	}

	for stage := 0; stage+1 < len(placed); stage++ {
		for _, from := range placed[stage] {
			for _, to := range placed[stage+1] {
				g.Edges = append(g.Edges, connect(from, to))
			}
		}
	}

	return g
}

// connect routes an edge from the bottom-center of from to the top-center
// of to. Both control points sit at half the vertical distance so the
// curve leaves and enters vertically.
func connect(from, to Node) Edge {
	start := from.BottomCenter()
	end := to.TopCenter()
	midY := start.Y + (end.Y-start.Y)/2

	curve := Curve{
		Start:    start,
		Control1: Point{X: start.X, Y: midY},
		Control2: Point{X: end.X, Y: midY},
		End:      end,
	}
	return Edge{
		From:     from.ID,
		To:       to.ID,
		FromStep: from.StepIndex,
		ToStep:   to.StepIndex,
		Curve:    curve,
		LabelAt:  curve.At(0.5),
	}
}

// partition groups step indices by order, ascending. Members keep array
// order. The result does not depend on orders being contiguous.
func partition(steps []schema.StepDefinition) [][]int {
	idx := make([]int, len(steps))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return steps[a].Order - steps[b].Order
	})

	var stages [][]int
	for k, i := range idx {
		if k == 0 || steps[i].Order != steps[idx[k-1]].Order {
			stages = append(stages, nil)
		}
		last := len(stages) - 1
		stages[last] = append(stages[last], i)
	}
	return stages
}

func rowWidth(k int, cfg Config) float64 {
	if k == 0 {
		return 0
	}
	return float64(k)*cfg.NodeWidth + float64(k-1)*cfg.IntraStageGap
}

// EdgeCount is the number of edges for the given stage sizes: the sum of
// s[i]*s[i+1] over consecutive stages.
func EdgeCount(stageSizes []int) int {
	total := 0
	for i := 0; i+1 < len(stageSizes); i++ {
		total += stageSizes[i] * stageSizes[i+1]
	}
	return total
}
