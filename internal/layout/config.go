package layout

import "github.com/FrancisVarga/stupid-db-sub000/pkg/schema"

// Config holds the fixed cell and spacing sizes of the layout, in canvas
// units.
type Config struct {
	NodeWidth     float64 `json:"node_width"`
	NodeHeight    float64 `json:"node_height"`
	IntraStageGap float64 `json:"intra_stage_gap"` // horizontal gap between siblings
	InterStageGap float64 `json:"inter_stage_gap"` // vertical gap between stages
	Margin        float64 `json:"margin"`
	CanvasWidth   float64 `json:"canvas_width"` // used when Compute gets no width
}

// DefaultConfig returns the standard layout sizes.
func DefaultConfig() Config {
	return Config{
		NodeWidth:     220,
		NodeHeight:    72,
		IntraStageGap: 40,
		InterStageGap: 80,
		Margin:        24,
		CanvasWidth:   960,
	}
}

// Validate reports non-positive cell sizes and negative spacing.
func (c Config) Validate() error {
	switch {
	case c.NodeWidth <= 0:
		return schema.NewErrorf(schema.ErrCodeValidation, "node width must be positive, got %v", c.NodeWidth)
	case c.NodeHeight <= 0:
		return schema.NewErrorf(schema.ErrCodeValidation, "node height must be positive, got %v", c.NodeHeight)
	case c.IntraStageGap < 0:
		return schema.NewErrorf(schema.ErrCodeValidation, "intra-stage gap must not be negative, got %v", c.IntraStageGap)
	case c.InterStageGap < 0:
		return schema.NewErrorf(schema.ErrCodeValidation, "inter-stage gap must not be negative, got %v", c.InterStageGap)
	case c.Margin < 0:
		return schema.NewErrorf(schema.ErrCodeValidation, "margin must not be negative, got %v", c.Margin)
	case c.CanvasWidth < 0:
		return schema.NewErrorf(schema.ErrCodeValidation, "canvas width must not be negative, got %v", c.CanvasWidth)
	}
	return nil
}
