// Package builder runs editing sessions over one pipeline. Every command
// is applied to a copy, the copy is re-validated and laid out again, and
// only then does it replace the session's pipeline. A failed command leaves
// the session as it was.
package builder

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"

	"github.com/FrancisVarga/stupid-db-sub000/internal/layout"
	"github.com/FrancisVarga/stupid-db-sub000/internal/logging"
	"github.com/FrancisVarga/stupid-db-sub000/internal/mapping"
	"github.com/FrancisVarga/stupid-db-sub000/internal/pipeline"
	"github.com/FrancisVarga/stupid-db-sub000/internal/validation"
	"github.com/FrancisVarga/stupid-db-sub000/pkg/schema"
)

// View is the state of a session after a command.
type View struct {
	Definition *schema.PipelineDefinition `json:"definition"`
	Geometry   *layout.Geometry           `json:"geometry"`
	Validation *schema.ValidationResult   `json:"validation"`
	Changed    bool                       `json:"changed"`
	Index      int                        `json:"index,omitempty"` // position of the step added by add/add_parallel
}

// Session owns one pipeline. Commands are serialized by a mutex.
type Session struct {
	mu        sync.Mutex
	pipeline  *pipeline.Pipeline
	cfg       layout.Config
	width     float64
	validator *validation.PipelineValidator
	resolver  *mapping.Resolver
	logger    *slog.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithLayoutConfig replaces the default node and spacing sizes.
func WithLayoutConfig(cfg layout.Config) Option {
	return func(s *Session) { s.cfg = cfg }
}

// WithCanvasWidth sets the initial canvas width.
func WithCanvasWidth(width float64) Option {
	return func(s *Session) { s.width = width }
}

// WithLogger sets the session logger. Records carry the pipeline name in
// their context; wrap the handler in logging.CorrelationHandler to see it.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSession starts a session over a copy of p.
func NewSession(p *pipeline.Pipeline, opts ...Option) (*Session, error) {
	if p == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "pipeline is nil")
	}

	engines, err := mapping.DefaultRegistry()
	if err != nil {
		return nil, err
	}
	validator, err := validation.NewPipelineValidator(mapping.NewLinter(engines))
	if err != nil {
		return nil, err
	}

	s := &Session{
		pipeline:  p.Clone(),
		cfg:       layout.DefaultConfig(),
		validator: validator,
		resolver:  mapping.NewResolver(engines),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Pipeline returns a copy of the current pipeline.
func (s *Session) Pipeline() *pipeline.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipeline.Clone()
}

// View returns the current state without changing it.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view(s.pipeline, false)
}

// Resize changes the canvas width and recomputes the geometry.
func (s *Session) Resize(width float64) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width = width
	return s.view(s.pipeline, false)
}

// Apply runs one command. Errors are the typed errors of the pipeline
// model; an unknown op is UNKNOWN_COMMAND.
func (s *Session) Apply(ctx context.Context, cmd Command) (View, error) {
	if err := ctx.Err(); err != nil {
		return View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = logging.WithPipelineID(ctx, s.pipeline.Name())

	next := s.pipeline.Clone()
	changed, index, err := apply(next, cmd)
	if err != nil {
		s.logger.WarnContext(ctx, "command rejected",
			slog.String("op", string(cmd.Op)),
			slog.String("error", err.Error()),
		)
		return View{}, err
	}

	if changed {
		s.pipeline = next
	}
	v := s.view(s.pipeline, changed)
	v.Index = index

	s.logger.DebugContext(ctx, "command applied",
		slog.String("op", string(cmd.Op)),
		slog.Bool("changed", changed),
		slog.Int("steps", s.pipeline.Len()),
		slog.Int("stages", s.pipeline.StageCount()),
		slog.Int("warnings", len(v.Validation.Warnings)),
	)
	return v, nil
}

// ApplyAll runs commands in order and stops at the first error. The
// commands before the failing one stay applied.
func (s *Session) ApplyAll(ctx context.Context, cmds []Command) (View, error) {
	v := s.View()
	for i, cmd := range cmds {
		next, err := s.Apply(ctx, cmd)
		if err != nil {
			var pe *schema.PipelineError
			if errors.As(err, &pe) {
				details := map[string]any{"command": i, "op": cmd.Op}
				maps.Copy(details, pe.Details)
				return v, pe.WithDetails(details)
			}
			return v, err
		}
		v = next
	}
	return v, nil
}

// Preview resolves the input mapping of the step at index against sample
// data. Positional steps.<n> references use the session's step order
// unless scope lists its own ids. Nothing in the session changes.
func (s *Session) Preview(ctx context.Context, index int, scope *mapping.Scope) (map[string]any, error) {
	s.mu.Lock()
	step, err := s.pipeline.Step(index)
	steps := s.pipeline.Steps()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if scope == nil {
		scope = &mapping.Scope{}
	}
	if scope.StepIDs == nil {
		withIDs := *scope
		for _, st := range steps {
			withIDs.StepIDs = append(withIDs.StepIDs, st.ID)
		}
		scope = &withIDs
	}

	ctx = logging.WithStep(ctx, step.ID, step.AgentRef)
	return s.resolver.Resolve(ctx, step.InputMapping, scope)
}

func (s *Session) view(p *pipeline.Pipeline, changed bool) View {
	def := p.Definition()
	return View{
		Definition: def,
		Geometry:   layout.Build(def, s.width, s.cfg),
		Validation: s.validator.Validate(def),
		Changed:    changed,
	}
}

// apply runs cmd on p. It reports whether p changed and, for add ops, the
// index of the new step.
func apply(p *pipeline.Pipeline, cmd Command) (changed bool, index int, err error) {
	switch cmd.Op {
	case OpAdd:
		return true, p.AddStep(cmd.Agent), nil
	case OpAddParallel:
		i, err := p.AddParallelStep(cmd.Stage, cmd.Agent)
		return err == nil, i, err
	case OpRemove:
		err = p.RemoveStep(cmd.Index)
	case OpMove:
		changed, err = p.MoveStep(cmd.Index, cmd.Direction)
		return changed, 0, err
	case OpSetGroup:
		err = p.SetParallelGroup(cmd.Index, cmd.Group)
	case OpSetInputMapping:
		err = p.SetInputMapping(cmd.Index, []byte(cmd.Mapping))
	case OpSetOutputMapping:
		err = p.SetOutputMapping(cmd.Index, []byte(cmd.Mapping))
	case OpSetAgent:
		err = p.SetAgent(cmd.Index, cmd.Agent)
	case OpSetDataSource:
		err = p.SetDataSource(cmd.Index, cmd.Value)
	case OpRename:
		err = p.Rename(cmd.Value)
	case OpDescribe:
		p.SetDescription(cmd.Value)
	default:
		return false, 0, schema.NewErrorf(schema.ErrCodeUnknownCommand, "unknown command %q", cmd.Op).
			WithDetails(map[string]any{"op": cmd.Op})
	}
	return err == nil, 0, err
}
