package pipeline

import (
	"fmt"
	"testing"

	"github.com/FrancisVarga/stupid-db-sub000/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqIDs() Option {
	n := 0
	return WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("step-%d", n)
	})
}

func newPipeline(t *testing.T, agents ...string) *Pipeline {
	t.Helper()
	p, err := New("research", "collect and summarize", seqIDs())
	require.NoError(t, err)
	for _, a := range agents {
		p.AddStep(a)
	}
	return p
}

func orders(p *Pipeline) []int {
	out := make([]int, 0, p.Len())
	for _, s := range p.Steps() {
		out = append(out, s.Order)
	}
	return out
}

func agents(p *Pipeline) []string {
	out := make([]string, 0, p.Len())
	for _, s := range p.Steps() {
		out = append(out, s.AgentRef)
	}
	return out
}

// --- Construction ---

func TestNew(t *testing.T) {
	p, err := New("research", "")
	require.NoError(t, err)
	assert.Equal(t, "research", p.Name())
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, 0, p.StageCount())
	assert.Empty(t, p.Stages())
}

func TestNew_BlankName(t *testing.T) {
	for _, name := range []string{"", "   "} {
		_, err := New(name, "")
		require.Error(t, err)
		assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	}
}

func TestRenameAndDescribe(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, p.Rename("renamed"))
	p.SetDescription("new description")
	assert.Equal(t, "renamed", p.Name())
	assert.Equal(t, "new description", p.Description())

	err := p.Rename(" ")
	require.Error(t, err)
	assert.Equal(t, "renamed", p.Name())
}

// --- AddStep ---

func TestAddStep(t *testing.T) {
	p := newPipeline(t)

	idx := p.AddStep("collector")
	assert.Equal(t, 0, idx)
	idx = p.AddStep("")
	assert.Equal(t, 1, idx)

	step, err := p.Step(1)
	require.NoError(t, err)
	assert.Equal(t, "step-2", step.ID)
	assert.Equal(t, 1, step.Order)
	assert.False(t, step.Assigned())
	assert.Nil(t, step.ParallelGroup)
	assert.NotNil(t, step.InputMapping)
	assert.Empty(t, step.InputMapping)
	assert.NotNil(t, step.OutputMapping)
}

func TestAddStep_UUIDByDefault(t *testing.T) {
	p, err := New("ids", "")
	require.NoError(t, err)
	p.AddStep("a")
	p.AddStep("b")

	steps := p.Steps()
	assert.Len(t, steps[0].ID, 36)
	assert.NotEqual(t, steps[0].ID, steps[1].ID)
}

func TestAddStep_AfterParallelStage(t *testing.T) {
	p := newPipeline(t, "a", "b")
	_, err := p.AddParallelStep(1, "c")
	require.NoError(t, err)

	idx := p.AddStep("d")
	assert.Equal(t, 3, idx)
	assert.Equal(t, []int{0, 1, 1, 2}, orders(p))
}

// --- AddParallelStep ---

func TestAddParallelStep(t *testing.T) {
	p := newPipeline(t, "a", "b", "d")

	idx, err := p.AddParallelStep(1, "c")
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
	assert.Equal(t, []string{"a", "b", "c", "d"}, agents(p))
	assert.Equal(t, []int{0, 1, 1, 2}, orders(p))
	assert.Equal(t, [][]int{{0}, {1, 2}, {3}}, p.Stages())
}

func TestAddParallelStep_LastStage(t *testing.T) {
	p := newPipeline(t, "a")
	idx, err := p.AddParallelStep(0, "b")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Equal(t, []int{0, 0}, orders(p))
	assert.Equal(t, 1, p.StageCount())
}

func TestAddParallelStep_OutOfRange(t *testing.T) {
	p := newPipeline(t, "a")
	for _, stage := range []int{-1, 1, 5} {
		_, err := p.AddParallelStep(stage, "x")
		require.Error(t, err)
		assert.True(t, schema.IsCode(err, schema.ErrCodeIndexOutOfRange))
	}
	assert.Equal(t, 1, p.Len())
}

// --- RemoveStep ---

func TestRemoveStep_Middle(t *testing.T) {
	p := newPipeline(t, "a", "b", "c")
	require.NoError(t, p.RemoveStep(1))
	assert.Equal(t, []int{0, 1}, orders(p))
	assert.Equal(t, []string{"a", "c"}, agents(p))
}

func TestRemoveStep_ParallelMemberKeepsStage(t *testing.T) {
	p := newPipeline(t, "a", "b", "d")
	_, err := p.AddParallelStep(1, "c")
	require.NoError(t, err)

	require.NoError(t, p.RemoveStep(1))
	assert.Equal(t, []string{"a", "c", "d"}, agents(p))
	assert.Equal(t, []int{0, 1, 2}, orders(p))
}

func TestRemoveStep_OutOfRange(t *testing.T) {
	p := newPipeline(t, "a", "b")
	for _, idx := range []int{-1, 2, 100} {
		err := p.RemoveStep(idx)
		require.Error(t, err)
		assert.True(t, schema.IsCode(err, schema.ErrCodeIndexOutOfRange))

		var pe *schema.PipelineError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, idx, pe.Details["index"])
		assert.Equal(t, 2, pe.Details["length"])
	}
	assert.Equal(t, 2, p.Len())
}

func TestRemoveStep_Empty(t *testing.T) {
	p := newPipeline(t)
	require.Error(t, p.RemoveStep(0))
}

// --- MoveStep ---

func TestMoveStep_Down(t *testing.T) {
	p := newPipeline(t, "a", "b", "c")
	moved, err := p.MoveStep(0, schema.DirectionDown)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, []string{"b", "a", "c"}, agents(p))
	assert.Equal(t, []int{0, 1, 2}, orders(p))
}

func TestMoveStep_Up(t *testing.T) {
	p := newPipeline(t, "a", "b", "c")
	moved, err := p.MoveStep(2, schema.DirectionUp)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, []string{"a", "c", "b"}, agents(p))
	assert.Equal(t, []int{0, 1, 2}, orders(p))
}

func TestMoveStep_Boundaries(t *testing.T) {
	p := newPipeline(t, "a", "b", "c")
	require.NoError(t, p.SetInputMapping(1, []byte(`{"q": "${{ steps.0.output }}"}`)))
	before, err := Marshal(p)
	require.NoError(t, err)

	moved, err := p.MoveStep(0, schema.DirectionUp)
	require.NoError(t, err)
	assert.False(t, moved)

	moved, err = p.MoveStep(2, schema.DirectionDown)
	require.NoError(t, err)
	assert.False(t, moved)

	after, err := Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestMoveStep_SingleStep(t *testing.T) {
	p := newPipeline(t, "only")
	for _, dir := range []schema.Direction{schema.DirectionUp, schema.DirectionDown} {
		moved, err := p.MoveStep(0, dir)
		require.NoError(t, err)
		assert.False(t, moved)
	}
}

func TestMoveStep_Errors(t *testing.T) {
	p := newPipeline(t, "a", "b")

	_, err := p.MoveStep(5, schema.DirectionUp)
	assert.True(t, schema.IsCode(err, schema.ErrCodeIndexOutOfRange))

	_, err = p.MoveStep(0, schema.Direction("sideways"))
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	assert.Equal(t, []string{"a", "b"}, agents(p))
}

func TestMoveStep_WithinStage(t *testing.T) {
	p := newPipeline(t, "a", "b")
	_, err := p.AddParallelStep(1, "c")
	require.NoError(t, err)

	moved, err := p.MoveStep(2, schema.DirectionUp)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, []string{"a", "c", "b"}, agents(p))
	assert.Equal(t, []int{0, 1, 1}, orders(p))
}

func TestMoveStep_AcrossStageBoundaryTradesSlots(t *testing.T) {
	p := newPipeline(t, "a", "b", "d")
	_, err := p.AddParallelStep(1, "c") // [a] [b c] [d]
	require.NoError(t, err)

	moved, err := p.MoveStep(2, schema.DirectionDown)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, []string{"a", "b", "d", "c"}, agents(p))
	assert.Equal(t, []int{0, 1, 1, 2}, orders(p))
}

func TestMoveStep_ParallelStagesAreNotFlattened(t *testing.T) {
	p := newPipeline(t, "a", "b")
	_, err := p.AddParallelStep(1, "c") // [a] [b c]
	require.NoError(t, err)

	moved, err := p.MoveStep(1, schema.DirectionUp)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, []string{"b", "a", "c"}, agents(p))
	assert.Equal(t, []int{0, 1, 1}, orders(p), "positional re-ranking would give 0,1,2")
	assert.Equal(t, [][]int{{0}, {1, 2}}, p.Stages())
}

func TestMoveStep_SingletonStagesMatchPositions(t *testing.T) {
	p := newPipeline(t, "a", "b", "c", "d")

	for _, mv := range []struct {
		index int
		dir   schema.Direction
	}{{0, schema.DirectionDown}, {3, schema.DirectionUp}, {1, schema.DirectionDown}} {
		_, err := p.MoveStep(mv.index, mv.dir)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2, 3}, orders(p))
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, agents(p))
}

// --- SetParallelGroup ---

func TestSetParallelGroup(t *testing.T) {
	p := newPipeline(t, "a", "b", "c")
	group := 2
	require.NoError(t, p.SetParallelGroup(1, &group))
	group = 7 // caller's variable is copied

	step, err := p.Step(1)
	require.NoError(t, err)
	require.NotNil(t, step.ParallelGroup)
	assert.Equal(t, 2, *step.ParallelGroup)
	assert.Equal(t, []int{0, 1, 2}, orders(p), "labels never change staging")

	require.NoError(t, p.SetParallelGroup(1, nil))
	step, _ = p.Step(1)
	assert.Nil(t, step.ParallelGroup)
}

func TestSetParallelGroup_Invalid(t *testing.T) {
	p := newPipeline(t, "a")

	err := p.SetParallelGroup(0, schema.Group(-1))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	err = p.SetParallelGroup(3, schema.Group(0))
	assert.True(t, schema.IsCode(err, schema.ErrCodeIndexOutOfRange))
}

func TestSetParallelGroup_RepeatsAcrossStages(t *testing.T) {
	p := newPipeline(t, "a", "b")
	require.NoError(t, p.SetParallelGroup(0, schema.Group(1)))
	require.NoError(t, p.SetParallelGroup(1, schema.Group(1)))
	assert.True(t, p.Validate().Valid())
	assert.Len(t, p.Stages(), 2)
}

// --- Mappings ---

func TestSetInputMapping(t *testing.T) {
	p := newPipeline(t, "a", "b")
	require.NoError(t, p.SetInputMapping(1, []byte(`{"text": "${{ steps.0.output.text }}"}`)))

	step, _ := p.Step(1)
	assert.Equal(t, schema.Mapping{"text": "${{ steps.0.output.text }}"}, step.InputMapping)

	require.NoError(t, p.SetInputMapping(1, []byte("  ")))
	step, _ = p.Step(1)
	assert.Empty(t, step.InputMapping)
}

func TestSetInputMapping_InvalidLeavesMappingUnchanged(t *testing.T) {
	p := newPipeline(t, "a", "b")
	require.NoError(t, p.SetInputMapping(1, []byte(`{"keep": "me"}`)))

	for _, raw := range []string{`{"broken": `, `["x"]`, `{"n": 1}`} {
		err := p.SetInputMapping(1, []byte(raw))
		require.Error(t, err)
		assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidMapping))

		var pe *schema.PipelineError
		require.ErrorAs(t, err, &pe)
		require.NotNil(t, pe.StepIndex)
		assert.Equal(t, 1, *pe.StepIndex)
	}

	step, _ := p.Step(1)
	assert.Equal(t, schema.Mapping{"keep": "me"}, step.InputMapping)
}

func TestSetInputMapping_OutOfRange(t *testing.T) {
	p := newPipeline(t, "a")
	err := p.SetInputMapping(1, []byte(`{}`))
	assert.True(t, schema.IsCode(err, schema.ErrCodeIndexOutOfRange))
}

func TestSetInputMappingValue_Copies(t *testing.T) {
	p := newPipeline(t, "a")
	m := schema.Mapping{"q": "x"}
	require.NoError(t, p.SetInputMappingValue(0, m))
	m["q"] = "changed"

	step, _ := p.Step(0)
	assert.Equal(t, "x", step.InputMapping["q"])

	err := p.SetInputMappingValue(0, schema.Mapping{"": "x"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidMapping))
}

func TestSetOutputMapping(t *testing.T) {
	p := newPipeline(t, "a")
	require.NoError(t, p.SetOutputMapping(0, []byte(`{"report": "${{ steps.0.output.body }}"}`)))
	require.NoError(t, p.SetOutputMappingValue(0, schema.Mapping{"summary": "x"}))

	step, _ := p.Step(0)
	assert.Equal(t, schema.Mapping{"summary": "x"}, step.OutputMapping)

	err := p.SetOutputMapping(0, []byte(`nope`))
	assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidMapping))
}

// --- Agent / data source ---

func TestSetAgentAndDataSource(t *testing.T) {
	p := newPipeline(t, "")
	require.NoError(t, p.SetAgent(0, "writer"))
	require.NoError(t, p.SetDataSource(0, "warehouse"))

	step, _ := p.Step(0)
	assert.Equal(t, "writer", step.AgentRef)
	assert.Equal(t, "warehouse", step.DataSourceRef)

	assert.True(t, schema.IsCode(p.SetAgent(1, "x"), schema.ErrCodeIndexOutOfRange))
	assert.True(t, schema.IsCode(p.SetDataSource(-1, "x"), schema.ErrCodeIndexOutOfRange))
}

// --- Snapshots ---

func TestDefinitionIsIndependent(t *testing.T) {
	p := newPipeline(t, "a")
	require.NoError(t, p.SetInputMappingValue(0, schema.Mapping{"q": "x"}))

	def := p.Definition()
	def.Steps[0].InputMapping["q"] = "mutated"
	def.Steps[0].AgentRef = "mutated"

	step, _ := p.Step(0)
	assert.Equal(t, "x", step.InputMapping["q"])
	assert.Equal(t, "a", step.AgentRef)
}

func TestCloneAndEqual(t *testing.T) {
	p := newPipeline(t, "a", "b")
	require.NoError(t, p.SetParallelGroup(1, schema.Group(0)))

	c := p.Clone()
	assert.True(t, p.Equal(c))

	require.NoError(t, c.SetParallelGroup(1, schema.Group(1)))
	assert.False(t, p.Equal(c))

	c = p.Clone()
	require.NoError(t, c.SetParallelGroup(1, nil))
	assert.False(t, p.Equal(c))

	c = p.Clone()
	c.SetDescription("other")
	assert.False(t, p.Equal(c))

	assert.False(t, p.Equal(nil))
	var nilP *Pipeline
	assert.True(t, nilP.Equal(nil))
}

// --- Load ---

func TestLoad_Normalizes(t *testing.T) {
	def := &schema.PipelineDefinition{
		Name: "loaded",
		Steps: []schema.StepDefinition{
			{ID: "c", Order: 7, AgentRef: "c"},
			{ID: "a", Order: 2, AgentRef: "a"},
			{ID: "b", Order: 4, AgentRef: "b"},
			{ID: "b2", Order: 4, AgentRef: "b2"},
		},
	}

	p, err := Load(def)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "b2", "c"}, agents(p))
	assert.Equal(t, []int{0, 1, 1, 2}, orders(p))
	for _, s := range p.Steps() {
		assert.NotNil(t, s.InputMapping)
		assert.NotNil(t, s.OutputMapping)
	}
	assert.True(t, p.Validate().Valid())

	// The source definition is not modified.
	assert.Equal(t, 7, def.Steps[0].Order)
}

func TestLoad_FillsMissingAndDuplicateIDs(t *testing.T) {
	def := &schema.PipelineDefinition{
		Name: "ids",
		Steps: []schema.StepDefinition{
			{ID: "", Order: 0},
			{ID: "keep", Order: 1},
			{ID: "keep", Order: 2},
		},
	}

	p, err := Load(def, seqIDs())
	require.NoError(t, err)
	steps := p.Steps()
	assert.Equal(t, "step-1", steps[0].ID)
	assert.Equal(t, "keep", steps[1].ID)
	assert.Equal(t, "step-2", steps[2].ID)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		def  *schema.PipelineDefinition
		code string
	}{
		{"nil", nil, schema.ErrCodeValidation},
		{"blank name", &schema.PipelineDefinition{Name: ""}, schema.ErrCodeValidation},
		{"negative group", &schema.PipelineDefinition{Name: "x", Steps: []schema.StepDefinition{
			{Order: 0, ParallelGroup: schema.Group(-2)},
		}}, schema.ErrCodeValidation},
		{"empty mapping key", &schema.PipelineDefinition{Name: "x", Steps: []schema.StepDefinition{
			{Order: 0, InputMapping: schema.Mapping{"": "v"}},
		}}, schema.ErrCodeInvalidMapping},
		{"empty output key", &schema.PipelineDefinition{Name: "x", Steps: []schema.StepDefinition{
			{Order: 0, OutputMapping: schema.Mapping{"": "v"}},
		}}, schema.ErrCodeInvalidMapping},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.def)
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestValidate_Definition(t *testing.T) {
	def := &schema.PipelineDefinition{
		Name:  "gappy",
		Steps: []schema.StepDefinition{{ID: "a", Order: 0}, {ID: "b", Order: 2}},
	}
	assert.False(t, Validate(def).Valid())
}

// --- Spec scenarios ---

func TestScenario_ParallelStageAfterThreeAdds(t *testing.T) {
	p := newPipeline(t, "a", "b", "c")
	// Step 2 moves into stage 1 by rebuilding it as a parallel member.
	require.NoError(t, p.RemoveStep(2))
	_, err := p.AddParallelStep(1, "c")
	require.NoError(t, err)
	require.NoError(t, p.SetParallelGroup(1, schema.Group(0)))
	require.NoError(t, p.SetParallelGroup(2, schema.Group(0)))

	assert.Equal(t, [][]int{{0}, {1, 2}}, p.Stages())
	assert.True(t, p.Validate().Valid())
}
