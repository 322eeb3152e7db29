package builder

import (
	"encoding/json"

	"github.com/FrancisVarga/stupid-db-sub000/pkg/schema"
)

// Op names a session command.
type Op string

const (
	OpAdd              Op = "add"
	OpAddParallel      Op = "add_parallel"
	OpRemove           Op = "remove"
	OpMove             Op = "move"
	OpSetGroup         Op = "set_group"
	OpSetInputMapping  Op = "set_input_mapping"
	OpSetOutputMapping Op = "set_output_mapping"
	OpSetAgent         Op = "set_agent"
	OpSetDataSource    Op = "set_data_source"
	OpRename           Op = "rename"
	OpDescribe         Op = "describe"
)

// Command is one edit sent to a Session. Only the fields the op reads
// need to be set:
//
//	add                 Agent
//	add_parallel        Stage, Agent
//	remove              Index
//	move                Index, Direction
//	set_group           Index, Group (nil clears)
//	set_input_mapping   Index, Mapping (raw JSON text)
//	set_output_mapping  Index, Mapping
//	set_agent           Index, Agent
//	set_data_source     Index, Value
//	rename, describe    Value
type Command struct {
	Op        Op               `json:"op"`
	Index     int              `json:"index,omitempty"`
	Stage     int              `json:"stage,omitempty"`
	Agent     string           `json:"agent,omitempty"`
	Direction schema.Direction `json:"direction,omitempty"`
	Group     *int             `json:"group,omitempty"`
	Mapping   string           `json:"mapping,omitempty"`
	Value     string           `json:"value,omitempty"`
}

// DecodeCommands reads a JSON array of commands.
func DecodeCommands(data []byte) ([]Command, error) {
	var cmds []Command
	if err := json.Unmarshal(data, &cmds); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "malformed command list: %s", err.Error()).
			WithCause(err)
	}
	return cmds, nil
}
