package main

import (
	"fmt"
	"os"

	"github.com/lymar/actionkit"
	"gopkg.in/yaml.v3"
)

var (
	addAction       = actionkit.CreateAction[int, any]("ADD")
	incrementAction = actionkit.CreateAction[struct{}, any]("INCREMENT")
	decrementAction = actionkit.CreateAction[struct{}, any]("DECREMENT")
	resetAction     = actionkit.CreateMappedAction("RESET",
		func(reason string) struct{} { return struct{}{} },
		func(reason string) string { return reason })
)

type step struct {
	Type   string `yaml:"type"`
	Amount int    `yaml:"amount,omitempty"`
	Reason string `yaml:"reason,omitempty"`
}

type script struct {
	Steps []step `yaml:"steps"`
}

const defaultScript = `
steps:
  - type: ADD
    amount: 10
  - type: INCREMENT
  - type: DECREMENT
  - type: UNHANDLED
  - type: ADD
    amount: 4
  - type: RESET
    reason: dev run
  - type: INCREMENT
`

func loadScript(path string) (*script, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		data = []byte(defaultScript)
	} else if err != nil {
		return nil, err
	}
	return parseScript(data)
}

func parseScript(data []byte) (*script, error) {
	var s script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	return &s, nil
}

// actions turns script steps into actions. Types outside the counter
// vocabulary are kept as bare actions; the reducer ignores them.
func (s *script) actions() []actionkit.Action {
	res := make([]actionkit.Action, 0, len(s.Steps))
	for _, st := range s.Steps {
		switch st.Type {
		case addAction.ActionType():
			res = append(res, addAction.New(st.Amount))
		case incrementAction.ActionType():
			res = append(res, incrementAction.Empty())
		case decrementAction.ActionType():
			res = append(res, decrementAction.Empty())
		case resetAction.ActionType():
			res = append(res, resetAction.New(st.Reason))
		default:
			res = append(res, actionkit.Action{Type: st.Type})
		}
	}
	return res
}

func counterReducer() *actionkit.ReducerBuilder[int] {
	base := actionkit.CreateReducer(0).
		HandleAction(actionkit.Creators{addAction, incrementAction},
			func(state int, a actionkit.Action) int {
				if p, ok := addAction.Match(a); ok {
					return state + p
				}
				return state + 1
			})
	base = actionkit.HandlePayload(base, resetAction, func(int, struct{}) int {
		return 0
	})
	return base.HandleAction(decrementAction, func(state int, _ actionkit.Action) int {
		return state - 1
	})
}
