package api

import (
	"encoding/json"
	"fmt"

	"gopkg.in/go-playground/validator.v9"
)

type Action string

const (
	ActionRunTest      Action = "runTest"
	ActionRemoveTest   Action = "removeTest"
	ActionProcessBuild Action = "processBuild"
	ActionRemoveBuild  Action = "remove-build"
)

// IsRun reports whether the action schedules a job, as opposed to removing one.
func (a Action) IsRun() bool {
	return a == ActionRunTest || a == ActionProcessBuild
}

// Message is the inbound payload published on the jobs subject.
type Message struct {
	Action Action `json:"action" validate:"required,oneof=runTest removeTest processBuild remove-build"`
	ID     string `json:"id" validate:"required"`
}

var validate = validator.New()

func (m Message) Validate() error {
	return validate.Struct(m)
}

func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("unmarshal message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return msg, fmt.Errorf("invalid message: %w", err)
	}
	return msg, nil
}
