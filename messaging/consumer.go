package messaging

import (
	"encoding/json"
	"log"

	"missiond/dispatch"
	"missiond/store"
)

// CommandHandler is the slice of the engine the consumer drives.
type CommandHandler interface {
	SubmitMission(req *dispatch.ExecuteRequest) (string, error)
	CancelMission(missionID string) error
	UpdateMission(missionID, update string) error
}

// Consumer routes inbound mission commands to the handler and queues
// each outcome on the results topic.
type Consumer struct {
	db           *store.DB
	client       *Client
	handler      CommandHandler
	topic        string
	resultsTopic string
	clientID     string
}

func NewConsumer(db *store.DB, client *Client, handler CommandHandler, topic, resultsTopic, clientID string) *Consumer {
	return &Consumer{
		db:           db,
		client:       client,
		handler:      handler,
		topic:        topic,
		resultsTopic: resultsTopic,
		clientID:     clientID,
	}
}

// Start subscribes to the commands topic.
func (c *Consumer) Start() error {
	return c.client.Subscribe(c.topic, c.handleRaw)
}

func (c *Consumer) handleRaw(data []byte) {
	env, err := DecodeCommand(data)
	if err != nil {
		log.Printf("messaging: dropped command: %v", err)
		return
	}

	missionID := env.MissionID
	var cmdErr error
	switch env.Command {
	case CommandExecuteMission:
		missionID, cmdErr = c.handler.SubmitMission(env.ExecuteRequest())
	case CommandCancelMission:
		cmdErr = c.handler.CancelMission(env.MissionID)
	case CommandUpdateMission:
		cmdErr = c.handler.UpdateMission(env.MissionID, env.Update)
	}
	if cmdErr != nil {
		log.Printf("messaging: %s %s: %v", env.Command, missionID, cmdErr)
	}

	c.publishResult(env, missionID, cmdErr)
}

func (c *Consumer) publishResult(env *CommandEnvelope, missionID string, cmdErr error) {
	res := NewResult(env, missionID, cmdErr)
	data, err := json.Marshal(res)
	if err != nil {
		log.Printf("messaging: marshal result for %s: %v", env.CommandID, err)
		return
	}
	if err := c.db.EnqueueOutbox(c.resultsTopic, data, "command_result", c.clientID); err != nil {
		log.Printf("messaging: enqueue result for %s: %v", env.CommandID, err)
	}
}
