package service

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// IDGenerator mints time-ordered ids for records the gateway gave no id to.
type IDGenerator struct {
	node *snowflake.Node
}

func NewIDGenerator(nodeID int64) (*IDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &IDGenerator{node: node}, nil
}

func (g *IDGenerator) Next(prefix string) string {
	return prefix + g.node.Generate().String()
}
