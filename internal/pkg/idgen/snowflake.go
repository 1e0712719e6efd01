package idgen

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	mu   sync.Mutex
	node *snowflake.Node
)

// Initialize sets the node ID used for generated IDs. Processes sharing a
// cache in front of the content service should use distinct node IDs.
func Initialize(nodeID int64) error {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return err
	}
	mu.Lock()
	node = n
	mu.Unlock()
	return nil
}

func current() *snowflake.Node {
	mu.Lock()
	defer mu.Unlock()
	if node == nil {
		// node 1 is always in range
		node, _ = snowflake.NewNode(1)
	}
	return node
}

// GenerateID generates a new Snowflake ID as a string
func GenerateID() string {
	return current().Generate().String()
}

// CacheBuster returns a compact, monotonically increasing value for the
// uniqueness query parameter of idempotent calls.
func CacheBuster() string {
	return current().Generate().Base36()
}
