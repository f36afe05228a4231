package snowflake

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// SetNode picks the node id used for generated ids. Must be called before the
// first GenID to take effect.
func SetNode(id int64) error {
	n, err := snowflake.NewNode(id)
	if err != nil {
		return err
	}
	once.Do(func() {
		node = n
	})
	return nil
}

// GenID returns a time-ordered unique id.
func GenID() int64 {
	once.Do(func() {
		node, _ = snowflake.NewNode(1)
	})
	return node.Generate().Int64()
}
