package common

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	idNode     *snowflake.Node
	idNodeOnce sync.Once
)

// SetNodeID selects the snowflake node used by UUIDint64. It must be called
// before the first id is generated to have any effect.
func SetNodeID(node int64) {
	idNodeOnce.Do(func() {
		n, err := snowflake.NewNode(node)
		if err != nil {
			panic(err)
		}
		idNode = n
	})
}

// UUIDint64 returns a time ordered unique int64 id.
func UUIDint64() int64 {
	SetNodeID(1)
	return idNode.Generate().Int64()
}
