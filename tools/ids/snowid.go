package ids

import (
	"hash/crc32"
	"strconv"
	"sync/atomic"
	"time"
)

var (
	nodeID atomic.Int64
	seq    atomic.Uint64
	// 进程启动时间，区分同一节点的多次重启
	bootTag = strconv.FormatInt(time.Now().UnixMilli(), 36)
)

func init() { nodeID.Store(1) }

// ConnID returns an id for a live connection, e.g. "c-1a-lq2x8k3f-5".
// Ids are unique per node and process start.
func ConnID() string {
	return "c-" + strconv.FormatInt(nodeID.Load(), 36) + "-" + bootTag + "-" + strconv.FormatUint(seq.Add(1), 36)
}

// SetNodeID sets the node id (0~1023); call it once at startup.
func SetNodeID(id int64) {
	if id < 0 || id > 1023 {
		id = 1
	}
	nodeID.Store(id)
}

// NodeIDFromName maps a node name such as "realtime_01" onto 0~1023.
func NodeIDFromName(name string) int64 {
	return int64(crc32.ChecksumIEEE([]byte(name)) % 1024)
}
