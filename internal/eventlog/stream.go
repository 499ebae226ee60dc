// Package eventlog is the append-only event stream between the write path
// and the delivery workers. It is built on redis streams: one stream per
// partition, consumer groups per worker role, at-least-once delivery with
// pending-entry reclaim.
package eventlog

import (
	"fmt"
	"hash/fnv"
)

// Stream 分区流的命名与路由
type Stream struct {
	Prefix     string
	Partitions int
}

func NewStream(prefix string, partitions int) Stream {
	if partitions <= 0 {
		partitions = 1
	}
	return Stream{Prefix: prefix, Partitions: partitions}
}

// Key 第 p 个分区的 stream key
func (s Stream) Key(p int) string {
	return fmt.Sprintf("%s:%d", s.Prefix, p)
}

// PartitionFor 同一 partition key（作者 id）恒定落同一分区，
// 保证 per-author 有序
func (s Stream) PartitionFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(s.Partitions))
}

// Keys 全部分区 key
func (s Stream) Keys() []string {
	out := make([]string, s.Partitions)
	for p := 0; p < s.Partitions; p++ {
		out[p] = s.Key(p)
	}
	return out
}
