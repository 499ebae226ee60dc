package service

import "sync"

// DedupeSet 近期 message id 有界集合：环形切片保序 + map 查成员。
// 容量打满时淘汰最旧一半。容忍事件流 at-least-once 重投，
// 不追求跨进程 exactly-once。
type DedupeSet struct {
	mu  sync.Mutex
	cap int
	ids []string
	set map[string]struct{}
}

func NewDedupeSet(capacity int) *DedupeSet {
	if capacity <= 0 { capacity = 10000 }
	return &DedupeSet{
		cap: capacity,
		ids: make([]string, 0, capacity),
		set: make(map[string]struct{}, capacity),
	}
}

// Seen 应用前查重
func (d *DedupeSet) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.set[id]
	return ok
}

// Add 应用成功后登记
func (d *DedupeSet) Add(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.set[id]; ok {
		return
	}
	if len(d.ids) >= d.cap {
		half := len(d.ids) / 2
		for _, old := range d.ids[:half] {
			delete(d.set, old)
		}
		d.ids = append(d.ids[:0], d.ids[half:]...)
	}
	d.ids = append(d.ids, id)
	d.set[id] = struct{}{}
}

func (d *DedupeSet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ids)
}
