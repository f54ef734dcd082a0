package ring

// Bounded 固定容量的有序序列，超出容量时丢弃最旧的元素
// 告警日志使用 PushFront（最新在前），轨迹使用 PushBack（按到达顺序）
// 非并发安全，由持有者加锁
type Bounded[T any] struct {
	items    []T
	capacity int
}

// NewBounded 创建序列，capacity 小于 1 时按 1 处理
func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bounded[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
	}
}

// PushFront 插入到头部，溢出时丢弃尾部（最旧）元素
func (b *Bounded[T]) PushFront(item T) {
	if len(b.items) < b.capacity {
		b.items = append(b.items, item)
	}
	copy(b.items[1:], b.items[:len(b.items)-1])
	b.items[0] = item
}

// PushBack 追加到尾部，溢出时丢弃头部（最旧）元素
func (b *Bounded[T]) PushBack(item T) {
	if len(b.items) < b.capacity {
		b.items = append(b.items, item)
		return
	}
	copy(b.items, b.items[1:])
	b.items[len(b.items)-1] = item
}

// Update 对第一个匹配的元素原地执行 fn，未找到返回 false
func (b *Bounded[T]) Update(match func(T) bool, fn func(*T)) bool {
	for i := range b.items {
		if match(b.items[i]) {
			fn(&b.items[i])
			return true
		}
	}
	return false
}

// Items 返回副本
func (b *Bounded[T]) Items() []T {
	out := make([]T, len(b.items))
	copy(out, b.items)
	return out
}

func (b *Bounded[T]) Len() int { return len(b.items) }

func (b *Bounded[T]) Cap() int { return b.capacity }
