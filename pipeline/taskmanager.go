package pipeline

import (
	"strconv"

	"github.com/clipfetch/clipfetch/cache"
	"github.com/clipfetch/clipfetch/metrics"
)

// TaskManager enforces one in-flight task per user. Acquire is non-blocking;
// a second request while the first runs is told to wait.
type TaskManager struct {
	held *cache.Cache[struct{}]
}

func NewTaskManager() *TaskManager {
	return &TaskManager{held: cache.New[struct{}]()}
}

func (t *TaskManager) Acquire(uid int64) bool {
	ok := t.held.StoreIfAbsent(strconv.FormatInt(uid, 10), struct{}{})
	if ok {
		metrics.Metrics.ActiveTasks.Set(float64(t.held.Len()))
	}
	return ok
}

// Release must run on every exit path, panics included.
func (t *TaskManager) Release(uid int64) {
	t.held.Remove(strconv.FormatInt(uid, 10))
	metrics.Metrics.ActiveTasks.Set(float64(t.held.Len()))
}

func (t *TaskManager) ActiveCount() int {
	return t.held.Len()
}
