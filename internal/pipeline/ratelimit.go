package pipeline

import "sync/atomic"

// logLimiter rate-limits a hot-path log site with a per-instance counter
// (never package-level-static, so multiple pipelines never share state).
type logLimiter struct {
	count    atomic.Uint64
	interval uint64
}

func newLogLimiter(interval uint64) *logLimiter {
	return &logLimiter{interval: interval}
}

func (l *logLimiter) allow() bool {
	n := l.count.Add(1)
	return n%l.interval == 1
}
