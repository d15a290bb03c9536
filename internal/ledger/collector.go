package ledger

import (
	"math"
	"sync/atomic"
	"time"
)

// collector tracks live consumption counters using atomics for lock-free,
// concurrent-safe updates. It is an in-memory process-lifetime view; the
// durable record lives in the consumption log.
type collector struct {
	totalRequests int64
	successCount  int64
	failureCount  int64

	totalTokensIn  int64
	totalTokensOut int64

	// Float64 counters stored as uint64 via math.Float64bits/Float64frombits.
	sharedCredit  uint64
	privateCredit uint64

	startTime time.Time
}

// LiveStats is a point-in-time snapshot of the in-memory counters,
// suitable for JSON serialisation and display.
type LiveStats struct {
	Uptime        string  `json:"uptime"`
	TotalRequests int64   `json:"total_requests"`
	SuccessCount  int64   `json:"success_count"`
	FailureCount  int64   `json:"failure_count"`
	SuccessRate   float64 `json:"success_rate"`
	TokensIn      int64   `json:"tokens_in"`
	TokensOut     int64   `json:"tokens_out"`
	SharedCredit  float64 `json:"shared_credit"`
	PrivateCredit float64 `json:"private_credit"`
}

func newCollector() *collector {
	return &collector{
		startTime:     time.Now(),
		sharedCredit:  math.Float64bits(0),
		privateCredit: math.Float64bits(0),
	}
}

// record atomically updates all counters from one consumption event.
func (c *collector) record(success, shared bool, tokensIn, tokensOut int64, credit float64) {
	atomic.AddInt64(&c.totalRequests, 1)
	if success {
		atomic.AddInt64(&c.successCount, 1)
	} else {
		atomic.AddInt64(&c.failureCount, 1)
	}
	atomic.AddInt64(&c.totalTokensIn, tokensIn)
	atomic.AddInt64(&c.totalTokensOut, tokensOut)

	if shared {
		addFloat64(&c.sharedCredit, credit)
	} else {
		addFloat64(&c.privateCredit, credit)
	}
}

// snapshot returns a point-in-time view of all counters.
func (c *collector) snapshot() *LiveStats {
	total := atomic.LoadInt64(&c.totalRequests)
	success := atomic.LoadInt64(&c.successCount)

	var successRate float64
	if total > 0 {
		successRate = float64(success) / float64(total) * 100
	}

	return &LiveStats{
		Uptime:        formatDuration(time.Since(c.startTime)),
		TotalRequests: total,
		SuccessCount:  success,
		FailureCount:  atomic.LoadInt64(&c.failureCount),
		SuccessRate:   successRate,
		TokensIn:      atomic.LoadInt64(&c.totalTokensIn),
		TokensOut:     atomic.LoadInt64(&c.totalTokensOut),
		SharedCredit:  loadFloat64(&c.sharedCredit),
		PrivateCredit: loadFloat64(&c.privateCredit),
	}
}

// addFloat64 atomically adds delta to the float64 stored in addr using a CAS loop.
func addFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		newVal := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(newVal)) {
			return
		}
	}
}

// loadFloat64 atomically loads a float64 stored in addr.
func loadFloat64(addr *uint64) float64 {
	return math.Float64frombits(atomic.LoadUint64(addr))
}

// formatDuration produces a human-readable duration string like "2d 5h 32m".
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Second).String()
	}

	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	s := ""
	if days > 0 {
		s += itoa(days) + "d"
	}
	if hours > 0 {
		if s != "" {
			s += " "
		}
		s += itoa(hours) + "h"
	}
	if minutes > 0 {
		if s != "" {
			s += " "
		}
		s += itoa(minutes) + "m"
	}
	if s == "" {
		return "0m"
	}
	return s
}

// itoa converts an int to its string representation without importing strconv.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	if n < 0 {
		return "-" + itoa(-n)
	}
	digits := make([]byte, 0, 10)
	for n > 0 {
		digits = append(digits, byte('0'+n%10))
		n /= 10
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}
