package trader

import (
	"sync"
	"time"

	"github.com/alanyoungcy/dydxbot/internal/domain"
)

// Stats is a point-in-time snapshot of session performance.
type Stats struct {
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	RealizedPnL float64 `json:"realized_pnl"`
	TotalFees   float64 `json:"total_fees"`
	DailyPnL    float64 `json:"daily_pnl"`
	DailyDate   string  `json:"daily_date"`
}

// WinRate returns wins over closed trades, 0 when nothing has closed.
func (s Stats) WinRate() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.TotalTrades)
}

// statsBook accumulates closed-position results. The daily P&L bucket resets
// on the first record of a new UTC day.
type statsBook struct {
	mu    sync.Mutex
	stats Stats
}

func newStatsBook() *statsBook {
	return &statsBook{}
}

// record folds one closed position into the totals.
func (b *statsBook) record(pos domain.Position, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	day := now.UTC().Format("2006-01-02")
	if b.stats.DailyDate != day {
		b.stats.DailyDate = day
		b.stats.DailyPnL = 0
	}

	b.stats.TotalTrades++
	if pos.RealizedPnL > 0 {
		b.stats.Wins++
	} else if pos.RealizedPnL < 0 {
		b.stats.Losses++
	}
	b.stats.RealizedPnL += pos.RealizedPnL
	b.stats.TotalFees += pos.EntryFee + pos.ExitFee
	b.stats.DailyPnL += pos.RealizedPnL
}

// dailyPnL returns the current UTC day's realized P&L, treating a stale
// bucket as zero.
func (b *statsBook) dailyPnL(now time.Time) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stats.DailyDate != now.UTC().Format("2006-01-02") {
		return 0
	}
	return b.stats.DailyPnL
}

// snapshot returns a copy of the current totals.
func (b *statsBook) snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
