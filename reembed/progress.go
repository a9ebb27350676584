package reembed

import (
	"fmt"
	"io"
	"time"
)

// Progress renders a single self-overwriting status line while a run
// works through its records. It is used from one goroutine.
type Progress struct {
	w       io.Writer
	total   int
	every   int
	done    int
	skipped int
	printed int
	start   time.Time
	now     func() time.Time
}

// NewProgress starts timing a run over total records, redrawing the line
// whenever at least every more records have been handled. A nil writer
// discards output.
func NewProgress(w io.Writer, total, every int) *Progress {
	if w == nil {
		w = io.Discard
	}
	p := &Progress{w: w, total: total, every: max(every, 1), now: time.Now}
	p.start = p.now()
	return p
}

// Add records n more handled records, skipped of which were left as is.
func (p *Progress) Add(n, skipped int) {
	p.done = min(p.done+n, p.total)
	p.skipped += skipped
	if p.done-p.printed >= p.every {
		p.draw()
	}
}

// Finish draws the completed line and ends it.
func (p *Progress) Finish() {
	p.done = p.total
	p.draw()
	fmt.Fprintln(p.w)
}

// Elapsed returns the time since the run started.
func (p *Progress) Elapsed() time.Duration {
	return p.now().Sub(p.start)
}

func (p *Progress) draw() {
	p.printed = p.done
	fmt.Fprint(p.w, "\r", p.line())
}

func (p *Progress) line() string {
	pct := 100.0
	if p.total > 0 {
		pct = 100 * float64(p.done) / float64(p.total)
	}
	var rate float64
	if secs := p.Elapsed().Seconds(); secs > 0 {
		rate = float64(p.done) / secs
	}
	return fmt.Sprintf("Re-embedded %d/%d (%.1f%%), %d skipped - %.1f records/s", p.done, p.total, pct, p.skipped, rate)
}
