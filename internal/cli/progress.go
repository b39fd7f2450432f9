package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ─── Progress Bar ───────────────────────────────────────────────────────────
// Terminal progress for model downloads:
//   =============>.............. 42% | 12 MB / 28 MB | 4.5 MB/s | ETA 3s

const barWidth = 30

type progressBar struct {
	out     io.Writer
	started time.Time
	now     func() time.Time
}

func newProgressBar() *progressBar {
	return &progressBar{out: os.Stderr, started: time.Now(), now: time.Now}
}

// callback matches records.ProgressFunc.
func (p *progressBar) callback(status string, pct float64) {
	if !strings.HasPrefix(status, "downloading ") {
		p.clearLine()
		fmt.Fprintf(p.out, "[done] %s\n", strings.TrimPrefix(status, "done "))
		p.started = p.now()
		return
	}
	p.renderBar(status, pct)
}

func (p *progressBar) renderBar(status string, pct float64) {
	pct = max(0, min(pct, 100))
	sizes := strings.TrimPrefix(status, "downloading ")

	p.clearLine()
	fmt.Fprintf(p.out, "  %s %3.0f%% | %s | %s | %s",
		bar(pct), pct, sizes, p.speed(sizes), p.eta(pct))
}

// bar draws [=====>.....] without brackets.
func bar(pct float64) string {
	filled := min(int(pct/100*barWidth), barWidth)
	switch {
	case filled == barWidth:
		return strings.Repeat("=", barWidth)
	case filled > 0:
		return strings.Repeat("=", filled-1) + ">" + strings.Repeat(".", barWidth-filled)
	default:
		return strings.Repeat(".", barWidth)
	}
}

// speed parses the downloaded size from "12 MB / 28 MB".
func (p *progressBar) speed(sizes string) string {
	elapsed := p.now().Sub(p.started).Seconds()
	done, _, _ := strings.Cut(sizes, " / ")
	n, err := humanize.ParseBytes(done)
	if elapsed < 0.5 || err != nil {
		return "-- MB/s"
	}
	return humanize.Bytes(uint64(float64(n)/elapsed)) + "/s"
}

func (p *progressBar) eta(pct float64) string {
	elapsed := p.now().Sub(p.started).Seconds()
	if pct <= 0 || pct >= 100 || elapsed < 1 {
		return "ETA --"
	}
	remaining := time.Duration(elapsed/(pct/100)-elapsed) * time.Second
	return "ETA " + remaining.Round(time.Second).String()
}

func (p *progressBar) clearLine() {
	fmt.Fprint(p.out, "\r\033[K")
}
