// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package commands

import (
	"fmt"
	"strings"
	"time"

	"code.hybscloud.com/bufq/internal/sim"
	"code.hybscloud.com/bufq/internal/simconfig"
	"code.hybscloud.com/bufq/trace"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7B68EE")).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00D4FF"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500")).
			Italic(true)
)

func renderSummary(cfg *simconfig.Config, res sim.Result, ts trace.Stats) string {
	mode := "sync"
	if cfg.Queue.Async {
		mode = "async"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s: %dx%d %s, %s", cfg.Queue.Name,
		cfg.Queue.Width, cfg.Queue.Height, cfg.Queue.Format, mode)))
	b.WriteString("\n")

	row := func(label string, value any) {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-16s", label)))
		b.WriteString(valueStyle.Render(fmt.Sprint(value)))
		b.WriteString("\n")
	}
	row("produced", res.Produced)
	row("consumed", res.Consumed)
	row("dropped", res.Queue.Dropped)
	row("canceled", res.Queue.Canceled)
	row("reallocations", res.Reallocations)
	row("reattached", res.Reattached)
	row("retries", res.Retries)
	row("max buffer age", res.MaxBufferAge)
	row("cached buffers", res.CachedBuffers)
	row("cache erased", res.CacheErased)
	row("elapsed", res.Elapsed.Round(time.Millisecond))
	if res.Elapsed > 0 && res.Consumed > 0 {
		row("fps", fmt.Sprintf("%.1f", float64(res.Consumed)/res.Elapsed.Seconds()))
	}
	if cfg.Trace.Sink != "none" {
		row("trace events", ts.Written)
		if ts.Dropped > 0 || ts.SinkErrors > 0 {
			b.WriteString(warnStyle.Render(fmt.Sprintf("trace lost %d events, %d sink errors", ts.Dropped, ts.SinkErrors)))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
