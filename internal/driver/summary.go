package driver

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/yagince/test-queue/internal/protocol"
)

const timeRounding = 10 * time.Millisecond

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// summarize prints the per-worker run summary and failure details, then
// invokes the Summarize hook.
func (d *Driver) summarize(completed []*protocol.WorkerRecord) {
	fmt.Println(headerStyle.Render("==> Summary"))

	for _, rec := range completed {
		status := passStyle.Render("ok")
		if rec.ExitStatus != 0 {
			status = failStyle.Render(fmt.Sprintf("exit %d", rec.ExitStatus))
		}
		elapsed := rec.EndTime.Sub(rec.StartTime).Round(timeRounding)
		fmt.Printf("    worker %d %s  %s  %d suites in %s\n",
			rec.Num,
			subtleStyle.Render("host="+rec.Host),
			status,
			len(rec.SuitesRun),
			elapsed)
	}

	var failed []protocol.SuiteResult
	for _, rec := range completed {
		for _, result := range rec.SuitesRun {
			if result.Status != protocol.SuitePassed {
				failed = append(failed, result)
			}
		}
	}

	if len(failed) > 0 {
		fmt.Println(headerStyle.Render(fmt.Sprintf("==> %d failed suites", len(failed))))
		for _, result := range failed {
			fmt.Printf("    %s %s\n",
				failStyle.Render(result.Name),
				subtleStyle.Render(result.Path))
			if len(result.Detail) > 0 {
				detail := strings.TrimRight(string(result.Detail), "\n")
				for _, line := range strings.Split(detail, "\n") {
					fmt.Printf("        %s\n", line)
				}
			}
		}
	}

	if hook := d.rctx.Hooks.Summarize; hook != nil {
		hook(completed)
	}
}
