package usage

import (
	"fmt"
	"strings"

	"github.com/mickgian/pratiko-chat/internal/apitypes"
)

// ResetPendingLabel is the fixed fallback shown when the backend cannot
// say when a window resets. Never replaced by a computed guess.
const ResetPendingLabel = "reset in attesa"

// BarWidth clamps the visual progress-bar width to [0, 100]. The server
// can momentarily over-admit, so the raw percentage may exceed 100.
func BarWidth(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// FormatPercent renders the literal numeric percentage, unclamped:
// an over-admitted window reads "120.0%".
func FormatPercent(pct float64) string {
	return fmt.Sprintf("%.1f%%", pct)
}

// ResetLabel renders the countdown to the window reset.
func ResetLabel(minutes *int) string {
	if minutes == nil {
		return ResetPendingLabel
	}
	if *minutes == 1 {
		return "reset tra 1 minuto"
	}
	return fmt.Sprintf("reset tra %d minuti", *minutes)
}

func windowTitle(wt string) string {
	switch wt {
	case apitypes.Window5h:
		return "Finestra 5 ore"
	case apitypes.Window7d:
		return "Finestra 7 giorni"
	}
	return wt
}

const barCells = 20

func renderBar(pct float64) string {
	filled := int(BarWidth(pct) / 100 * barCells)
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", barCells-filled) + "]"
}

func renderWindow(w apitypes.UsageWindow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s %s\n", windowTitle(w.WindowType), renderBar(w.UsagePercentage), FormatPercent(w.UsagePercentage))
	fmt.Fprintf(&b, "  %.2f € su %.2f € — %s\n", w.CurrentCostEUR, w.LimitCostEUR, ResetLabel(w.ResetInMinutes))
	return b.String()
}

// RenderStatus builds the /utilizzo dialog text.
func RenderStatus(s *apitypes.UsageStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Utilizzo — %s\n\n", s.PlanName)
	b.WriteString(renderWindow(s.Window5h))
	b.WriteString(renderWindow(s.Window7d))
	fmt.Fprintf(&b, "\nCredito extra: %.2f €", s.Credits.BalanceEUR)
	if s.Credits.ExtraUsageEnabled {
		b.WriteString(" (utilizzo extra attivo)")
	}
	b.WriteString("\n")
	if s.MessageIT != "" {
		b.WriteString(s.MessageIT)
		b.WriteString("\n")
	}
	return b.String()
}
