package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/gsitechorg/open-belex-debug/internal/domain"
	"github.com/gsitechorg/open-belex-debug/internal/transport/ws"
)

var (
	lifecycleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	spanStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	batchStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	streamStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	sideStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	errorStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Faint(true)
)

// styleFor picks the colour of a unit tag by event kind.
func styleFor(tag string) lipgloss.Style {
	if tag == domain.TagBatch {
		return batchStyle
	}
	switch domain.KindOf(tag) {
	case domain.KindLifecycle:
		return lifecycleStyle
	case domain.KindStatementEnter, domain.KindStatementExit,
		domain.KindMultiStatementEnter, domain.KindMultiStatementExit,
		domain.KindFragmentEnter, domain.KindFragmentExit:
		return spanStyle
	case domain.KindSideChannel:
		if tag == domain.TagStdout || tag == domain.TagStderr {
			return streamStyle
		}
		return sideStyle
	}
	return lipgloss.NewStyle()
}

// Render formats one relay frame for the terminal.
func Render(env ws.Envelope) string {
	switch env.Type {
	case ws.TypeHelloAck:
		return dimStyle.Render("session " + env.SessionID)
	case ws.TypeAppEvent:
		return renderUnit(env.Data)
	case ws.TypeFileLoad:
		if pair, ok := env.Data.([]any); ok && len(pair) == 2 {
			html, _ := pair[1].(string)
			return dimStyle.Render(fmt.Sprintf("loaded %v (%d bytes of html)", pair[0], len(html)))
		}
	case ws.TypeError:
		if m, ok := env.Data.(map[string]any); ok {
			return errorStyle.Render(fmt.Sprintf("error %v: %v", m["code"], m["message"]))
		}
	}
	return dimStyle.Render(fmt.Sprintf("[%s] %s", env.Type, compact(env.Data)))
}

func renderUnit(data any) string {
	unit, ok := data.([]any)
	if !ok || len(unit) == 0 {
		return compact(data)
	}
	tag, _ := unit[0].(string)
	head := styleFor(tag).Render(tag)

	if tag == domain.TagBatch && len(unit) == 2 {
		members, _ := unit[1].([]any)
		var b strings.Builder
		fmt.Fprintf(&b, "%s (%d)", head, len(members))
		for _, member := range members {
			b.WriteString("\n  ")
			b.WriteString(renderUnit(member))
		}
		return b.String()
	}
	if tag == domain.TagStdout || tag == domain.TagStderr {
		if len(unit) == 2 {
			line, _ := unit[1].(string)
			return head + " " + streamStyle.Render(strings.TrimRight(line, "\n"))
		}
	}

	parts := make([]string, 0, len(unit)-1)
	for _, comp := range unit[1:] {
		parts = append(parts, compact(comp))
	}
	if len(parts) == 0 {
		return head
	}
	return head + " " + strings.Join(parts, " ")
}

func compact(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
