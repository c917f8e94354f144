package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const maxStructuredMessageLen = 3800

// MessageSection 表示通知中的一个段落。
type MessageSection struct {
	Title string
	Lines []string
}

// StructuredMessage 描述统一格式的通知推送（Slack/Telegram/日志）。
type StructuredMessage struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Footer    string
	Timestamp time.Time
}

// RenderMarkdown 生成 Markdown 文本，自动裁剪长度。
func (m StructuredMessage) RenderMarkdown() string {
	var b strings.Builder
	header := strings.TrimSpace(strings.TrimSpace(m.Icon + " " + m.Title))
	if header != "" {
		b.WriteString(header + "\n\n")
	}
	if block := renderSections(m.Sections); block != "" {
		b.WriteString(block)
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(sanitize(footer))
		b.WriteString("\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("Time: " + m.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	body := strings.TrimSpace(b.String())
	if len(body) > maxStructuredMessageLen {
		body = body[:maxStructuredMessageLen] + "..."
	}
	return body
}

func renderSections(secs []MessageSection) string {
	hasContent := false
	for _, sec := range secs {
		if len(sanitizeLines(sec.Lines)) > 0 {
			hasContent = true
			break
		}
	}
	if !hasContent {
		return ""
	}
	var b strings.Builder
	b.WriteString("```\n")
	for idx, sec := range secs {
		lines := sanitizeLines(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		title := strings.TrimSpace(sec.Title)
		if title != "" {
			b.WriteString(sanitize(title))
			b.WriteString("\n")
		}
		for _, line := range lines {
			b.WriteString("- ")
			b.WriteString(sanitize(line))
			b.WriteString("\n")
		}
		if idx != len(secs)-1 {
			b.WriteString("\n")
		}
	}
	b.WriteString("```\n\n")
	return b.String()
}

func sanitizeLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if text := strings.TrimSpace(line); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "```", "'''")
	return s
}

// IncidentAlert carries what a remediation notification needs to render.
type IncidentAlert struct {
	RuleID     int64
	RuleName   string
	RuleType   string
	Severity   string
	AccountID  int64
	TradeID    *int64
	IncidentID int64
	ActionName string
	ActionType string
	// Evidence and ActionConfig are raw JSON documents.
	Evidence     []byte
	ActionConfig []byte
	Attempt      int
	At           time.Time
}

// Message renders the alert as a StructuredMessage.
func (a IncidentAlert) Message() StructuredMessage {
	icon := "⚠️"
	if a.Severity == "hard" {
		icon = "🚨"
	}
	title := fmt.Sprintf("Risk rule violated: %s", strings.TrimSpace(a.RuleName))
	if strings.TrimSpace(a.RuleName) == "" {
		title = fmt.Sprintf("Risk rule violated: #%d", a.RuleID)
	}
	overview := []string{
		fmt.Sprintf("Rule: #%d %s (%s)", a.RuleID, a.RuleType, a.Severity),
		fmt.Sprintf("Account: %d", a.AccountID),
	}
	if a.TradeID != nil {
		overview = append(overview, fmt.Sprintf("Trade: %d", *a.TradeID))
	}
	if a.IncidentID > 0 {
		overview = append(overview, fmt.Sprintf("Incident: %d", a.IncidentID))
	}
	msg := StructuredMessage{
		Icon:  icon,
		Title: title,
		Sections: []MessageSection{
			{Title: "Overview", Lines: overview},
			{Title: "Evidence", Lines: flattenJSON(a.Evidence)},
		},
		Timestamp: a.At,
	}
	footer := fmt.Sprintf("Action: %s (%s)", a.ActionName, a.ActionType)
	if target := actionTarget(a.ActionConfig); target != "" {
		footer += " -> " + target
	}
	if a.Attempt > 1 {
		footer += fmt.Sprintf(" attempt=%d", a.Attempt)
	}
	msg.Footer = footer
	return msg
}

// flattenJSON renders a JSON object as "path: value" lines, nested keys dotted.
func flattenJSON(raw []byte) []string {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return nil
	}
	var lines []string
	var walk func(prefix string, v gjson.Result)
	walk = func(prefix string, v gjson.Result) {
		if v.IsObject() {
			v.ForEach(func(key, value gjson.Result) bool {
				next := key.String()
				if prefix != "" {
					next = prefix + "." + next
				}
				walk(next, value)
				return true
			})
			return
		}
		val := v.String()
		if v.Type == gjson.Null {
			val = "-"
		}
		lines = append(lines, prefix+": "+val)
	}
	walk("", gjson.ParseBytes(raw))
	return lines
}

// actionTarget extracts the recipient hint from an action's config.
func actionTarget(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	for _, path := range []string{"to", "recipients", "channel"} {
		v := gjson.GetBytes(raw, path)
		if !v.Exists() {
			continue
		}
		if v.IsArray() {
			var parts []string
			for _, item := range v.Array() {
				if s := strings.TrimSpace(item.String()); s != "" {
					parts = append(parts, s)
				}
			}
			return strings.Join(parts, ", ")
		}
		return strings.TrimSpace(v.String())
	}
	return ""
}
