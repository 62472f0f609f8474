package notify

import (
	"fmt"
	"html"
	"strings"

	"github.com/deexno/checkmk-telegram-plus/internal/monitor"
	"github.com/deexno/checkmk-telegram-plus/internal/telegram"
)

// Callback payload prefixes carried in inline buttons. Payloads are
// "action,service_description,host[,extra]"; an empty description
// means the host itself.
const (
	CallbackRecheck     = "recheck"
	CallbackGraph       = "graph"
	CallbackAcknowledge = "ack"
)

// FormatMessage renders the HTML notification body: the new state as a
// headline, the transition arrow, the escaped check output and the
// host details.
func FormatMessage(e Event) string {
	toEmoji, _ := monitor.StateDetails(e.NewState)
	fromEmoji, _ := monitor.StateDetails(e.PreviousState)

	subject := e.Host
	var b strings.Builder
	fmt.Fprintf(&b, "%s <u><b>%s</b></u>\n\n", toEmoji, html.EscapeString(subject))
	if e.IsServiceEvent() {
		fmt.Fprintf(&b, "%s\n", html.EscapeString(e.ServiceDescription))
	}
	fmt.Fprintf(&b, "%s %s → %s %s", fromEmoji, e.PreviousState, toEmoji, e.NewState)
	fmt.Fprintf(&b, "\n\n<u><b>OUTPUT:</b></u>\n<code><pre>%s</pre></code>", html.EscapeString(e.CheckOutput))
	fmt.Fprintf(&b, "\n\n<u><b>DETAILS:</b></u>\nIP: %s\nHOSTGROUP: %s\n", html.EscapeString(e.SourceIP), html.EscapeString(e.Hostgroup))
	return b.String()
}

// Keyboard builds the inline buttons attached to a notification.
// Recheck is always offered; graphs and acknowledgement only make
// sense for service events.
func Keyboard(e Event) *telegram.InlineKeyboardMarkup {
	row := []telegram.InlineKeyboardButton{{
		Text:         "🔂 RECHECK",
		CallbackData: EncodeCallback(CallbackRecheck, e.ServiceDescription, e.Host, "0"),
	}}
	if e.IsServiceEvent() {
		row = append(row,
			telegram.InlineKeyboardButton{
				Text:         "📉 GET SERVICE GRAPHS",
				CallbackData: EncodeCallback(CallbackGraph, e.ServiceDescription, e.Host),
			},
			telegram.InlineKeyboardButton{
				Text:         "✔️ ACKNOWLEDGE",
				CallbackData: EncodeCallback(CallbackAcknowledge, e.ServiceDescription, e.Host),
			},
		)
	}
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{row}}
}

// EncodeCallback joins an action and its arguments into a callback
// payload. The payload format reserves the comma, so commas inside
// arguments are percent-escaped. Telegram caps callback_data at 64
// bytes; very long host and service names can still exceed that.
func EncodeCallback(action string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, action)
	for _, arg := range args {
		arg = strings.ReplaceAll(arg, "%", "%25")
		arg = strings.ReplaceAll(arg, ",", "%2C")
		parts = append(parts, arg)
	}
	return strings.Join(parts, ",")
}

// DecodeCallback splits a callback payload into its action and
// arguments.
func DecodeCallback(data string) (action string, args []string) {
	parts := strings.Split(data, ",")
	if len(parts) == 0 {
		return "", nil
	}
	args = parts[1:]
	for i, arg := range args {
		arg = strings.ReplaceAll(arg, "%2C", ",")
		args[i] = strings.ReplaceAll(arg, "%25", "%")
	}
	return parts[0], args
}
