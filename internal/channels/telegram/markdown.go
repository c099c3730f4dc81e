package telegram

import "strings"

// markdownV2Escaper escapes MarkdownV2 reserved characters. Asterisks and
// underscores pass through so answers keep their bold and italic markup.
var markdownV2Escaper = strings.NewReplacer(
	`\`, `\\`,
	"[", `\[`,
	"]", `\]`,
	"(", `\(`,
	")", `\)`,
	"~", `\~`,
	"`", "\\`",
	">", `\>`,
	"#", `\#`,
	"+", `\+`,
	"-", `\-`,
	"=", `\=`,
	"|", `\|`,
	"{", `\{`,
	"}", `\}`,
	".", `\.`,
	"!", `\!`,
)

// EscapeMarkdownV2 prepares answer text for ParseMode MarkdownV2.
func EscapeMarkdownV2(text string) string {
	return markdownV2Escaper.Replace(text)
}
