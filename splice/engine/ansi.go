package engine

import "regexp"

// matches ANSI escape codes (colors, cursor moves) that tools emit
// when they think they are writing to a terminal
const ansi = "[\u001B\u009B][[\\]()#;?]*(?:(?:(?:[a-zA-Z\\d]*(?:;[a-zA-Z\\d]*)*)?\u0007)|(?:(?:\\d{1,4}(?:;\\d{0,4})*)?[\\dA-PRZcf-ntqry=><~]))"

var ansiPattern = regexp.MustCompile(ansi)

func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}
