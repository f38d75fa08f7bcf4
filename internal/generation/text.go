package generation

import "strings"

const fence = "```"

// StripCodeFences returns the body of the first fenced block in text. Text
// without a fence is returned trimmed. An unterminated fence keeps
// everything after the opening line.
func StripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	open := strings.Index(trimmed, fence)
	if open < 0 {
		return trimmed
	}

	rest := trimmed[open+len(fence):]
	// drop the info string, e.g. ```python
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	} else {
		return ""
	}

	if end := strings.Index(rest, fence); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimRight(rest, " \t\r\n")
}

// UnwrapCodeFence removes a fence wrapping the whole of text. Fenced blocks
// inside otherwise raw content are kept, so a README with a usage block
// survives intact. An opening fence with no closing one loses only its
// opening line.
func UnwrapCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, fence) {
		return trimmed
	}

	nl := strings.IndexByte(trimmed, '\n')
	if nl < 0 {
		return ""
	}
	body := trimmed[nl+1:]
	if strings.HasSuffix(body, fence) {
		body = strings.TrimSuffix(body, fence)
	}
	return strings.TrimRight(body, " \t\r\n")
}
