package delta

import "strings"

// The upstream model stream occasionally drops the first character or
// word of a response ("I apologize" arrives as " apologize", "The"
// arrives as "he "). The repair table below reconstructs the known
// truncation shapes. It is applied exactly once, to the first buffered
// chunk of a turn, in order, first match wins. A buffer that matches no
// rule passes through unchanged, so well-formed responses are never
// altered.

type repairRule struct {
	prefix string
	insert string
	// maxLen restricts the rule to short buffers; 0 means no limit.
	// The short-buffer rules are too aggressive to apply to a full
	// sentence that legitimately starts with the prefix.
	maxLen int
}

var repairRules = []repairRule{
	{prefix: " apologize", insert: "I"},
	{prefix: "apologize", insert: "I "},
	{prefix: " am", insert: "I"},
	{prefix: "am ", insert: "I "},
	{prefix: "'d ", insert: "I"},
	{prefix: "d ", insert: "I'"},
	{prefix: "'ll ", insert: "I"},
	{prefix: "ll ", insert: "I'"},
	{prefix: "'m ", insert: "I"},
	{prefix: "m ", insert: "I'"},
	{prefix: " can", insert: "I"},
	{prefix: "can ", insert: "I "},
	{prefix: " will", insert: "I"},
	{prefix: "will ", insert: "I "},
	{prefix: "he ", insert: "T", maxLen: 25},
	{prefix: "et ", insert: "L", maxLen: 25},
	{prefix: " ", insert: "I", maxLen: 25},
}

// RepairPrefix reconstructs a truncated response prefix. The input must
// be the first buffered chunk of a turn; later chunks legitimately start
// mid-word and must not be passed here.
func RepairPrefix(buf string) string {
	for _, r := range repairRules {
		if !strings.HasPrefix(buf, r.prefix) {
			continue
		}
		if r.maxLen > 0 && len(buf) >= r.maxLen {
			continue
		}
		return r.insert + buf
	}
	return buf
}
