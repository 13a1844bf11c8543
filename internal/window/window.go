// Package window bounds a transcript to a model context window without
// breaking the structural rules tool-calling APIs impose on message order.
//
// Naive "last N messages" trimming can strand a tool message from the
// assistant message that issued its call, or drop some of the responses an
// assistant tool-call message still expects; both produce requests the
// model API rejects. Trimming away the latest human message (or the tool
// results it depends on) is worse: the agent loses the current intent and
// re-issues the same tool call forever. Trim avoids both failure modes by
// moving whole blocks only and force-keeping the latest human turn.
package window

import (
	"github.com/tripmesh/tripmesh/internal/transcript"
)

// DefaultSystemPrompt is injected when trimming would otherwise produce a
// sequence that does not start with a system message.
const DefaultSystemPrompt = "You are a helpful assistant."

// span is a half-open message range [start, end) forming one indivisible
// block: either a single message, or an ai tool-call message together
// with every tool response that immediately follows it.
type span struct {
	start, end int
}

// blocks partitions seq into indivisible spans.
func blocks(seq []transcript.Message) []span {
	var out []span
	for i := 0; i < len(seq); {
		if seq[i].IssuesToolCalls() {
			j := i + 1
			for j < len(seq) && seq[j].Kind == transcript.KindTool {
				j++
			}
			out = append(out, span{i, j})
			i = j
			continue
		}
		out = append(out, span{i, i + 1})
		i++
	}
	return out
}

// Trim bounds msgs to at most maxSize messages, preserving structure.
//
// The result is assembled from three segments:
//
//  1. a fixed prefix of up to keepSystem leading system messages,
//  2. a middle filled backward from just before the last human message,
//     whole blocks at a time, while they fit the remaining budget,
//  3. the must-keep tail (the last human message and everything after
//     it), which is always kept in full, even over budget.
//
// When the assembled result would not start with a system message, a
// minimal default one is prepended. Trim never mutates its input and is
// deterministic; trimming an already-fitting sequence returns it
// unchanged. maxSize values below 1 are clamped to 1.
func Trim(msgs []transcript.Message, maxSize, keepSystem int) []transcript.Message {
	if maxSize < 1 {
		maxSize = 1
	}
	if keepSystem < 0 {
		keepSystem = 0
	}
	if len(msgs) == 0 {
		return []transcript.Message{transcript.System(DefaultSystemPrompt)}
	}

	// Fixed system prefix.
	i := 0
	prefix := make([]transcript.Message, 0, keepSystem)
	for i < len(msgs) && msgs[i].Kind == transcript.KindSystem && len(prefix) < keepSystem {
		prefix = append(prefix, msgs[i].Clone())
		i++
	}

	rest := msgs[i:]
	if len(rest) == 0 {
		if len(prefix) == 0 {
			return []transcript.Message{transcript.System(DefaultSystemPrompt)}
		}
		if len(prefix) > maxSize {
			prefix = prefix[:maxSize]
		}
		return prefix
	}

	lastHuman := -1
	for t := len(rest) - 1; t >= 0; t-- {
		if rest[t].Kind == transcript.KindHuman {
			lastHuman = t
			break
		}
	}
	if lastHuman == -1 {
		return trimByBlocks(prefix, rest, maxSize)
	}

	// Everything from the last human message on is kept unconditionally:
	// it carries the current intent and any tool results it depends on.
	tail := cloneRange(rest, lastHuman, len(rest))

	fixed := len(prefix) + len(tail)
	needDefault := len(prefix) == 0
	if needDefault {
		fixed++ // the default system message we will inject
	}
	if fixed >= maxSize {
		// Over budget already; return prefix + tail as-is rather than
		// break the tail. Accepted overrun.
		return ensureLeadingSystem(concat(prefix, nil, tail))
	}

	// Fill the middle backward, whole blocks only, while they fit.
	head := rest[:lastHuman]
	spans := blocks(head)
	budget := maxSize - fixed
	start := len(head)
	for j := len(spans) - 1; j >= 0; j-- {
		size := spans[j].end - spans[j].start
		if size > budget {
			break
		}
		budget -= size
		start = spans[j].start
	}
	middle := cloneRange(head, start, len(head))

	return ensureLeadingSystem(concat(prefix, middle, tail))
}

// trimByBlocks handles transcripts with no human message: fill purely by
// block budget from the end. The newest block is always included so the
// result is never contentless.
func trimByBlocks(prefix, rest []transcript.Message, maxSize int) []transcript.Message {
	fixed := len(prefix)
	if len(prefix) == 0 {
		fixed++ // injected default system message
	}
	budget := maxSize - fixed

	spans := blocks(rest)
	start := len(rest)
	for j := len(spans) - 1; j >= 0; j-- {
		size := spans[j].end - spans[j].start
		if size > budget && start < len(rest) {
			break
		}
		budget -= size
		start = spans[j].start
	}
	middle := cloneRange(rest, start, len(rest))

	return ensureLeadingSystem(concat(prefix, middle, nil))
}

// ensureLeadingSystem prepends the default system message when out does
// not already start with one. Idempotent.
func ensureLeadingSystem(out []transcript.Message) []transcript.Message {
	if len(out) > 0 && out[0].Kind == transcript.KindSystem {
		return out
	}
	withDefault := make([]transcript.Message, 0, len(out)+1)
	withDefault = append(withDefault, transcript.System(DefaultSystemPrompt))
	return append(withDefault, out...)
}

func cloneRange(seq []transcript.Message, start, end int) []transcript.Message {
	out := make([]transcript.Message, 0, end-start)
	for _, m := range seq[start:end] {
		out = append(out, m.Clone())
	}
	return out
}

func concat(a, b, c []transcript.Message) []transcript.Message {
	out := make([]transcript.Message, 0, len(a)+len(b)+len(c))
	out = append(out, a...)
	out = append(out, b...)
	return append(out, c...)
}
