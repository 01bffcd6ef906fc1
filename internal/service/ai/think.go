package ai

import "strings"

// FragmentKind distinguishes answer text from interleaved reasoning.
type FragmentKind string

const (
	FragmentAnswer    FragmentKind = "answer"
	FragmentReasoning FragmentKind = "reasoning"
)

// Fragment is one incremental unit of assistant output, already classified.
type Fragment struct {
	Kind FragmentKind
	Text string
}

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// ThinkSplitter separates <think>...</think> reasoning spans from answer
// text in a fragment stream. Some backends interleave both in one channel
// using this delimiter convention; the splitter is a pure text transform and
// copes with tags split across fragment boundaries by withholding an
// ambiguous tail until the next fragment resolves it.
type ThinkSplitter struct {
	buf     string
	inThink bool
}

// NewThinkSplitter returns a splitter in the answer state.
func NewThinkSplitter() *ThinkSplitter {
	return &ThinkSplitter{}
}

// Feed consumes the next raw fragment and returns the classified fragments
// it completes, in order. Text held back as a possible partial tag is
// emitted by a later Feed or by Flush.
func (s *ThinkSplitter) Feed(text string) []Fragment {
	s.buf += text

	var out []Fragment
	for {
		tag := thinkOpen
		kind := FragmentAnswer
		next := FragmentReasoning
		if s.inThink {
			tag = thinkClose
			kind = FragmentReasoning
			next = FragmentAnswer
		}

		idx := strings.Index(s.buf, tag)
		if idx < 0 {
			keep := partialTagSuffix(s.buf, tag)
			emit := s.buf[:len(s.buf)-keep]
			if emit != "" {
				out = append(out, Fragment{Kind: kind, Text: emit})
				s.buf = s.buf[len(emit):]
			}
			return out
		}

		if idx > 0 {
			out = append(out, Fragment{Kind: kind, Text: s.buf[:idx]})
		}
		s.buf = s.buf[idx+len(tag):]
		s.inThink = next == FragmentReasoning
	}
}

// Flush drains any withheld tail, classifying it by the current state.
// Call once after the stream ends.
func (s *ThinkSplitter) Flush() []Fragment {
	if s.buf == "" {
		return nil
	}
	kind := FragmentAnswer
	if s.inThink {
		kind = FragmentReasoning
	}
	out := []Fragment{{Kind: kind, Text: s.buf}}
	s.buf = ""
	return out
}

// partialTagSuffix reports the length of the longest suffix of text that is
// a proper prefix of tag.
func partialTagSuffix(text, tag string) int {
	max := len(tag) - 1
	if max > len(text) {
		max = len(text)
	}
	for k := max; k > 0; k-- {
		if strings.HasSuffix(text, tag[:k]) {
			return k
		}
	}
	return 0
}
