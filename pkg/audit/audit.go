// Package audit runs a fixed battery of pattern checks against a generated
// reply. It is pure and deterministic, never calls a model, and never fails a
// turn: anything it can't evaluate counts as "no issue".
package audit

import (
	"regexp"
	"strings"
)

// Issue codes. Multiple checks can fire on one reply.
const (
	IssueExactRepetition  = "Exact repetition of previous response"
	IssueGenericLanguage  = "Generic or cliché language"
	IssueMissedEmotion    = "Missed emotional resonance"
	IssueMissedConnection = "Missed opportunity for personal connection"
	IssueTooLong          = "Response too long"
	IssueTooManySentences = "Too many sentences, sounds preachy"
	IssueCounselorSpeak   = "Counselor or therapist language"
	IssueVagueQuestion    = "Vague question ending"
)

const (
	maxWords     = 80
	maxSentences = 5
	// Replies under this many words with no narrative marker can't have
	// engaged with a deep personal disclosure.
	shortReplyWords = 15
	// Replies under this many characters that end in "?" read as deflection.
	shortQuestionChars = 80
)

var clichePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)everything happens for a reason`),
	regexp.MustCompile(`(?i)just be present`),
	regexp.MustCompile(`(?i)you are enough`),
	regexp.MustCompile(`(?i)time heals all wounds`),
	regexp.MustCompile(`(?i)trust the process`),
	regexp.MustCompile(`(?i)it is what it is`),
	regexp.MustCompile(`(?i)believe in yourself`),
	regexp.MustCompile(`(?i)follow your heart`),
	regexp.MustCompile(`(?i)stay strong`),
	regexp.MustCompile(`(?i)everything will work out`),
}

var counselorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)how does that make you feel`),
	regexp.MustCompile(`(?i)let'?s unpack that`),
	regexp.MustCompile(`(?i)it sounds like you'?re`),
	regexp.MustCompile(`(?i)i hear you saying`),
	regexp.MustCompile(`(?i)have you considered (speaking|talking) (to|with)`),
	regexp.MustCompile(`(?i)hold space for`),
}

// emotionalCues mark a user message as an emotional disclosure.
var emotionalCues = []string{
	"i feel", "i'm struggling", "im struggling", "i'm afraid", "im afraid",
	"i am struggling", "i am afraid", "sometimes i think",
}

// emotionVocabulary is what an emotionally present reply contains at least
// one of.
var emotionVocabulary = []string{
	"feel", "felt", "emotion", "struggle", "heavy", "silent", "hard",
}

// deepSharingCues mark a message as deep sharing that invites a personal
// story in return.
var deepSharingCues = []string{
	"lost", "loss", "died", "passed away", "afraid", "fear", "failing",
	"why", "how do i", "struggling", "ashamed",
}

// narrativeMarkers are first-person story openers and family references.
var narrativeMarkers = []string{
	"i remember", "there was a time", "when i was", "years ago",
	"my father", "my mother", "my wife", "my husband", "my son",
	"my daughter", "my boss",
}

// Context is what the auditor knows beyond the reply itself.
type Context struct {
	UserMessage   string
	PreviousReply string
}

// Verdict is the audit outcome. RewriteDirective is empty when no issues
// fired.
type Verdict struct {
	Issues           []string
	Flagged          bool
	RewriteDirective string
}

// Has reports whether a specific issue code fired.
func (v Verdict) Has(issue string) bool {
	for _, i := range v.Issues {
		if i == issue {
			return true
		}
	}
	return false
}

// Audit evaluates a reply against the full check battery.
func Audit(reply string, ctx Context) Verdict {
	trimmed := strings.TrimSpace(reply)
	lowerReply := strings.ToLower(trimmed)
	lowerMessage := strings.ToLower(ctx.UserMessage)
	words := strings.Fields(trimmed)

	var issues []string

	if trimmed != "" && trimmed == strings.TrimSpace(ctx.PreviousReply) {
		issues = append(issues, IssueExactRepetition)
	}

	for _, p := range clichePatterns {
		if p.MatchString(trimmed) {
			issues = append(issues, IssueGenericLanguage)
			break
		}
	}

	if containsAny(lowerMessage, emotionalCues) && !containsAny(lowerReply, emotionVocabulary) {
		issues = append(issues, IssueMissedEmotion)
	}

	if containsAny(lowerMessage, deepSharingCues) &&
		!containsAny(lowerReply, narrativeMarkers) &&
		len(words) < shortReplyWords {
		issues = append(issues, IssueMissedConnection)
	}

	if len(words) > maxWords {
		issues = append(issues, IssueTooLong)
	}

	if countSentences(trimmed) > maxSentences {
		issues = append(issues, IssueTooManySentences)
	}

	for _, p := range counselorPatterns {
		if p.MatchString(trimmed) {
			issues = append(issues, IssueCounselorSpeak)
			break
		}
	}

	if len(trimmed) > 0 && len(trimmed) < shortQuestionChars && strings.HasSuffix(trimmed, "?") {
		issues = append(issues, IssueVagueQuestion)
	}

	v := Verdict{Issues: issues, Flagged: len(issues) > 0}
	if v.Flagged {
		v.RewriteDirective = directiveFor(v)
	}
	return v
}

// directiveFor picks the rewrite instruction by priority: the two specific
// failure modes get targeted directives, everything else a summary.
func directiveFor(v Verdict) string {
	if v.Has(IssueVagueQuestion) {
		return "Your last reply was a short, vague question. Do not deflect. " +
			"Give a concrete answer drawn from your own experience in one or two " +
			"sentences first. You may end with one specific question, but only " +
			"after you have actually said something."
	}
	if v.Has(IssueMissedConnection) {
		return "The person just shared something personal and you gave them " +
			"nothing of yourself. Rewrite your reply to open with a short story " +
			"from your own life, starting with words like \"I remember\" or " +
			"\"When I was\", and connect it directly to what they said. Keep it " +
			"to three or four sentences."
	}
	return "Your reply was flagged for: " + strings.Join(v.Issues, "; ") + ". " +
		"Rewrite it in the same voice. Stay in character, avoid stock phrases " +
		"and therapist language, speak plainly, and keep it concise."
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func countSentences(s string) int {
	count := 0
	for _, r := range s {
		switch r {
		case '.', '!', '?':
			count++
		}
	}
	return count
}
