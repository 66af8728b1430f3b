package orchestrator

import "strings"

// Error codes recorded on failed jobs.
const (
	CodeBadRequest          = "BAD_REQUEST"
	CodeInsufficientFunds   = "INSUFFICIENT_FUNDS"
	CodeUnknownTool         = "UNKNOWN_TOOL"
	CodeProviderRejected    = "PROVIDER_REJECTED"
	CodeProviderTransient   = "PROVIDER_TRANSIENT"
	CodeTimeout             = "TIMEOUT"
	CodeArtifactUnavailable = "ARTIFACT_UNAVAILABLE"
	CodeShutdown            = "SHUTDOWN"
	CodeInternal            = "INTERNAL"
)

// failNotice is the user-facing half of a failure: a short reason and a tip,
// composed into the chat message. Raw provider text never reaches the user.
type failNotice struct {
	Reason string
	Tips   string
}

// noticeRule matches raw error text by substring. First match wins.
type noticeRule struct {
	keywords []string
	code     string
	notice   failNotice
}

var noticeRules = []noticeRule{
	{
		keywords: []string{"nsfw", "policy", "flagged", "moderation"},
		code:     CodeProviderRejected,
		notice: failNotice{
			Reason: "The provider declined this prompt.",
			Tips:   "Rephrase the prompt and avoid restricted content.",
		},
	},
	{
		keywords: []string{"rate limit", "quota", "too many requests", "429"},
		code:     CodeProviderTransient,
		notice: failNotice{
			Reason: "The provider is overloaded right now.",
			Tips:   "Please try again in a few minutes.",
		},
	},
	{
		keywords: []string{"timeout", "deadline"},
		code:     CodeTimeout,
		notice: failNotice{
			Reason: "Generation took too long and was cancelled.",
			Tips:   "Try a shorter duration or a simpler prompt.",
		},
	},
	{
		keywords: []string{"auth", "unauthorized", "forbidden", "401", "403"},
		code:     CodeProviderRejected,
		notice: failNotice{
			Reason: "The generation service rejected our request.",
			Tips:   "This is on our side. Please try again later.",
		},
	},
	{
		keywords: []string{"5xx", "502", "503", "504", "network", "connection", "unreachable"},
		code:     CodeProviderTransient,
		notice: failNotice{
			Reason: "The generation service is temporarily unavailable.",
			Tips:   "Please try again in a few minutes.",
		},
	},
	{
		keywords: []string{"no artifact", "empty artifact", "empty result"},
		code:     CodeArtifactUnavailable,
		notice: failNotice{
			Reason: "The provider finished but returned no usable file.",
			Tips:   "Please try again.",
		},
	},
}

var defaultNotice = failNotice{
	Reason: "Something went wrong during generation.",
	Tips:   "Please try again.",
}

// classifyError maps raw error text to a bounded error code and the localized
// user notice.
func classifyError(raw string) (string, failNotice) {
	lowered := strings.ToLower(raw)
	for _, rule := range noticeRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lowered, kw) {
				return rule.code, rule.notice
			}
		}
	}
	return CodeInternal, defaultNotice
}
