package faucet

import (
	"fmt"
	"strings"
	"time"
)

// Messages holds the configurable reply templates. Placeholders follow fmt
// verbs: handle first, then amount or retry phrase where applicable.
type Messages struct {
	Rewarded      string
	FaucetDrained string
	LifetimeLimit string
	DailyLimit    string
}

// Fixed gate-rejection texts. These mirror what the bot has always replied
// with and are not templated.
const (
	replyFakeAccount       = "Are you using a fake account?"
	replyAlreadyProcessed  = "Your post has been processed already."
	replyNotSupported      = "Replies are not supported."
	replyInvalidAddress    = "Your post should contain a valid XSG transparent address."
	replyTextTooShort      = "Your post is too short."
	replyPayoutFailed      = "Something went wrong while sending your reward, please try again later."
	replyMissingTagsFormat = "Your post should contain the following tags: %s"
)

func missingTagsReply(requiredTags []string) string {
	return fmt.Sprintf(replyMissingTagsFormat, strings.Join(requiredTags, " "))
}

// retryPhrase renders the remaining wait as "Try again in H hours M minutes",
// dropping the hours part when the wait is under an hour.
func retryPhrase(wait time.Duration) string {
	hours := int(wait.Hours())
	minutes := int(wait.Minutes()) - hours*60

	phrase := "Try again in"
	if hours == 0 {
		return phrase + pluralUnit(minutes, "minute")
	}
	phrase += pluralUnit(hours, "hour")
	if minutes > 0 {
		phrase += pluralUnit(minutes, "minute")
	}
	return phrase
}

func pluralUnit(value int, unit string) string {
	if value == 1 {
		return fmt.Sprintf(" %d %s", value, unit)
	}
	return fmt.Sprintf(" %d %ss", value, unit)
}
