package duel

import (
	"encoding/json"
	"fmt"
	"strings"
)

// VoteValue is the payload baked into each voting button. It comes back
// verbatim in the interaction callback when someone clicks.
type VoteValue struct {
	DuelID  int64  `json:"duelId"`
	Variant string `json:"variant"`
}

// IntroText opens the duel in the thread before the two responses land.
func IntroText(userID string) string {
	return fmt.Sprintf("<@%s> Here are two different responses to your question. Please vote for the one you prefer!", userID)
}

// ConfirmationText acknowledges a recorded vote.
func ConfirmationText(voterID, variant string) string {
	return fmt.Sprintf("<@%s> Thanks for your feedback! You voted for Response %s.", voterID, variant)
}

// ResponseBlocks renders one variant's response with its voting button.
func ResponseBlocks(text, variant string, duelID int64) (json.RawMessage, error) {
	value, err := json.Marshal(VoteValue{DuelID: duelID, Variant: variant})
	if err != nil {
		return nil, err
	}

	blocks := []map[string]interface{}{
		{
			"type": "section",
			"text": map[string]interface{}{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*Response %s:*\n%s", variant, text),
			},
		},
		{
			"type": "actions",
			"elements": []map[string]interface{}{
				{
					"type": "button",
					"text": map[string]interface{}{
						"type":  "plain_text",
						"text":  "👍 I like this one better",
						"emoji": true,
					},
					"action_id": "vote_" + strings.ToLower(variant),
					"value":     string(value),
					"style":     "primary",
				},
			},
		},
		{
			"type": "divider",
		},
	}

	return json.Marshal(blocks)
}
