package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/quorumlabs/quorum/pkg/types"
)

// RenderTranscript renders a session as a human-readable markdown document.
// The same rendering is used for the live mirror and the archive snapshot.
func RenderTranscript(session *types.Session) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Deliberation: %s\n\n", session.Topic)
	fmt.Fprintf(&b, "- Session: `%s`\n", session.ID)
	fmt.Fprintf(&b, "- Status: %s\n", session.Status)
	fmt.Fprintf(&b, "- Rounds: %d/%d\n", session.CurrentRound, session.MaxRounds)
	fmt.Fprintf(&b, "- Speakers: %s\n", strings.Join(session.Speakers, ", "))
	fmt.Fprintf(&b, "- Created: %s\n\n", time.UnixMilli(session.Time.Created).Format(time.RFC3339))

	lastRound := 0
	for _, turn := range session.Log {
		if turn.Round != lastRound {
			fmt.Fprintf(&b, "## Round %d\n\n", turn.Round)
			lastRound = turn.Round
		}
		fmt.Fprintf(&b, "### %s\n\n%s\n\n", turn.Speaker, turn.Content)
		if turn.FallbackReason != "" {
			fmt.Fprintf(&b, "_(delivered via %s after fallback: %s)_\n\n", turn.ChannelUsed, turn.FallbackReason)
		}
	}

	if session.Synthesis != "" {
		fmt.Fprintf(&b, "## Synthesis\n\n%s\n", session.Synthesis)
	} else if session.Status == types.StatusAwaitingSynthesis {
		b.WriteString("## Synthesis\n\n_(awaiting synthesis)_\n")
	}

	return b.String()
}
