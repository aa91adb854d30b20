package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/sjawhar/diarist/internal/llm"
)

// MaxTokens is the completion budget report clients should be built with.
const MaxTokens = 4096

type IdempotencyStore interface {
	ClaimReportRequest(runID, promptHash string) (bool, error)
}

// Generator writes a sectioned hearing report from a readable transcript.
type Generator struct {
	client llm.Client
	store  IdempotencyStore
	sleep  func(time.Duration)
}

func New(client llm.Client, store IdempotencyStore) *Generator {
	return &Generator{
		client: client,
		store:  store,
		sleep:  time.Sleep,
	}
}

// Generate returns "" with no error when the transcript is too short to
// report on or a report for the same run and transcript was already claimed.
func (g *Generator) Generate(ctx context.Context, runID, transcript string) (string, error) {
	if len(strings.Fields(transcript)) < 20 {
		return "", nil
	}

	prompt := Prompt(transcript)
	hash := sha256.Sum256([]byte(prompt))
	promptHash := hex.EncodeToString(hash[:])

	if g.store != nil {
		claimed, err := g.store.ClaimReportRequest(runID, promptHash)
		if err != nil {
			return "", fmt.Errorf("claim report request: %w", err)
		}
		if !claimed {
			return "", nil
		}
	}

	messages := []llm.Message{{Role: "user", Content: prompt}}

	backoff := []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}
	var lastErr error
	for attempt := range backoff {
		result, err := g.client.Complete(ctx, messages)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < len(backoff)-1 {
			g.sleep(backoff[attempt])
		}
	}
	return "", fmt.Errorf("report failed after retries: %w", lastErr)
}

func Prompt(transcript string) string {
	return fmt.Sprintf(`You are an expert legislative analyst. Based on the following full, diarized transcript of a hearing, generate a comprehensive report. The report must include the following sections, each with a clear numbered heading:
1. **Executive Summary**: A neutral, one-paragraph summary of the entire proceeding, including the main purpose and key events.
2. **Bills Discussed**: A bulleted list of all bill numbers mentioned (e.g., S-1234, A-5678) along with a brief, one-sentence description of each bill's purpose.
3. **Points of Conflict**: A bulleted list summarizing the main points of disagreement between different speakers or groups. For each point, briefly state the opposing views.
4. **Legislator Concerns**: A bulleted list summarizing the primary concerns or questions raised by the legislators (Senators, Assemblymembers) during the discussion.
5. **Final Outcome**: A concise summary of the outcome for each bill discussed, such as whether it was passed, held, or advanced for a second reading.
6. **Memorable Quote**: One single, impactful quote from the transcript that best captures the essence of the discussion.

Full Transcript:
<transcript>
%s
</transcript>`, transcript)
}
