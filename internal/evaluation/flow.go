package evaluation

// FlowMetrics describe how a conversation is developing across turns.
type FlowMetrics struct {
	TopicContinuity float64 `json:"topic_continuity"`
	ResponseVariety float64 `json:"response_variety"`
	Progression     float64 `json:"progression"`
}

const (
	flowTopicWindow   = 3
	flowVarietyWindow = 5
	// progressionTurns is the conversation length at which progression
	// saturates.
	progressionTurns = 100
)

// Flow computes flow metrics for current given the earlier exchanges.
// With fewer than two earlier exchanges continuity and variety are neutral.
func Flow(history []Exchange, current Exchange) FlowMetrics {
	m := FlowMetrics{
		TopicContinuity: 0.5,
		ResponseVariety: 0.5,
		Progression:     progression(len(history) + 1),
	}
	if len(history) < 2 {
		return m
	}

	recent := tail(history, flowTopicWindow)
	topics := make(map[string]struct{})
	for _, h := range recent {
		for w := range contentWords(h.UserText) {
			topics[w] = struct{}{}
		}
	}
	if cur := contentWords(current.UserText); len(cur) > 0 {
		hits := 0
		for w := range cur {
			if _, ok := topics[w]; ok {
				hits++
			}
		}
		m.TopicContinuity = float64(hits) / float64(len(cur))
	}

	replies := make([]string, 0, flowVarietyWindow+1)
	for _, h := range tail(history, flowVarietyWindow) {
		replies = append(replies, h.AgentReply)
	}
	replies = append(replies, current.AgentReply)

	var simSum float64
	var pairs int
	for i := range replies {
		for j := i + 1; j < len(replies); j++ {
			simSum += jaccard(replies[i], replies[j])
			pairs++
		}
	}
	if pairs > 0 {
		m.ResponseVariety = clamp(1 - simSum/float64(pairs))
	}
	return m
}

func progression(turns int) float64 {
	if turns >= progressionTurns {
		return 1
	}
	return float64(turns) / progressionTurns
}

func tail(h []Exchange, n int) []Exchange {
	if len(h) <= n {
		return h
	}
	return h[len(h)-n:]
}
