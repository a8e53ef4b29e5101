package ai

// ReviewCandidate is one sizing proposal submitted for review.
type ReviewCandidate struct {
	Ticker   string  `json:"ticker"`
	Entry    float64 `json:"entry"`
	Stop     float64 `json:"stop"`
	TP1      float64 `json:"tp1"` // 1.5R
	TP2      float64 `json:"tp2"` // 3R
	Shares   int64   `json:"shares"`
	Cost     float64 `json:"cost"`
	Limiting string  `json:"limiting_constraint"`
	ADV3m    float64 `json:"adv_3m,omitempty"`
}

// ReviewDecision is the reviewer's verdict on one candidate.
type ReviewDecision struct {
	Ticker     string   `json:"ticker"`
	Allow      bool     `json:"allow"`
	Rank       int      `json:"rank"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

type reviewResponse struct {
	Decisions []ReviewDecision `json:"decisions"`
}
