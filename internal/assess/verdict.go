package assess

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"deployguard/internal/model"
)

var ErrNoVerdict = errors.New("response does not contain a verdict")

type verdictResponse struct {
	RiskLevel         string  `json:"risk_level"`
	RecommendedAction string  `json:"recommended_action"`
	Rationale         string  `json:"rationale"`
	Confidence        float64 `json:"confidence"`
}

// ParseVerdict extracts a RiskVerdict from raw model output. The service
// sometimes wraps JSON in code fences or prose, so parsing starts at the
// first brace and ends at the matching region's last brace.
func ParseVerdict(raw string) (model.RiskVerdict, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return model.RiskVerdict{}, ErrNoVerdict
	}
	var resp verdictResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &resp); err != nil {
		return model.RiskVerdict{}, fmt.Errorf("malformed verdict: %w", err)
	}

	level := model.RiskLevel(strings.ToUpper(strings.TrimSpace(resp.RiskLevel)))
	if level.Rank() == 0 {
		return model.RiskVerdict{}, fmt.Errorf("unknown risk level %q", resp.RiskLevel)
	}
	var action model.RecommendedAction
	switch strings.ToUpper(strings.TrimSpace(resp.RecommendedAction)) {
	case string(model.RecommendContinue):
		action = model.RecommendContinue
	case string(model.RecommendCanary):
		action = model.RecommendCanary
	case string(model.RecommendRollback):
		action = model.RecommendRollback
	default:
		return model.RiskVerdict{}, fmt.Errorf("unknown recommended action %q", resp.RecommendedAction)
	}

	confidence := resp.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return model.RiskVerdict{
		Level:      level,
		Action:     action,
		Rationale:  strings.TrimSpace(resp.Rationale),
		Confidence: confidence,
		Source:     model.SourceAI,
	}, nil
}
