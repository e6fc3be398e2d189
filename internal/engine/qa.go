package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/promptlyagentai/promptlyagent-sub003/internal/config"
)

// Validator scores a synthesized answer against the original query using the
// QA agent. Review is advisory: a validator error or a missing QA agent never
// fails the turn, it only skips review.
type Validator struct {
	invoker *Invoker
	catalog Catalog
	cfg     config.EngineConfig
}

func NewValidator(invoker *Invoker, catalog Catalog, cfg config.EngineConfig) *Validator {
	return &Validator{invoker: invoker, catalog: catalog, cfg: cfg}
}

// Review returns the verdict for an answer, or nil when review is
// unavailable. The verdict's status is always recomputed from the configured
// thresholds; the model's own status field is ignored.
func (v *Validator) Review(ctx context.Context, tctx TurnContext, query, answer string) *QAVerdict {
	agents := v.catalog.ByType(AgentQA)
	if len(agents) == 0 {
		return nil
	}
	agent := agents[0]

	res, err := v.invoker.Invoke(ctx, agent, tctx, buildReviewInput(query, answer))
	if err != nil {
		slog.Warn("qa review failed", "agent", agent.ID, "error", err)
		return nil
	}

	verdict, err := parseVerdict(res.Output)
	if err != nil {
		slog.Warn("qa verdict unparseable", "agent", agent.ID, "error", err)
		return nil
	}

	if verdictPasses(v.cfg.Thresholds, verdict) {
		verdict.Status = VerdictPass
	} else {
		verdict.Status = VerdictFail
	}

	slog.Info("qa verdict",
		"status", verdict.Status,
		"completeness", verdict.Completeness,
		"depth", verdict.Depth,
		"accuracy", verdict.Accuracy,
		"coherence", verdict.Coherence,
		"gaps", len(verdict.Gaps))
	return verdict
}

func buildReviewInput(query, answer string) string {
	var sb strings.Builder
	sb.WriteString("Review the answer below against the original query.\n\nOriginal query:\n")
	sb.WriteString(query)
	sb.WriteString("\n\nAnswer:\n")
	sb.WriteString(answer)
	sb.WriteString(`

Extract the query's explicit and implicit requirements, check each against the
answer, and score the answer. Respond with a single JSON object:
{
  "status": "pass" | "fail",
  "completeness": 0-100,
  "depth": 0-100,
  "accuracy": 0-100,
  "coherence": 0-100,
  "requirements": [{"requirement": "...", "addressed": true, "evidence": "..."}],
  "gaps": [{"missing": "...", "importance": "critical" | "important" | "nice-to-have", "impact": "...", "suggested_query": "...", "suggested_agent_type": "..."}]
}

Report a gap for every requirement the answer misses or covers too thinly, with
a suggested_query that would close it. Output only the JSON object.`)
	return sb.String()
}

func parseVerdict(output string) (*QAVerdict, error) {
	raw, err := extractJSONObject(output)
	if err != nil {
		return nil, err
	}

	var verdict QAVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}

	for _, p := range []*int{&verdict.Completeness, &verdict.Depth, &verdict.Accuracy, &verdict.Coherence} {
		if *p < 0 {
			*p = 0
		}
		if *p > 100 {
			*p = 100
		}
	}
	return &verdict, nil
}

// verdictPasses applies the configured score floors. Any critical gap fails
// the verdict regardless of scores.
func verdictPasses(th config.ThresholdsConfig, v *QAVerdict) bool {
	if v.Completeness < th.Completeness {
		return false
	}
	if v.Depth < th.Depth {
		return false
	}
	if v.Accuracy < th.Accuracy {
		return false
	}
	if v.Coherence < th.Coherence {
		return false
	}
	return len(v.CriticalGaps()) == 0
}

// gapsEqual reports whether two verdicts name the same set of gaps. The
// review loop treats an unchanged gap set as stagnation and stops early
// instead of burning follow-up rounds on the same complaints.
func gapsEqual(a, b []Gap) bool {
	if len(a) != len(b) {
		return false
	}
	as := make([]string, len(a))
	bs := make([]string, len(b))
	for i := range a {
		as[i] = strings.ToLower(strings.TrimSpace(a[i].Missing))
	}
	for i := range b {
		bs[i] = strings.ToLower(strings.TrimSpace(b[i].Missing))
	}
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// followUpGaps selects the gaps worth another research round, critical first.
// nice-to-have gaps never trigger follow-ups.
func followUpGaps(v *QAVerdict) []Gap {
	var critical, important []Gap
	for _, g := range v.Gaps {
		switch g.Importance {
		case GapCritical:
			critical = append(critical, g)
		case GapImportant:
			important = append(important, g)
		}
	}
	return append(critical, important...)
}
