package recall

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mnemolabs/mnemo/pkg/llm"
	"github.com/mnemolabs/mnemo/pkg/memory"
)

const rerankSystemPrompt = `You rank memory snippets by relevance to a query.
Reply with a JSON array of zero-based indices of the most relevant snippets,
best first, e.g. [2,0,5]. Reply with the JSON array only.`

// rerank asks the LLM to order the candidate set against the query and maps
// the returned indices back to candidates. Invalid and duplicate indices are
// skipped; if nothing usable comes back, the first PrimaryCutoff candidates
// are used instead.
func (r *Retriever) rerank(ctx context.Context, query string, candidates []memory.Memory, topN int) []memory.Memory {
	fallback := candidates
	if len(fallback) > PrimaryCutoff {
		fallback = fallback[:PrimaryCutoff]
	}

	if r.reranker == nil {
		return fallback
	}
	if topN > len(candidates) {
		topN = len(candidates)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\nSnippets:\n", query)
	for i, m := range candidates {
		fmt.Fprintf(&sb, "%d: %s\n", i, m.Content)
	}
	fmt.Fprintf(&sb, "\nReturn the indices of the %d most relevant snippets.", topN)

	completion, err := r.reranker.Complete(ctx, llm.CompletionRequest{
		System: rerankSystemPrompt,
		Prompt: sb.String(),
		JSON:   true,
	})
	if err != nil {
		r.logger.Warn("re-rank failed, using top candidates", zap.Error(err))
		return fallback
	}

	var indices []int
	if err := llm.DecodeJSON(completion, &indices); err != nil {
		r.logger.Warn("re-rank returned unusable output", zap.Error(err))
		return fallback
	}

	seen := make(map[int]bool)
	var ranked []memory.Memory
	for _, idx := range indices {
		if idx < 0 || idx >= len(candidates) || seen[idx] {
			continue
		}
		seen[idx] = true
		ranked = append(ranked, candidates[idx])
		if len(ranked) >= topN {
			break
		}
	}

	if len(ranked) == 0 {
		return fallback
	}
	return ranked
}
