package recall_test

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/mnemolabs/mnemo/pkg/memory"
	"github.com/mnemolabs/mnemo/pkg/recall"
	testutils "github.com/mnemolabs/mnemo/pkg/utils/test"
)

var _ = Describe("Retriever", func() {
	var (
		store    *testutils.MockStore
		embedder *testutils.MockEmbedder
		reranker *testutils.MockCompleter
		ctx      context.Context
	)

	BeforeEach(func() {
		store = testutils.NewMockStore()
		embedder = testutils.NewMockEmbedder()
		reranker = testutils.NewMockCompleter()
		ctx = context.Background()
	})

	newRetriever := func() *recall.Retriever {
		return recall.NewRetriever(store, embedder, reranker, zap.NewNop())
	}

	seedFact := func(content string, embedding []float32, tags memory.Tags) *memory.Memory {
		return store.Seed(memory.Memory{
			Content:      content,
			Embedding:    embedding,
			Tags:         tags,
			Klass:        memory.KlassFact,
			Importance:   0.6,
			HalflifeDays: 90,
			Source:       "aria",
			CreatedAt:    time.Now().Add(-24 * time.Hour),
		})
	}

	It("returns an empty result when nothing matches", func() {
		result, err := newRetriever().Recall(ctx, recall.Request{Query: "anything"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Items).To(BeEmpty())
		Expect(result.Count).To(BeZero())
		Expect(result.Query).To(Equal("anything"))
	})

	It("unions the vector and lexical paths without duplicates", func() {
		embedder.Embeddings["ramen"] = []float32{1, 0, 0}
		both := seedFact("loves ramen nights", []float32{0.98, 0.2, 0}, nil)
		vectorOnly := seedFact("favorite noodle dish", []float32{0.95, 0.31, 0}, nil)
		lexicalOnly := seedFact("ramen place downtown", []float32{0, 1, 0}, nil)

		result, err := newRetriever().Recall(ctx, recall.Request{Query: "ramen"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Count).To(Equal(3))

		ids := make([]int64, 0, len(result.Items))
		for _, item := range result.Items {
			ids = append(ids, item.ID)
		}
		Expect(ids).To(ConsistOf(both.ID, vectorOnly.ID, lexicalOnly.ID))
	})

	It("falls back to lexical-only when query embedding fails", func() {
		embedder.FailAll = true
		seedFact("ramen place downtown", nil, nil)

		result, err := newRetriever().Recall(ctx, recall.Request{Query: "ramen"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Count).To(Equal(1))
	})

	It("excludes vector matches below the similarity floor", func() {
		embedder.Embeddings["query"] = []float32{1, 0, 0}
		seedFact("barely related", []float32{0.3, 0.95, 0}, nil)

		result, err := newRetriever().Recall(ctx, recall.Request{Query: "query"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Items).To(BeEmpty())
	})

	It("bumps hits and last access on recalled memories", func() {
		seedFact("ramen place downtown", nil, nil)

		result, err := newRetriever().Recall(ctx, recall.Request{Query: "ramen"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Count).To(Equal(1))

		m := store.Memories[result.Items[0].ID]
		Expect(m.Hits).To(Equal(1))
		Expect(m.LastAccessAt).NotTo(BeNil())
	})

	It("orders the primary set by decayed score descending", func() {
		old := store.Seed(memory.Memory{
			Content:      "ramen shop from last year",
			Klass:        memory.KlassEphemeral,
			Importance:   0.3,
			HalflifeDays: 7,
			CreatedAt:    time.Now().Add(-30 * 24 * time.Hour),
		})
		fresh := store.Seed(memory.Memory{
			Content:      "new ramen obsession",
			Klass:        memory.KlassIdentity,
			Importance:   0.9,
			HalflifeDays: 365,
			CreatedAt:    time.Now().Add(-time.Hour),
		})

		result, err := newRetriever().Recall(ctx, recall.Request{Query: "ramen"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Count).To(Equal(2))
		Expect(result.Items[0].ID).To(Equal(fresh.ID))
		Expect(result.Items[1].ID).To(Equal(old.ID))
		Expect(result.Items[0].Score).To(BeNumerically(">", result.Items[1].Score))
	})

	Context("re-ranking", func() {
		BeforeEach(func() {
			for i := 0; i < 8; i++ {
				seedFact(fmt.Sprintf("ramen fact number %d", i), nil, nil)
			}
		})

		It("asks the model to pick when the union exceeds the cutoff", func() {
			reranker.Responses = []string{"[7, 2, 0]"}

			result, err := newRetriever().Recall(ctx, recall.Request{Query: "ramen"})
			Expect(err).NotTo(HaveOccurred())
			Expect(reranker.Requests).To(HaveLen(1))
			Expect(result.Count).To(Equal(3))

			contents := []string{result.Items[0].Content, result.Items[1].Content, result.Items[2].Content}
			Expect(contents).To(ConsistOf(
				"ramen fact number 7",
				"ramen fact number 2",
				"ramen fact number 0",
			))
		})

		It("skips invalid and duplicate indices", func() {
			reranker.Responses = []string{"[42, -1, 3, 3, 1]"}

			result, err := newRetriever().Recall(ctx, recall.Request{Query: "ramen"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Count).To(Equal(2))
		})

		It("falls back to the first candidates when the model fails", func() {
			reranker.Err = fmt.Errorf("model unavailable")

			result, err := newRetriever().Recall(ctx, recall.Request{Query: "ramen"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Count).To(Equal(recall.PrimaryCutoff))
		})

		It("falls back when the model returns garbage", func() {
			reranker.Responses = []string{"I think the best ones are the spicy ones"}

			result, err := newRetriever().Recall(ctx, recall.Request{Query: "ramen"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Count).To(Equal(recall.PrimaryCutoff))
		})

		It("tolerates code-fenced JSON from the model", func() {
			reranker.Responses = []string{"```json\n[1, 0]\n```"}

			result, err := newRetriever().Recall(ctx, recall.Request{Query: "ramen"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Count).To(Equal(2))
		})

		It("skips re-ranking entirely for small unions", func() {
			store = testutils.NewMockStore()
			seedFact("ramen place downtown", nil, nil)

			_, err := recall.NewRetriever(store, embedder, reranker, zap.NewNop()).
				Recall(ctx, recall.Request{Query: "ramen"})
			Expect(err).NotTo(HaveOccurred())
			Expect(reranker.Requests).To(BeEmpty())
		})
	})

	Context("tag expansion", func() {
		It("widens the result set through shared keywords", func() {
			primary := seedFact("ramen night with mira", nil, memory.Tags{"people": {"mira"}})
			related := seedFact("met at the climbing gym", nil, memory.Tags{"people": {"mira"}, "places": {"gym"}})

			result, err := newRetriever().Recall(ctx, recall.Request{Query: "ramen"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Count).To(Equal(2))
			Expect(result.Items[0].ID).To(Equal(primary.ID))
			Expect(result.Items[1].ID).To(Equal(related.ID))
		})

		It("caps expansion at the overall result limit", func() {
			for i := 0; i < recall.MaxResults; i++ {
				seedFact(fmt.Sprintf("ramen fact %d", i), nil, memory.Tags{"food": {"ramen-tag"}})
			}
			for i := 0; i < 5; i++ {
				seedFact(fmt.Sprintf("unrelated note %d", i), nil, memory.Tags{"food": {"ramen-tag"}})
			}
			reranker.Fallback = "[0,1,2,3,4,5,6,7]"

			result, err := newRetriever().Recall(ctx, recall.Request{Query: "ramen", Limit: recall.MaxResults})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Count).To(BeNumerically("<=", recall.MaxResults))
		})

		It("skips expansion when the primary set has no tags", func() {
			seedFact("plain fact about ramen", nil, nil)
			seedFact("tagged but unrelated", nil, memory.Tags{"misc": {"something"}})

			result, err := newRetriever().Recall(ctx, recall.Request{Query: "ramen"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Count).To(Equal(1))
		})
	})
})
