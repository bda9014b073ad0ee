package backfill_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/mnemolabs/mnemo/pkg/backfill"
	"github.com/mnemolabs/mnemo/pkg/memory"
	testutils "github.com/mnemolabs/mnemo/pkg/utils/test"
)

var _ = Describe("Backfiller", func() {
	var (
		store    *testutils.MockStore
		embedder *testutils.MockEmbedder
		ctx      context.Context
	)

	// MockStore is not safe for concurrent writers, so every test runs the
	// pool with a single worker.
	newBackfiller := func(c backfill.Config) *backfill.Backfiller {
		c.NumWorkers = 1
		return backfill.NewBackfiller(store, embedder, c, zap.NewNop())
	}

	seed := func(content string, embedding []float32) int64 {
		m := store.Seed(memory.Memory{
			Content:   content,
			Klass:     memory.KlassFact,
			Embedding: embedding,
			CreatedAt: time.Now(),
		})
		return m.ID
	}

	BeforeEach(func() {
		store = testutils.NewMockStore()
		embedder = testutils.NewMockEmbedder()
		ctx = context.Background()
	})

	It("embeds every unembedded memory", func() {
		seed("likes hiking", nil)
		seed("works nights", nil)

		result, err := newBackfiller(backfill.Config{}).Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Scanned).To(Equal(2))
		Expect(result.Embedded).To(Equal(2))
		Expect(result.Failed).To(BeZero())

		for _, m := range store.Memories {
			Expect(m.Embedding).NotTo(BeNil())
		}
	})

	It("leaves memories that already have a vector alone", func() {
		seed("already embedded", []float32{1, 0, 0})
		id := seed("needs a vector", nil)

		result, err := newBackfiller(backfill.Config{}).Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Scanned).To(Equal(1))
		Expect(embedder.Calls).To(HaveLen(1))
		Expect(store.Memories[id].Embedding).NotTo(BeNil())
	})

	It("skips tombstoned memories", func() {
		id := seed("deleted row", nil)
		now := time.Now()
		store.Memories[id].TombstonedAt = &now

		result, err := newBackfiller(backfill.Config{}).Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Scanned).To(BeZero())
		Expect(embedder.Calls).To(BeEmpty())
	})

	It("counts failures and keeps going within the batch", func() {
		seed("likes hiking", nil)
		seed("unembeddable gibberish", nil)
		embedder.FailOn = "gibberish"

		result, err := newBackfiller(backfill.Config{}).Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Embedded).To(Equal(1))
		Expect(result.Failed).To(Equal(1))
	})

	It("stops after a batch with failures instead of retrying forever", func() {
		seed("unembeddable gibberish", nil)
		embedder.FailOn = "gibberish"

		result, err := newBackfiller(backfill.Config{BatchSize: 1}).Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Failed).To(Equal(1))
		Expect(embedder.Calls).To(HaveLen(1))
	})

	It("works through multiple batches", func() {
		for range 5 {
			seed("unembedded fact", nil)
		}

		result, err := newBackfiller(backfill.Config{BatchSize: 2}).Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Scanned).To(Equal(5))
		Expect(result.Embedded).To(Equal(5))
	})

	It("stops before scanning when the context is already cancelled", func() {
		seed("never embedded", nil)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := newBackfiller(backfill.Config{}).Run(cancelled)
		Expect(err).To(MatchError(context.Canceled))
		Expect(embedder.Calls).To(BeEmpty())
	})

	It("hands the run context to embed calls", func() {
		type ctxKey struct{}
		seed("likes hiking", nil)
		tagged := context.WithValue(ctx, ctxKey{}, "run")

		_, err := newBackfiller(backfill.Config{}).Run(tagged)
		Expect(err).NotTo(HaveOccurred())
		Expect(embedder.Contexts).To(HaveLen(1))
		Expect(embedder.Contexts[0].Value(ctxKey{})).To(Equal("run"))
	})

	It("surfaces store errors from the scan", func() {
		store.Err = context.DeadlineExceeded

		_, err := newBackfiller(backfill.Config{}).Run(ctx)
		Expect(err).To(HaveOccurred())
	})

	It("does nothing on an empty store", func() {
		result, err := newBackfiller(backfill.Config{}).Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Scanned).To(BeZero())
		Expect(result.Summary()).To(ContainSubstring("0 scanned"))
	})
})
