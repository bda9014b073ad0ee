package coreblock_test

import (
	"context"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/mnemolabs/mnemo/pkg/coreblock"
	"github.com/mnemolabs/mnemo/pkg/eventstream"
	testutils "github.com/mnemolabs/mnemo/pkg/utils/test"
)

// Substrings unique to each system prompt, used to script the mock
// completer per pipeline stage.
const (
	extractionStage = "extract durable"
	relationStage   = "classify their relation"
	mergeStage      = "persistent memory block"
)

var _ = Describe("Consolidator", func() {
	var (
		store  *testutils.MockStore
		llm    *testutils.MockCompleter
		events *testutils.MockPublisher
		cons   *coreblock.Consolidator
		ctx    context.Context
	)

	BeforeEach(func() {
		store = testutils.NewMockStore()
		llm = testutils.NewMockCompleter()
		llm.BySubstring = map[string]string{}
		events = testutils.NewMockPublisher()
		cons = coreblock.NewConsolidator(store, llm, coreblock.Config{}, events, zap.NewNop())
		ctx = context.Background()
	})

	signal := func(summaryID, summary string) *coreblock.SignalReport {
		report, err := cons.CollectSignals(ctx, coreblock.SignalRequest{
			SummaryID:   summaryID,
			AssistantID: "aria",
			Summary:     summary,
		})
		Expect(err).NotTo(HaveOccurred())
		return report
	}

	proposalJSON := func(content string) string {
		return fmt.Sprintf(`[{"block_type": "human", "content": "%s"}]`, content)
	}

	Describe("CollectSignals", func() {
		It("does nothing for an empty summary", func() {
			report := signal("s1", "   ")
			Expect(report.Proposals).To(BeZero())
			Expect(store.Candidates).To(BeEmpty())
			Expect(llm.Requests).To(BeEmpty())
		})

		It("creates a pending candidate for new material", func() {
			llm.BySubstring[extractionStage] = proposalJSON("prefers tea over coffee")
			llm.BySubstring[relationStage] = `{"relation": "different"}`

			report := signal("s1", "They talked about drinks.")
			Expect(report.Proposals).To(Equal(1))
			Expect(report.Created).To(Equal(1))
			Expect(report.Adopted).To(BeZero())

			Expect(store.Candidates).To(HaveLen(1))
			for _, cand := range store.Candidates {
				Expect(cand.Status).To(Equal(coreblock.StatusPending))
				Expect(cand.OccurrenceCount).To(Equal(1))
				Expect(cand.SourceSummaryID).To(Equal("s1"))
			}
		})

		It("adopts a candidate exactly on its second occurrence", func() {
			llm.BySubstring[extractionStage] = proposalJSON("prefers tea over coffee")
			llm.BySubstring[relationStage] = `{"relation": "duplicate"}`

			report := signal("s1", "First mention.")
			Expect(report.Created).To(Equal(1))
			Expect(report.Adopted).To(BeZero())

			report = signal("s2", "Second mention.")
			Expect(report.Adopted).To(Equal(1))
			Expect(report.Created).To(BeZero())

			Expect(store.Candidates).To(HaveLen(1))
			for _, cand := range store.Candidates {
				Expect(cand.Status).To(Equal(coreblock.StatusAdopted))
				Expect(cand.OccurrenceCount).To(Equal(2))
				Expect(cand.SourceSummaryID).To(Equal("s2"))
			}
		})

		It("bumps without re-matching the LLM when normalization catches the repeat", func() {
			llm.BySubstring[extractionStage] = proposalJSON("Prefers   Tea over coffee")
			llm.BySubstring[relationStage] = `{"relation": "different"}`
			signal("s1", "First mention.")

			llm.BySubstring[extractionStage] = proposalJSON("prefers tea over coffee")
			report := signal("s2", "Second mention.")
			Expect(report.Adopted).To(Equal(1))
		})

		It("records a duplicate row when the proposal restates the block", func() {
			Expect(store.InsertCoreBlock(ctx, &coreblock.CoreBlock{
				AssistantID: "aria",
				BlockType:   coreblock.BlockTypeHuman,
				Content:     "Prefers tea over coffee. Works at the bakery.",
				Version:     1,
			})).To(Succeed())

			llm.BySubstring[extractionStage] = proposalJSON("prefers tea over coffee")

			report := signal("s1", "Mentioned tea again.")
			Expect(report.Duplicates).To(Equal(1))
			Expect(report.Created).To(BeZero())

			Expect(store.Candidates).To(HaveLen(1))
			for _, cand := range store.Candidates {
				Expect(cand.Status).To(Equal(coreblock.StatusDuplicate))
			}
		})

		It("treats proposals as new material when classification fails", func() {
			llm.BySubstring[extractionStage] = proposalJSON("first fact")
			llm.BySubstring[relationStage] = "not json at all"
			signal("s1", "First mention.")

			llm.BySubstring[extractionStage] = proposalJSON("second fact")
			report := signal("s2", "Second mention.")
			Expect(report.Created).To(Equal(1))
			Expect(store.Candidates).To(HaveLen(2))
		})

		It("skips the summary entirely when extraction fails", func() {
			llm.Err = fmt.Errorf("model down")

			report := signal("s1", "Anything.")
			Expect(report.Proposals).To(BeZero())
			Expect(store.Candidates).To(BeEmpty())
		})

		It("filters proposals with invalid block types or empty content", func() {
			llm.BySubstring[extractionStage] = `[
				{"block_type": "human", "content": "valid fact"},
				{"block_type": "robot", "content": "invalid type"},
				{"block_type": "persona", "content": "   "}
			]`
			llm.BySubstring[relationStage] = `{"relation": "different"}`

			report := signal("s1", "Mixed bag.")
			Expect(report.Proposals).To(Equal(1))
			Expect(store.Candidates).To(HaveLen(1))
		})
	})

	Describe("RewriteAdopted", func() {
		// adoptFact runs the same proposal through two summaries; the repeat
		// is caught by the normalization fast path and promoted to adopted.
		adoptFact := func(content string) {
			llm.BySubstring[extractionStage] = proposalJSON(content)
			llm.BySubstring[relationStage] = `{"relation": "different"}`
			signal("s-first-"+content, "mention")
			signal("s-second-"+content, "mention again")
		}

		It("creates a version-1 block from adopted candidates when none exists", func() {
			adoptFact("prefers tea over coffee")
			llm.BySubstring[mergeStage] = "Prefers tea over coffee."

			report, err := cons.RewriteAdopted(ctx, "aria")
			Expect(err).NotTo(HaveOccurred())
			Expect(report.BlocksRewritten).To(Equal(1))
			Expect(report.CandidatesProcessed).To(Equal(1))

			block, err := store.GetCoreBlock(ctx, "aria", coreblock.BlockTypeHuman)
			Expect(err).NotTo(HaveOccurred())
			Expect(block).NotTo(BeNil())
			Expect(block.Version).To(Equal(1))
			Expect(block.Content).To(Equal("Prefers tea over coffee."))
		})

		It("leaves zero adopted rows behind", func() {
			adoptFact("prefers tea over coffee")
			llm.BySubstring[mergeStage] = "Prefers tea over coffee."

			_, err := cons.RewriteAdopted(ctx, "aria")
			Expect(err).NotTo(HaveOccurred())

			adopted, err := store.ListAdopted(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(adopted).To(BeEmpty())
		})

		It("snapshots the old content and bumps the version on change", func() {
			Expect(store.InsertCoreBlock(ctx, &coreblock.CoreBlock{
				AssistantID: "aria",
				BlockType:   coreblock.BlockTypeHuman,
				Content:     "Works at the bakery.",
				Version:     3,
			})).To(Succeed())

			adoptFact("prefers tea over coffee")
			llm.BySubstring[mergeStage] = "Works at the bakery. Prefers tea over coffee."

			_, err := cons.RewriteAdopted(ctx, "aria")
			Expect(err).NotTo(HaveOccurred())

			block, err := store.GetCoreBlock(ctx, "aria", coreblock.BlockTypeHuman)
			Expect(err).NotTo(HaveOccurred())
			Expect(block.Version).To(Equal(4))
			Expect(block.Content).To(Equal("Works at the bakery. Prefers tea over coffee."))

			history, err := store.ListHistory(ctx, block.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(1))
			Expect(history[0].Content).To(Equal("Works at the bakery."))
			Expect(history[0].Version).To(Equal(3))
		})

		It("consumes candidates without a version bump when nothing changes", func() {
			Expect(store.InsertCoreBlock(ctx, &coreblock.CoreBlock{
				AssistantID: "aria",
				BlockType:   coreblock.BlockTypeHuman,
				Content:     "Already knows everything relevant.",
				Version:     2,
			})).To(Succeed())

			adoptFact("prefers tea over coffee")
			llm.BySubstring[mergeStage] = "Already knows everything relevant."

			report, err := cons.RewriteAdopted(ctx, "aria")
			Expect(err).NotTo(HaveOccurred())
			Expect(report.BlocksRewritten).To(BeZero())
			Expect(report.CandidatesProcessed).To(Equal(1))

			block, err := store.GetCoreBlock(ctx, "aria", coreblock.BlockTypeHuman)
			Expect(err).NotTo(HaveOccurred())
			Expect(block.Version).To(Equal(2))

			history, err := store.ListHistory(ctx, block.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(BeEmpty())

			adopted, err := store.ListAdopted(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(adopted).To(BeEmpty())
		})

		It("falls back to concatenation when the merge completion fails", func() {
			adoptFact("prefers tea over coffee")
			llm.Err = fmt.Errorf("model down")

			report, err := cons.RewriteAdopted(ctx, "aria")
			Expect(err).NotTo(HaveOccurred())
			Expect(report.BlocksRewritten).To(Equal(1))

			block, err := store.GetCoreBlock(ctx, "aria", coreblock.BlockTypeHuman)
			Expect(err).NotTo(HaveOccurred())
			Expect(block.Content).To(Equal("prefers tea over coffee"))
		})

		It("publishes a rewritten event only when the block changed", func() {
			adoptFact("prefers tea over coffee")
			llm.BySubstring[mergeStage] = "Prefers tea over coffee."

			_, err := cons.RewriteAdopted(ctx, "aria")
			Expect(err).NotTo(HaveOccurred())

			emitted := events.OfType(eventstream.EventCoreBlockRewritten)
			Expect(emitted).To(HaveLen(1))
			Expect(emitted[0].AssistantID).To(Equal("aria"))
			Expect(emitted[0].BlockType).To(Equal("human"))
			Expect(emitted[0].Count).To(Equal(1))
		})

		It("does nothing with no adopted candidates", func() {
			report, err := cons.RewriteAdopted(ctx, "aria")
			Expect(err).NotTo(HaveOccurred())
			Expect(report.BlocksRewritten).To(BeZero())
			Expect(report.CandidatesProcessed).To(BeZero())
		})
	})
})
