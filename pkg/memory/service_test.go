package memory_test

import (
	"context"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/mnemolabs/mnemo/pkg/eventstream"
	"github.com/mnemolabs/mnemo/pkg/memory"
	testutils "github.com/mnemolabs/mnemo/pkg/utils/test"
)

var _ = Describe("Service", func() {
	var (
		store    *testutils.MockStore
		embedder *testutils.MockEmbedder
		events   *testutils.MockPublisher
		svc      *memory.Service
		ctx      context.Context
	)

	BeforeEach(func() {
		store = testutils.NewMockStore()
		embedder = testutils.NewMockEmbedder()
		events = testutils.NewMockPublisher()
		svc = memory.NewService(store, embedder, events, zap.NewNop())
		ctx = context.Background()
	})

	Describe("Save", func() {
		It("stores a stamped memory with klass defaults", func() {
			result, err := svc.Save(ctx, memory.SaveRequest{
				Content: "likes spicy ramen",
				Klass:   memory.KlassPreference,
				Tags:    memory.Tags{"food": {"ramen", "spicy"}},
				Source:  "aria",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Error).To(BeEmpty())
			Expect(result.Memory).NotTo(BeNil())

			m := result.Memory
			Expect(m.ID).NotTo(BeZero())
			Expect(m.Content).To(HavePrefix("["))
			Expect(m.Content).To(HaveSuffix("] likes spicy ramen"))
			Expect(m.Klass).To(Equal(memory.KlassPreference))
			Expect(m.Importance).To(BeNumerically("==", 0.65))
			Expect(m.HalflifeDays).To(BeNumerically("==", 120))
			Expect(m.Source).To(Equal("aria"))
			Expect(m.Embedding).NotTo(BeNil())
		})

		It("normalizes an unknown klass to other", func() {
			result, err := svc.Save(ctx, memory.SaveRequest{
				Content: "something",
				Klass:   "nonsense",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Memory.Klass).To(Equal(memory.KlassOther))
			Expect(result.Memory.Importance).To(BeNumerically("==", 0.5))
		})

		It("defaults the source to unknown", func() {
			result, err := svc.Save(ctx, memory.SaveRequest{Content: "no source"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Memory.Source).To(Equal(memory.SourceUnknown))
		})

		It("rejects content over the character limit", func() {
			result, err := svc.Save(ctx, memory.SaveRequest{
				Content: strings.Repeat("x", memory.MaxContentChars+1),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Memory).To(BeNil())
			Expect(result.Error).To(ContainSubstring("120"))
		})

		It("accepts content exactly at the character limit", func() {
			result, err := svc.Save(ctx, memory.SaveRequest{
				Content: strings.Repeat("x", memory.MaxContentChars),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Error).To(BeEmpty())
			Expect(result.Memory).NotTo(BeNil())
		})

		It("counts runes, not bytes, against the limit", func() {
			result, err := svc.Save(ctx, memory.SaveRequest{
				Content: strings.Repeat("ラ", memory.MaxContentChars),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Error).To(BeEmpty())
		})

		It("saves without a vector when embedding fails", func() {
			embedder.FailAll = true
			result, err := svc.Save(ctx, memory.SaveRequest{Content: "embedder is down"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Memory).NotTo(BeNil())
			Expect(result.Memory.Embedding).To(BeNil())
		})

		It("publishes a saved event", func() {
			result, err := svc.Save(ctx, memory.SaveRequest{Content: "eventful"})
			Expect(err).NotTo(HaveOccurred())

			saved := events.OfType(eventstream.EventMemorySaved)
			Expect(saved).To(HaveLen(1))
			Expect(saved[0].MemoryID).To(Equal(result.Memory.ID))
		})

		Context("near-duplicate detection", func() {
			BeforeEach(func() {
				embedder.Embeddings["likes spicy ramen"] = []float32{1, 0, 0}
				embedder.Embeddings["loves spicy ramen"] = []float32{0.99, 0.14, 0}
				embedder.Embeddings["afraid of thunderstorms"] = []float32{0, 1, 0}

				result, err := svc.Save(ctx, memory.SaveRequest{
					Content: "likes spicy ramen",
					Source:  "aria",
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Memory).NotTo(BeNil())
			})

			It("reports the existing memory back to interactive callers", func() {
				result, err := svc.Save(ctx, memory.SaveRequest{
					Content: "loves spicy ramen",
					Source:  "aria",
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Duplicate).To(BeTrue())
				Expect(result.Discarded).To(BeFalse())
				Expect(result.Memory).To(BeNil())
				Expect(result.ExistingID).NotTo(BeZero())
				Expect(result.ExistingContent).To(ContainSubstring("likes spicy ramen"))
			})

			It("silently discards auto-extracted near-duplicates", func() {
				result, err := svc.Save(ctx, memory.SaveRequest{
					Content: "loves spicy ramen",
					Source:  "auto_extract:aria",
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Duplicate).To(BeTrue())
				Expect(result.Discarded).To(BeTrue())
				Expect(result.ExistingContent).To(BeEmpty())
				Expect(store.Memories).To(HaveLen(1))
			})

			It("stores dissimilar content normally", func() {
				result, err := svc.Save(ctx, memory.SaveRequest{
					Content: "afraid of thunderstorms",
					Source:  "aria",
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Duplicate).To(BeFalse())
				Expect(result.Memory).NotTo(BeNil())
				Expect(store.Memories).To(HaveLen(2))
			})

			It("does not dedup against tombstoned memories", func() {
				for id := range store.Memories {
					Expect(store.SetTombstone(ctx, id, time.Now())).To(Succeed())
				}

				result, err := svc.Save(ctx, memory.SaveRequest{
					Content: "loves spicy ramen",
					Source:  "aria",
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Duplicate).To(BeFalse())
				Expect(result.Memory).NotTo(BeNil())
			})
		})
	})

	Describe("Update", func() {
		var saved *memory.Memory

		BeforeEach(func() {
			result, err := svc.Save(ctx, memory.SaveRequest{
				Content: "works at the bakery",
				Klass:   memory.KlassFact,
				Source:  "aria",
			})
			Expect(err).NotTo(HaveOccurred())
			saved = result.Memory
		})

		It("re-stamps and re-embeds on a content edit", func() {
			before := len(embedder.Calls)
			content := "works at the library"

			result, err := svc.Update(ctx, memory.UpdateRequest{
				ID:      saved.ID,
				Source:  "aria",
				Content: &content,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Error).To(BeEmpty())
			Expect(result.Memory.Content).To(HaveSuffix("] works at the library"))
			Expect(len(embedder.Calls)).To(Equal(before + 1))
		})

		It("leaves the embedding alone on a tag-only edit", func() {
			before := len(embedder.Calls)
			tags := memory.Tags{"work": {"library"}}

			result, err := svc.Update(ctx, memory.UpdateRequest{
				ID:     saved.ID,
				Source: "aria",
				Tags:   &tags,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Memory.Tags).To(Equal(tags))
			Expect(result.Memory.Content).To(Equal(saved.Content))
			Expect(len(embedder.Calls)).To(Equal(before))
		})

		It("refuses edits from a different source", func() {
			content := "hijacked"
			result, err := svc.Update(ctx, memory.UpdateRequest{
				ID:      saved.ID,
				Source:  "other-bot",
				Content: &content,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Error).To(ContainSubstring("permission denied"))
			Expect(result.Memory).To(BeNil())
		})

		It("reports a missing memory in the result", func() {
			result, err := svc.Update(ctx, memory.UpdateRequest{ID: 9999, Source: "aria"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Error).To(Equal("memory not found"))
		})

		It("rejects over-length replacement content", func() {
			content := strings.Repeat("y", memory.MaxContentChars+1)
			result, err := svc.Update(ctx, memory.UpdateRequest{
				ID:      saved.ID,
				Source:  "aria",
				Content: &content,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Error).To(ContainSubstring("120"))
		})
	})

	Describe("Delete and Restore", func() {
		var saved *memory.Memory

		BeforeEach(func() {
			result, err := svc.Save(ctx, memory.SaveRequest{
				Content: "to be deleted",
				Source:  "aria",
			})
			Expect(err).NotTo(HaveOccurred())
			saved = result.Memory
		})

		It("tombstones and restores a memory", func() {
			result, err := svc.Delete(ctx, saved.ID, "aria")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Error).To(BeEmpty())

			trash, err := svc.Trash(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(trash).To(HaveLen(1))
			Expect(trash[0].ID).To(Equal(saved.ID))

			result, err = svc.Restore(ctx, saved.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Error).To(BeEmpty())

			trash, err = svc.Trash(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(trash).To(BeEmpty())
		})

		It("allows the extraction pipeline's writes to be deleted by the assistant", func() {
			result, err := svc.Save(ctx, memory.SaveRequest{
				Content: "extracted fact",
				Source:  "auto_extract:aria",
			})
			Expect(err).NotTo(HaveOccurred())

			del, err := svc.Delete(ctx, result.Memory.ID, "aria")
			Expect(err).NotTo(HaveOccurred())
			Expect(del.Error).To(BeEmpty())
		})

		It("refuses deletes from a different source", func() {
			result, err := svc.Delete(ctx, saved.ID, "other-bot")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Error).To(ContainSubstring("permission denied"))
		})

		It("refuses a double delete", func() {
			_, err := svc.Delete(ctx, saved.ID, "aria")
			Expect(err).NotTo(HaveOccurred())

			result, err := svc.Delete(ctx, saved.ID, "aria")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Error).To(Equal("memory already deleted"))
		})

		It("refuses restoring an active memory", func() {
			result, err := svc.Restore(ctx, saved.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Error).To(Equal("memory is not deleted"))
		})

		It("publishes deleted and restored events", func() {
			_, err := svc.Delete(ctx, saved.ID, "aria")
			Expect(err).NotTo(HaveOccurred())
			_, err = svc.Restore(ctx, saved.ID)
			Expect(err).NotTo(HaveOccurred())

			Expect(events.OfType(eventstream.EventMemoryDeleted)).To(HaveLen(1))
			Expect(events.OfType(eventstream.EventMemoryRestored)).To(HaveLen(1))
		})
	})
})
