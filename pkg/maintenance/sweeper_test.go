package maintenance_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/mnemolabs/mnemo/pkg/eventstream"
	"github.com/mnemolabs/mnemo/pkg/maintenance"
	"github.com/mnemolabs/mnemo/pkg/memory"
	testutils "github.com/mnemolabs/mnemo/pkg/utils/test"
)

var _ = Describe("Sweeper", func() {
	var (
		store   *testutils.MockStore
		events  *testutils.MockPublisher
		sweeper *maintenance.Sweeper
		ctx     context.Context
	)

	BeforeEach(func() {
		store = testutils.NewMockStore()
		events = testutils.NewMockPublisher()
		sweeper = maintenance.NewSweeper(store, maintenance.Config{}, events, zap.NewNop())
		ctx = context.Background()
	})

	ephemeralAged := func(days int) *memory.Memory {
		return store.Seed(memory.Memory{
			Content:      "short-lived note",
			Klass:        memory.KlassEphemeral,
			Importance:   0.3,
			HalflifeDays: 7,
			CreatedAt:    time.Now().AddDate(0, 0, -days),
		})
	}

	Describe("CleanupExpired", func() {
		It("leaves a ten-day-old ephemeral memory untouched", func() {
			m := ephemeralAged(10)

			evicted, err := sweeper.CleanupExpired(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(evicted).To(BeZero())
			Expect(store.Memories[m.ID].TombstonedAt).To(BeNil())
		})

		It("soft-deletes a twenty-day-old ephemeral memory", func() {
			m := ephemeralAged(20)

			evicted, err := sweeper.CleanupExpired(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(evicted).To(Equal(1))
			Expect(store.Memories[m.ID].TombstonedAt).NotTo(BeNil())

			emitted := events.OfType(eventstream.EventMemoryEvicted)
			Expect(emitted).To(HaveLen(1))
			Expect(emitted[0].MemoryID).To(Equal(m.ID))
		})

		It("never evicts long-lived klasses however decayed", func() {
			store.Seed(memory.Memory{
				Content:      "childhood home was in osaka",
				Klass:        memory.KlassIdentity,
				Importance:   0.9,
				HalflifeDays: 365,
				CreatedAt:    time.Now().AddDate(-20, 0, 0),
			})

			evicted, err := sweeper.CleanupExpired(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(evicted).To(BeZero())
		})

		It("spares a decayed memory kept alive by recalls", func() {
			m := ephemeralAged(20)
			accessed := time.Now().AddDate(0, 0, -1)
			store.Memories[m.ID].LastAccessAt = &accessed
			store.Memories[m.ID].Hits = 3

			evicted, err := sweeper.CleanupExpired(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(evicted).To(BeZero())
		})
	})

	Describe("MergeSimilar", func() {
		embedded := func(content string, embedding []float32, age time.Duration) *memory.Memory {
			return store.Seed(memory.Memory{
				Content:      content,
				Embedding:    embedding,
				Klass:        memory.KlassFact,
				Importance:   0.6,
				HalflifeDays: 90,
				CreatedAt:    time.Now().Add(-age),
			})
		}

		It("tombstones the older member of a duplicate pair, never both", func() {
			older := embedded("likes spicy ramen", []float32{1, 0, 0}, 48*time.Hour)
			newer := embedded("loves spicy ramen", []float32{0.99, 0.1, 0}, time.Hour)

			merged, err := sweeper.MergeSimilar(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(merged).To(Equal(1))
			Expect(store.Memories[older.ID].TombstonedAt).NotTo(BeNil())
			Expect(store.Memories[newer.ID].TombstonedAt).To(BeNil())

			emitted := events.OfType(eventstream.EventMemoriesMerged)
			Expect(emitted).To(HaveLen(1))
			Expect(emitted[0].MemoryID).To(Equal(older.ID))
			Expect(emitted[0].KeptID).To(Equal(newer.ID))
		})

		It("leaves dissimilar pairs alone", func() {
			embedded("likes spicy ramen", []float32{1, 0, 0}, 48*time.Hour)
			embedded("afraid of thunderstorms", []float32{0, 1, 0}, time.Hour)

			merged, err := sweeper.MergeSimilar(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(merged).To(BeZero())
		})

		It("resolves each memory at most once per pass", func() {
			a := embedded("fact a", []float32{1, 0, 0}, 72*time.Hour)
			b := embedded("fact b", []float32{0.999, 0.01, 0}, 48*time.Hour)
			c := embedded("fact c", []float32{0.998, 0.02, 0}, 24*time.Hour)

			merged, err := sweeper.MergeSimilar(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(merged).To(Equal(1))

			tombstoned := 0
			for _, id := range []int64{a.ID, b.ID, c.ID} {
				if store.Memories[id].TombstonedAt != nil {
					tombstoned++
				}
			}
			Expect(tombstoned).To(Equal(1))
		})

		It("breaks creation-time ties by keeping the higher id", func() {
			created := time.Now().Add(-time.Hour)
			a := store.Seed(memory.Memory{Content: "same moment a", Embedding: []float32{1, 0, 0}, CreatedAt: created})
			b := store.Seed(memory.Memory{Content: "same moment b", Embedding: []float32{1, 0, 0}, CreatedAt: created})

			merged, err := sweeper.MergeSimilar(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(merged).To(Equal(1))
			Expect(store.Memories[a.ID].TombstonedAt).NotTo(BeNil())
			Expect(store.Memories[b.ID].TombstonedAt).To(BeNil())
		})
	})

	Describe("CleanupTrash", func() {
		tombstonedAged := func(days int) *memory.Memory {
			at := time.Now().AddDate(0, 0, -days)
			m := store.Seed(memory.Memory{
				Content:   "trashed",
				Klass:     memory.KlassFact,
				CreatedAt: at.AddDate(0, 0, -1),
			})
			m.TombstonedAt = &at
			store.Memories[m.ID].TombstonedAt = &at
			return m
		}

		It("reaps tombstones past the retention window and keeps newer ones", func() {
			old := tombstonedAged(31)
			recent := tombstonedAged(5)

			reaped, err := sweeper.CleanupTrash(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(reaped).To(Equal(1))
			Expect(store.Memories).NotTo(HaveKey(old.ID))
			Expect(store.Memories).To(HaveKey(recent.ID))

			emitted := events.OfType(eventstream.EventTrashReaped)
			Expect(emitted).To(HaveLen(1))
			Expect(emitted[0].Count).To(Equal(1))
		})

		It("emits nothing when no tombstones expired", func() {
			tombstonedAged(5)

			reaped, err := sweeper.CleanupTrash(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(reaped).To(BeZero())
			Expect(events.OfType(eventstream.EventTrashReaped)).To(BeEmpty())
		})
	})

	Describe("RunAll", func() {
		It("runs all three subtasks and reports counts", func() {
			ephemeralAged(20)

			report := sweeper.RunAll(ctx)
			Expect(report.Evicted).To(Equal(1))
			Expect(report.Merged).To(BeZero())
			Expect(report.Reaped).To(BeZero())
			Expect(report.Failures).To(BeEmpty())
		})

		It("records subtask failures without aborting the sweep", func() {
			store.Err = context.DeadlineExceeded

			report := sweeper.RunAll(ctx)
			Expect(report.Failures).To(HaveLen(3))
			Expect(report.Failures[0]).To(ContainSubstring("cleanup_expired"))
			Expect(report.Failures[1]).To(ContainSubstring("merge_similar"))
			Expect(report.Failures[2]).To(ContainSubstring("cleanup_trash"))
		})
	})
})
