package recall_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mnemolabs/mnemo/pkg/memory"
	"github.com/mnemolabs/mnemo/pkg/recall"
)

var _ = Describe("Score", func() {
	var now time.Time

	BeforeEach(func() {
		now = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	})

	ephemeralAt := func(age time.Duration) *memory.Memory {
		return &memory.Memory{
			Klass:        memory.KlassEphemeral,
			Importance:   0.3,
			HalflifeDays: 7,
			CreatedAt:    now.Add(-age),
		}
	}

	It("halves an ephemeral memory's score every seven days", func() {
		// 0.3 * exp(-ln2/7 * age_days)
		Expect(recall.Score(ephemeralAt(0), now, "")).To(BeNumerically("~", 0.3, 1e-9))
		Expect(recall.Score(ephemeralAt(7*24*time.Hour), now, "")).To(BeNumerically("~", 0.15, 1e-9))
		Expect(recall.Score(ephemeralAt(10*24*time.Hour), now, "")).To(BeNumerically("~", 0.1115, 0.0005))
		Expect(recall.Score(ephemeralAt(20*24*time.Hour), now, "")).To(BeNumerically("~", 0.0414, 0.0005))
	})

	It("treats future timestamps as zero age", func() {
		m := ephemeralAt(-time.Hour)
		Expect(recall.Score(m, now, "")).To(BeNumerically("~", 0.3, 1e-9))
	})

	It("clamps importance plus manual boost to [0, 1]", func() {
		m := &memory.Memory{Importance: 0.9, ManualBoost: 0.5, HalflifeDays: 365, CreatedAt: now}
		Expect(recall.Score(m, now, "")).To(BeNumerically("~", 1.0, 1e-9))

		m = &memory.Memory{Importance: 0.3, ManualBoost: -0.5, HalflifeDays: 365, CreatedAt: now}
		Expect(recall.Score(m, now, "")).To(BeZero())
	})

	It("boosts frequently recalled memories logarithmically", func() {
		base := &memory.Memory{Importance: 0.5, HalflifeDays: 90, CreatedAt: now}
		hit := &memory.Memory{Importance: 0.5, HalflifeDays: 90, CreatedAt: now, Hits: 5}
		many := &memory.Memory{Importance: 0.5, HalflifeDays: 90, CreatedAt: now, Hits: 50}

		s0 := recall.Score(base, now, "")
		s5 := recall.Score(hit, now, "")
		s50 := recall.Score(many, now, "")

		Expect(s5).To(BeNumerically(">", s0))
		Expect(s50).To(BeNumerically(">", s5))
		// Log growth: going 5 -> 50 hits gains less than 10x.
		Expect(s50 / s5).To(BeNumerically("<", 2))
	})

	It("measures decay from last access, not creation, once accessed", func() {
		stale := ephemeralAt(20 * 24 * time.Hour)

		fresh := ephemeralAt(20 * 24 * time.Hour)
		accessed := now.Add(-24 * time.Hour)
		fresh.LastAccessAt = &accessed
		fresh.Hits = 1

		Expect(recall.Score(fresh, now, "")).To(BeNumerically(">", recall.Score(stale, now, "")))
	})

	Context("mood weighting", func() {
		var conflict, bond, fact *memory.Memory

		BeforeEach(func() {
			conflict = &memory.Memory{Klass: memory.KlassConflict, Importance: 0.75, HalflifeDays: 120, CreatedAt: now}
			bond = &memory.Memory{Klass: memory.KlassBond, Importance: 0.85, HalflifeDays: 270, CreatedAt: now}
			fact = &memory.Memory{Klass: memory.KlassFact, Importance: 0.6, HalflifeDays: 90, CreatedAt: now}
		})

		It("boosts conflict memories 1.5x under a negative mood", func() {
			neutral := recall.Score(conflict, now, "")
			sad := recall.Score(conflict, now, "sad")
			Expect(sad).To(BeNumerically("~", neutral*1.5, 1e-9))
		})

		It("boosts bond memories 1.3x under a negative mood", func() {
			neutral := recall.Score(bond, now, "")
			anxious := recall.Score(bond, now, "anxious")
			Expect(anxious).To(BeNumerically("~", neutral*1.3, 1e-9))
		})

		It("leaves other klasses unweighted under a negative mood", func() {
			Expect(recall.Score(fact, now, "angry")).To(Equal(recall.Score(fact, now, "")))
		})

		It("ignores positive and unknown moods", func() {
			Expect(recall.Score(conflict, now, "happy")).To(Equal(recall.Score(conflict, now, "")))
			Expect(recall.Score(conflict, now, "")).To(Equal(recall.Score(conflict, now, "")))
		})
	})
})
