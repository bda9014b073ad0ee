package memory_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mnemolabs/mnemo/pkg/memory"
)

var _ = Describe("Tags", func() {
	It("flattens keywords across topics, deduplicated, first-seen order", func() {
		tags := memory.Tags{
			"food":   {"ramen", "spicy", "ramen"},
			"people": {"mira", ""},
		}
		keywords := tags.Keywords()
		Expect(keywords).To(HaveLen(3))
		Expect(keywords).To(ConsistOf("ramen", "spicy", "mira"))
	})

	It("returns nothing for empty tags", func() {
		Expect(memory.Tags{}.Keywords()).To(BeEmpty())
		Expect(memory.Tags(nil).Keywords()).To(BeEmpty())
	})
})

var _ = Describe("Memory", func() {
	It("derives lifecycle from the tombstone timestamp", func() {
		m := memory.Memory{}
		Expect(m.Lifecycle()).To(Equal(memory.LifecycleActive))

		now := time.Now()
		m.TombstonedAt = &now
		Expect(m.Lifecycle()).To(Equal(memory.LifecycleTombstoned))
	})

	It("measures age from last access when one exists", func() {
		created := time.Now().Add(-48 * time.Hour)
		accessed := time.Now().Add(-1 * time.Hour)

		m := memory.Memory{CreatedAt: created}
		Expect(m.AgeReference()).To(Equal(created))

		m.LastAccessAt = &accessed
		Expect(m.AgeReference()).To(Equal(accessed))
	})
})

var _ = Describe("ProfileFor", func() {
	It("returns the klass profile for known klasses", func() {
		klass, profile := memory.ProfileFor(memory.KlassIdentity)
		Expect(klass).To(Equal(memory.KlassIdentity))
		Expect(profile.Importance).To(BeNumerically("==", 0.9))
		Expect(profile.HalflifeDays).To(BeNumerically("==", 365))
	})

	It("falls back to other for unknown klasses", func() {
		klass, profile := memory.ProfileFor("banana")
		Expect(klass).To(Equal(memory.KlassOther))
		Expect(profile.Importance).To(BeNumerically("==", 0.5))
		Expect(profile.HalflifeDays).To(BeNumerically("==", 60))
	})

	It("gives short-lived klasses short half-lives", func() {
		_, ephemeral := memory.ProfileFor(memory.KlassEphemeral)
		_, task := memory.ProfileFor(memory.KlassTask)
		_, identity := memory.ProfileFor(memory.KlassIdentity)
		Expect(ephemeral.HalflifeDays).To(BeNumerically("<", task.HalflifeDays))
		Expect(task.HalflifeDays).To(BeNumerically("<", identity.HalflifeDays))
	})
})
