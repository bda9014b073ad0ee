package memory

// Klass is the fixed category of a memory. Each klass carries a default
// importance and half-life that seed new rows of that category.
type Klass string

const (
	KlassIdentity     Klass = "identity"
	KlassRelationship Klass = "relationship"
	KlassBond         Klass = "bond"
	KlassConflict     Klass = "conflict"
	KlassFact         Klass = "fact"
	KlassPreference   Klass = "preference"
	KlassHealth       Klass = "health"
	KlassTask         Klass = "task"
	KlassEphemeral    Klass = "ephemeral"
	KlassOther        Klass = "other"
)

// KlassProfile holds the defaults a klass seeds into new memories.
type KlassProfile struct {
	Importance   float64
	HalflifeDays float64
}

var klassProfiles = map[Klass]KlassProfile{
	KlassIdentity:     {Importance: 0.9, HalflifeDays: 365},
	KlassRelationship: {Importance: 0.8, HalflifeDays: 180},
	KlassBond:         {Importance: 0.85, HalflifeDays: 270},
	KlassConflict:     {Importance: 0.75, HalflifeDays: 120},
	KlassFact:         {Importance: 0.6, HalflifeDays: 90},
	KlassPreference:   {Importance: 0.65, HalflifeDays: 120},
	KlassHealth:       {Importance: 0.8, HalflifeDays: 180},
	KlassTask:         {Importance: 0.4, HalflifeDays: 14},
	KlassEphemeral:    {Importance: 0.3, HalflifeDays: 7},
	KlassOther:        {Importance: 0.5, HalflifeDays: 60},
}

// ProfileFor resolves a klass to its defaults. Unknown klasses fall back
// to KlassOther, and the normalized klass is returned alongside.
func ProfileFor(k Klass) (Klass, KlassProfile) {
	if p, ok := klassProfiles[k]; ok {
		return k, p
	}
	return KlassOther, klassProfiles[KlassOther]
}
