package task

import (
	"fmt"
	"slices"
)

// Family is one of the three task categories.
type Family int

const (
	FamilyCount Family = iota + 1 // counting symbols in a grid
	FamilyMatch                   // matching a magnitude on a slider
	FamilyType                    // typing a pattern
)

// MaxLevel is the highest level within a family.
const MaxLevel = 3

// Total is the number of tasks in a full game.
const Total = 3 * MaxLevel

// Families returns all families in display order.
func Families() []Family {
	return []Family{FamilyCount, FamilyMatch, FamilyType}
}

// String returns the short family name.
func (f Family) String() string {
	switch f {
	case FamilyCount:
		return "count"
	case FamilyMatch:
		return "match"
	case FamilyType:
		return "type"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// DisplayName returns a human-readable name for a family.
func (f Family) DisplayName() string {
	switch f {
	case FamilyCount:
		return "Counting"
	case FamilyMatch:
		return "Matching"
	case FamilyType:
		return "Typing"
	default:
		return f.String()
	}
}

// Valid reports whether f is one of the three families.
func (f Family) Valid() bool {
	return f >= FamilyCount && f <= FamilyType
}

// Tasks returns the three levels of f in order.
func (f Family) Tasks() []ID {
	return []ID{{f, 1}, {f, 2}, {f, 3}}
}

// ParseFamily parses a short family name.
func ParseFamily(s string) (Family, error) {
	for _, f := range Families() {
		if f.String() == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown task family %q", s)
}

// Difficulty is derived from a task's level.
type Difficulty int

const (
	Easy Difficulty = iota
	Medium
	Hard
)

func (d Difficulty) String() string {
	switch d {
	case Easy:
		return "easy"
	case Medium:
		return "medium"
	case Hard:
		return "hard"
	default:
		return "unknown"
	}
}

// ID identifies a task by family and level. The zero ID means "no task".
type ID struct {
	Family Family
	Level  int
}

// New returns the ID for family f at level.
func New(f Family, level int) ID {
	return ID{Family: f, Level: level}
}

// All returns the nine task IDs, family-major.
func All() []ID {
	out := make([]ID, 0, Total)
	for _, f := range Families() {
		out = append(out, f.Tasks()...)
	}
	return out
}

// Parse parses the g<family>t<level> form, e.g. "g2t1".
func Parse(s string) (ID, error) {
	var f, level int
	if _, err := fmt.Sscanf(s, "g%dt%d", &f, &level); err != nil {
		return ID{}, fmt.Errorf("parse task id %q: %w", s, err)
	}
	id := ID{Family: Family(f), Level: level}
	if !id.Valid() || id.String() != s {
		return ID{}, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

// String returns the g<family>t<level> form.
func (id ID) String() string {
	if id.IsZero() {
		return ""
	}
	return fmt.Sprintf("g%dt%d", int(id.Family), id.Level)
}

// IsZero reports whether id is the "no task" value.
func (id ID) IsZero() bool { return id == ID{} }

// Valid reports whether id names one of the nine tasks.
func (id ID) Valid() bool {
	return id.Family.Valid() && id.Level >= 1 && id.Level <= MaxLevel
}

// Difficulty returns the difficulty for the task's level.
func (id ID) Difficulty() Difficulty {
	return Difficulty(id.Level - 1)
}

// Next returns the following level in the same family.
func (id ID) Next() (ID, bool) {
	if id.Level >= MaxLevel {
		return ID{}, false
	}
	return ID{Family: id.Family, Level: id.Level + 1}, true
}

// Prev returns the preceding level in the same family.
func (id ID) Prev() (ID, bool) {
	if id.Level <= 1 {
		return ID{}, false
	}
	return ID{Family: id.Family, Level: id.Level - 1}, true
}

// MarshalText implements encoding.TextMarshaler so IDs work as JSON map keys.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = ID{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Compare orders IDs family-major, then by level.
func Compare(a, b ID) int {
	if a.Family != b.Family {
		return int(a.Family) - int(b.Family)
	}
	return a.Level - b.Level
}

// Set is a set of task IDs.
type Set map[ID]bool

// Has reports whether id is in the set.
func (s Set) Has(id ID) bool { return s[id] }

// Add inserts id and reports whether it was newly added.
func (s Set) Add(id ID) bool {
	if s[id] {
		return false
	}
	s[id] = true
	return true
}

// Sorted returns the members in family-major order.
func (s Set) Sorted() []ID {
	out := make([]ID, 0, len(s))
	for id, ok := range s {
		if ok {
			out = append(out, id)
		}
	}
	slices.SortFunc(out, Compare)
	return out
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for id, ok := range s {
		if ok {
			out[id] = true
		}
	}
	return out
}
