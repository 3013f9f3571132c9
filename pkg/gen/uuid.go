package gen

import (
	"github.com/google/uuid"
)

type UUIDGenerator func() uuid.UUID

func UUID() UUIDGenerator {
	return func() uuid.UUID {
		return uuid.New()
	}
}

// Sequence returns a generator yielding the given ids in order, then random ones.
func Sequence(ids ...uuid.UUID) UUIDGenerator {
	i := 0
	return func() uuid.UUID {
		if i < len(ids) {
			id := ids[i]
			i++
			return id
		}
		return uuid.New()
	}
}

func (g UUIDGenerator) Next() uuid.UUID {
	if g == nil {
		return uuid.Nil
	}

	return g()
}

func (g UUIDGenerator) NextString() string {
	return g.Next().String()
}

// Valid reports whether s is a canonical UUID string.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
