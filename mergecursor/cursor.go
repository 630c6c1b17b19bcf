// Package mergecursor implements a cursor composed over two ordered child
// cursors, producing their union, intersection, or difference.
package mergecursor

import "bytes"

// Cursor is the ordered-iteration contract mergecursor composes over. A
// full transactional index/B-tree cursor lives above this layer; this
// interface is the minimal shape a merge needs, and is satisfied here by
// MapCursor for tests.
type Cursor interface {
	Valid() bool
	Key() []byte
	Value() []byte
	Next() error
	Prev() error
	// SeekGE repositions at the first key >= target, or invalidates if
	// none exists.
	SeekGE(target []byte) error
	// SeekLE repositions at the last key <= target, or invalidates if
	// none exists.
	SeekLE(target []byte) error
}

// Mode selects the set operation a MergeCursor performs.
type Mode int

const (
	Union Mode = iota
	Intersect
	Diff // A minus B
)

// Combiner merges the values of a matching key present on both sides.
// Returning ok=false rejects the pair, causing both sides to be skipped:
// the cursor moves on rather than emitting a result for that key, so a
// rejected pair can never leak a half-emitted entry.
type Combiner func(key, a, b []byte) (combined []byte, ok bool)

type direction int

const (
	forward direction = iota
	backward
)

// MergeCursor composes two ordered Cursors into their Union, Intersect, or
// Diff. Random access is intentionally not supported (a Combiner may
// reject arbitrary pairs, which forbids uniform sampling); only
// Next/Prev sequential movement is exposed.
type MergeCursor struct {
	a, b    Cursor
	mode    Mode
	combine Combiner

	started bool
	dir     direction
	compare int // -1/0/1: which side (or both) was selected last step

	key, value []byte
	valid      bool
}

// New creates a MergeCursor over a and b, assumed already positioned at
// their first entries by the caller (or invalid if empty). combine may be
// nil, in which case a's value wins on a key present on both sides.
func New(a, b Cursor, mode Mode, combine Combiner) *MergeCursor {
	return &MergeCursor{a: a, b: b, mode: mode, combine: combine}
}

func (m *MergeCursor) Valid() bool   { return m.valid }
func (m *MergeCursor) Key() []byte   { return m.key }
func (m *MergeCursor) Value() []byte { return m.value }

func (m *MergeCursor) setKV(k, v []byte) {
	m.key, m.value, m.valid = k, v, true
}

func (m *MergeCursor) invalidate() {
	m.key, m.value, m.valid = nil, nil, false
}

// Next advances the cursor forward, realigning the unused side if the
// cursor was previously moving backward.
func (m *MergeCursor) Next() (bool, error) {
	if m.started {
		if m.dir == backward {
			if err := m.realign(forward); err != nil {
				return false, err
			}
		}

		if err := m.advance(forward); err != nil {
			return false, err
		}
	}

	m.started = true
	m.dir = forward

	return m.selectAt(forward)
}

// Prev advances the cursor backward, realigning the unused side if the
// cursor was previously moving forward.
func (m *MergeCursor) Prev() (bool, error) {
	if m.started {
		if m.dir == forward {
			if err := m.realign(backward); err != nil {
				return false, err
			}
		}

		if err := m.advance(backward); err != nil {
			return false, err
		}
	}

	m.started = true
	m.dir = backward

	return m.selectAt(backward)
}

// advance moves whichever side(s) were selected by the prior step; when
// compare==0 both moved together (an equal-key match), so both move again.
func (m *MergeCursor) advance(dir direction) error {
	step := func(c Cursor) error {
		if dir == forward {
			return c.Next()
		}

		return c.Prev()
	}

	if m.compare <= 0 && m.a.Valid() {
		if err := step(m.a); err != nil {
			return err
		}
	}

	if m.compare >= 0 && m.b.Valid() {
		if err := step(m.b); err != nil {
			return err
		}
	}

	return nil
}

// realign repositions the side that was NOT driving the traversal so far
// onto the other side of the current key when the direction reverses.
func (m *MergeCursor) realign(newDir direction) error {
	if !m.valid {
		return nil
	}

	if newDir == forward {
		// Moving forward again: both sides must land at >= key.
		if err := m.a.SeekGE(m.key); err != nil {
			return err
		}

		if err := m.b.SeekGE(m.key); err != nil {
			return err
		}

		return nil
	}

	if err := m.a.SeekLE(m.key); err != nil {
		return err
	}

	return m.b.SeekLE(m.key)
}

func (m *MergeCursor) cmp(dir direction) int {
	c := bytes.Compare(m.a.Key(), m.b.Key())
	if dir == backward {
		return -c
	}

	return c
}

// selectAt finds the next (or previous) emitted entry according to mode,
// advancing past rejected/non-matching candidates as needed.
func (m *MergeCursor) selectAt(dir direction) (bool, error) {
	step := func(c Cursor) error {
		if dir == forward {
			return c.Next()
		}

		return c.Prev()
	}

	sign := 1
	if dir == backward {
		sign = -1
	}

	for {
		av, bv := m.a.Valid(), m.b.Valid()

		switch m.mode {
		case Union:
			switch {
			case !av && !bv:
				m.invalidate()

				return false, nil
			case !av:
				m.compare = sign
				m.setKV(m.b.Key(), m.b.Value())

				return true, nil
			case !bv:
				m.compare = -sign
				m.setKV(m.a.Key(), m.a.Value())

				return true, nil
			}

			c := m.cmp(dir)

			switch {
			case c < 0:
				m.compare = -sign
				m.setKV(m.a.Key(), m.a.Value())

				return true, nil
			case c > 0:
				m.compare = sign
				m.setKV(m.b.Key(), m.b.Value())

				return true, nil
			default:
				m.compare = 0

				cv, ok := m.combineOrDefault()
				if ok {
					m.setKV(m.a.Key(), cv)

					return true, nil
				}

				if err := step(m.a); err != nil {
					return false, err
				}

				if err := step(m.b); err != nil {
					return false, err
				}
			}

		case Intersect:
			if !av || !bv {
				m.invalidate()

				return false, nil
			}

			c := m.cmp(dir)

			switch {
			case c < 0:
				if err := step(m.a); err != nil {
					return false, err
				}
			case c > 0:
				if err := step(m.b); err != nil {
					return false, err
				}
			default:
				m.compare = 0

				cv, ok := m.combineOrDefault()
				if !ok {
					if err := step(m.a); err != nil {
						return false, err
					}

					if err := step(m.b); err != nil {
						return false, err
					}

					continue
				}

				m.setKV(m.a.Key(), cv)

				return true, nil
			}

		case Diff:
			if !av {
				m.invalidate()

				return false, nil
			}

			if !bv {
				m.compare = -sign
				m.setKV(m.a.Key(), m.a.Value())

				return true, nil
			}

			c := m.cmp(dir)

			switch {
			case c < 0:
				m.compare = -sign
				m.setKV(m.a.Key(), m.a.Value())

				return true, nil
			case c > 0:
				if err := step(m.b); err != nil {
					return false, err
				}
			default:
				if err := step(m.a); err != nil {
					return false, err
				}

				if err := step(m.b); err != nil {
					return false, err
				}
			}
		}
	}
}

func (m *MergeCursor) combineOrDefault() ([]byte, bool) {
	if m.combine != nil {
		return m.combine(m.a.Key(), m.a.Value(), m.b.Value())
	}

	return m.a.Value(), true
}
