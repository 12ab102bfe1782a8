package stepengine

import "github.com/google/uuid"

// NewBlockUUID mints a fresh grouping key for a block of steps.
func NewBlockUUID() string { return uuid.New().String() }

// Builder accumulates Step definitions for one block before they are
// persisted as a unit via Repository.CreateBlock.
type Builder struct {
	blockUUID string
	steps     []Step
	nextIndex int
}

// NewBuilder starts a block under a freshly minted block_uuid.
func NewBuilder() *Builder {
	return &Builder{blockUUID: NewBlockUUID()}
}

// NewChildBuilder starts a block that is the fan-out target of a parent
// step (SPEC_FULL §4.5 child_block_uuid); callers set the parent step's
// ChildBlockUUID to childBlockUUID before persisting it.
func NewChildBuilder(childBlockUUID string) *Builder {
	return &Builder{blockUUID: childBlockUUID}
}

// BlockUUID returns the block_uuid steps added to this builder will carry.
func (b *Builder) BlockUUID() string { return b.blockUUID }

// Then appends one step that runs strictly after every step added so far
// (SPEC_FULL "sequential: index forces ordering").
func (b *Builder) Then(class, arguments string) *Builder {
	b.steps = append(b.steps, Step{
		Class:     class,
		Arguments: arguments,
		BlockUUID: b.blockUUID,
		Index:     b.nextIndex,
		Status:    StatusPending,
	})
	b.nextIndex++
	return b
}

// Parallel appends one or more steps that all share the next index, so the
// engine runs them concurrently (SPEC_FULL "parallel: steps in the same
// block with no explicit index dependency execute concurrently").
func (b *Builder) Parallel(entries ...StepSpec) *Builder {
	idx := b.nextIndex
	for _, e := range entries {
		b.steps = append(b.steps, Step{
			Class:          e.Class,
			Arguments:      e.Arguments,
			BlockUUID:      b.blockUUID,
			ChildBlockUUID: e.ChildBlockUUID,
			Index:          idx,
			Status:         StatusPending,
		})
	}
	b.nextIndex++
	return b
}

// ThenFanOut appends one step at the next index whose ChildBlockUUID
// declares a fan-out; the caller separately builds the child block under
// that same uuid (see NewChildBuilder).
func (b *Builder) ThenFanOut(class, arguments, childBlockUUID string) *Builder {
	b.steps = append(b.steps, Step{
		Class:          class,
		Arguments:      arguments,
		BlockUUID:      b.blockUUID,
		ChildBlockUUID: childBlockUUID,
		Index:          b.nextIndex,
		Status:         StatusPending,
	})
	b.nextIndex++
	return b
}

// Steps returns the accumulated, not-yet-persisted steps.
func (b *Builder) Steps() []Step { return b.steps }

// StepSpec is one entry of a Parallel() call.
type StepSpec struct {
	Class          string
	Arguments      string
	ChildBlockUUID string
}
