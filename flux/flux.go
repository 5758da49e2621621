package flux

// Kind classifies a flux event.
type Kind uint8

const (
	// Transition is a magnetic flux transition detected by the read head.
	Transition Kind = iota
	// IndexPulse is the once-per-rotation index marker.
	IndexPulse
)

// Event is one timestamped event from the flux capture front end.
// Time is in monotonic clock ticks of the capture clock.
type Event struct {
	Time uint64
	Kind Kind
}

// EventSource supplies flux events in strict timestamp order.
type EventSource interface {
	// NextEvent returns the next event.
	// Returns ok=false when the stream is exhausted.
	NextEvent() (Event, bool)
}

// Source provides flux intervals for the PLL algorithm.
// Different adapters can implement this interface to provide flux data
// in their own format.
type Source interface {
	// NextFlux returns the next flux interval in ticks (time until next transition).
	// Returns 0 if no more transitions are available.
	NextFlux() uint64
}

// Iterator provides flux intervals from absolute transition times.
// It implements the Source interface.
type Iterator struct {
	transitions []uint64 // Absolute transition times in ticks
	index       int      // Current index into transitions
	lastTime    uint64   // Last transition time (for calculating intervals)
}

// NewIterator creates a new Iterator from transition times.
func NewIterator(transitions []uint64) *Iterator {
	return &Iterator{
		transitions: transitions,
	}
}

// NextFlux returns the next flux interval in ticks (time until next transition).
// Returns 0 if no more transitions are available.
func (it *Iterator) NextFlux() uint64 {
	if it.index >= len(it.transitions) {
		return 0 // No more transitions
	}

	nextTime := it.transitions[it.index]
	interval := nextTime - it.lastTime
	it.lastTime = nextTime
	it.index++
	return interval
}

// IsDone returns true if all transitions have been consumed.
func (it *Iterator) IsDone() bool {
	return it.index >= len(it.transitions)
}

// EventIterator replays a recorded event slice as an EventSource.
type EventIterator struct {
	events []Event
	index  int
}

// NewEventIterator creates an EventIterator over events.
// The events must already be in timestamp order.
func NewEventIterator(events []Event) *EventIterator {
	return &EventIterator{events: events}
}

// NextEvent returns the next event, or ok=false at end of stream.
func (it *EventIterator) NextEvent() (Event, bool) {
	if it.index >= len(it.events) {
		return Event{}, false
	}
	ev := it.events[it.index]
	it.index++
	return ev, true
}

// Intervals adapts an EventSource into a Source of transition intervals.
// Index pulses are skipped; their timestamps are available via LastIndex.
type Intervals struct {
	src        EventSource
	lastTime   uint64
	lastIndex  uint64
	indexSeen  bool
	indexCount int
}

// NewIntervals wraps src as an interval source.
func NewIntervals(src EventSource) *Intervals {
	return &Intervals{src: src}
}

// NextFlux returns the interval to the next transition, skipping index pulses.
// Returns 0 when the underlying event source is exhausted.
func (iv *Intervals) NextFlux() uint64 {
	for {
		ev, ok := iv.src.NextEvent()
		if !ok {
			return 0
		}
		if ev.Kind == IndexPulse {
			iv.lastIndex = ev.Time
			iv.indexSeen = true
			iv.indexCount++
			continue
		}
		interval := ev.Time - iv.lastTime
		iv.lastTime = ev.Time
		return interval
	}
}

// LastIndex returns the timestamp of the most recent index pulse.
// ok is false if no index pulse has been seen yet.
func (iv *Intervals) LastIndex() (uint64, bool) {
	return iv.lastIndex, iv.indexSeen
}

// IndexCount returns the number of index pulses consumed so far.
func (iv *Intervals) IndexCount() int {
	return iv.indexCount
}

// Rotation extracts the transitions of one full rotation from events:
// everything between the first pair of index pulses.
// Returns the transition times and the rotation period in ticks.
// Returns ok=false if the stream contains fewer than two index pulses.
func Rotation(events []Event) (transitions []uint64, period uint64, ok bool) {
	firstIndex := uint64(0)
	indexes := 0
	for _, ev := range events {
		if ev.Kind == IndexPulse {
			indexes++
			if indexes == 1 {
				firstIndex = ev.Time
				continue
			}
			return transitions, ev.Time - firstIndex, true
		}
		if indexes == 1 {
			transitions = append(transitions, ev.Time)
		}
	}
	return nil, 0, false
}
