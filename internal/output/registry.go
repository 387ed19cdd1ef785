package output

type EventKind int

const (
	HeadAdded EventKind = iota
	HeadRemoved
	HeadsUpdated
)

func (k EventKind) String() string {
	switch k {
	case HeadAdded:
		return "added"
	case HeadRemoved:
		return "removed"
	case HeadsUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind   EventKind
	Output *Output
}

// Registry is the compositor's view of all known outputs ("heads"), enabled
// or not. Observers are notified synchronously.
type Registry struct {
	heads     []*Output
	observers map[int]func(Event)
	nextID    int
}

func NewRegistry() *Registry {
	return &Registry{observers: make(map[int]func(Event))}
}

// Subscribe registers fn and returns a function that removes it again.
func (r *Registry) Subscribe(fn func(Event)) (cancel func()) {
	r.nextID++
	id := r.nextID
	r.observers[id] = fn
	return func() { delete(r.observers, id) }
}

func (r *Registry) AddHeads(outputs ...*Output) {
	for _, o := range outputs {
		if r.index(o) >= 0 {
			continue
		}
		r.heads = append(r.heads, o)
		r.emit(Event{Kind: HeadAdded, Output: o})
	}
}

func (r *Registry) RemoveHeads(outputs ...*Output) {
	for _, o := range outputs {
		i := r.index(o)
		if i < 0 {
			continue
		}
		r.heads = append(r.heads[:i], r.heads[i+1:]...)
		r.emit(Event{Kind: HeadRemoved, Output: o})
	}
}

// Update tells observers that the head set settled.
func (r *Registry) Update() {
	r.emit(Event{Kind: HeadsUpdated})
}

func (r *Registry) Outputs() []*Output {
	return append([]*Output(nil), r.heads...)
}

func (r *Registry) Find(name string) *Output {
	for _, o := range r.heads {
		if o.Name() == name {
			return o
		}
	}
	return nil
}

func (r *Registry) index(o *Output) int {
	for i, h := range r.heads {
		if h == o {
			return i
		}
	}
	return -1
}

func (r *Registry) emit(ev Event) {
	for id := 1; id <= r.nextID; id++ {
		if fn, ok := r.observers[id]; ok {
			fn(ev)
		}
	}
}
