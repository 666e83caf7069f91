package enrichment

// Observer receives every snapshot a pipeline emits, in emission order, on the
// pipeline's goroutine. Each snapshot replaces the previous one entirely.
type Observer interface {
	Emit(Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Snapshot)

func (f ObserverFunc) Emit(s Snapshot) { f(s) }

type multiObserver []Observer

func (m multiObserver) Emit(s Snapshot) {
	for _, o := range m {
		o.Emit(s)
	}
}

// Observers fans snapshots out to every non-nil observer in order.
func Observers(obs ...Observer) Observer {
	out := make(multiObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

// Recorder keeps every snapshot it receives. It is not safe for concurrent use.
type Recorder struct {
	snapshots []Snapshot
}

func (r *Recorder) Emit(s Snapshot) {
	r.snapshots = append(r.snapshots, s)
}

// Snapshots returns the recorded snapshots in emission order.
func (r *Recorder) Snapshots() []Snapshot {
	return r.snapshots
}

// Last returns the most recent snapshot.
func (r *Recorder) Last() (Snapshot, bool) {
	if len(r.snapshots) == 0 {
		return Snapshot{}, false
	}
	return r.snapshots[len(r.snapshots)-1], true
}

// emitter numbers snapshots and hands observers private copies, so nothing an
// observer does can reach the driver's state.
type emitter struct {
	obs  Observer
	seq  int
	last Snapshot
}

func newEmitter(obs Observer) *emitter {
	if obs == nil {
		obs = Observers()
	}
	return &emitter{obs: obs}
}

func (e *emitter) emit(state *runState) Snapshot {
	e.seq++
	e.last = state.snapshot(e.seq)
	e.obs.Emit(e.last.clone())
	return e.last
}
