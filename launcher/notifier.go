package launcher

import (
	"sync"

	"github.com/apex/log"
	"github.com/ivan3bx/enginetest"
)

// Notifier is a registry of observers of launcher state. It can be used
// concurrently by multiple goroutines.
type Notifier struct {
	sync.Mutex
	observers map[enginetest.LauncherState][]chan enginetest.LauncherState
	sinks     []func(enginetest.Data)
}

// Register returns a channel that receives the new state whenever the
// launcher enters any of the given states.
func (n *Notifier) Register(states ...enginetest.LauncherState) <-chan enginetest.LauncherState {
	n.Lock()
	defer n.Unlock()

	ch := make(chan enginetest.LauncherState, 10)

	if n.observers == nil {
		n.observers = make(map[enginetest.LauncherState][]chan enginetest.LauncherState)
	}

	for _, s := range states {
		n.observers[s] = append(n.observers[s], ch)
	}

	return ch
}

// Unregister removes ch from the set of observers and closes it.
func (n *Notifier) Unregister(ch <-chan enginetest.LauncherState) {
	n.Lock()
	defer n.Unlock()

	var target chan enginetest.LauncherState

	for key, v := range n.observers {
		kept := v[:0:0]

		for _, item := range v {
			if item != ch {
				kept = append(kept, item)
			} else {
				target = item
			}
		}

		n.observers[key] = kept
	}

	if target != nil {
		close(target)
	}
}

// Forward sends a StatusChange to fn on every transition.
func (n *Notifier) Forward(fn func(enginetest.Data)) {
	n.Lock()
	defer n.Unlock()
	n.sinks = append(n.sinks, fn)
}

// Notify tells observers of st that the launcher has entered it. A full
// observer channel drops the update rather than block the launcher.
func (n *Notifier) Notify(st enginetest.LauncherState) {
	n.Lock()
	defer n.Unlock()

	for _, ch := range n.observers[st] {
		select {
		case ch <- st:
		default:
			log.WithField("state", st.String()).Warn("observer not keeping up, update dropped")
		}
	}

	for _, fn := range n.sinks {
		fn(enginetest.StatusChange{State: st})
	}
}
