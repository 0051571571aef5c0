// Package connectivity tracks two related but distinct facts: whether the
// device has any network at all, and whether the configured server actually
// answers. The first is fed in by the host platform, the second is probed.
package connectivity

import "github.com/dkorolevs/papersync/internal/watch"

// Observer reports device-level connectivity.
type Observer interface {
	// Online reports the last known device connectivity state.
	Online() bool
	// Updates streams connectivity transitions.
	Updates() *watch.Stream[bool]
}

// HostObserver is an Observer fed by the host application. Mobile
// platforms deliver connectivity callbacks on their own threads; SetOnline
// is safe to call from any goroutine.
type HostObserver struct {
	stream *watch.Stream[bool]
}

// NewHostObserver returns an observer seeded with the given state.
func NewHostObserver(online bool) *HostObserver {
	return &HostObserver{stream: watch.NewWith(online)}
}

// SetOnline records a connectivity change reported by the host.
func (o *HostObserver) SetOnline(online bool) {
	o.stream.Publish(online)
}

func (o *HostObserver) Online() bool {
	v, ok := o.stream.Get()
	return ok && v
}

func (o *HostObserver) Updates() *watch.Stream[bool] {
	return o.stream
}
