package service

// Observer receives protocol events for metrics. *obs.Metrics satisfies it.
type Observer interface {
	StageTransition(from, to string)
	StageFailed(stage, reason string)
	EventsEmitted(n int)
	StreamOpened()
	StreamClosed()
}

type nopObserver struct{}

func (nopObserver) StageTransition(string, string) {}
func (nopObserver) StageFailed(string, string)     {}
func (nopObserver) EventsEmitted(int)              {}
func (nopObserver) StreamOpened()                  {}
func (nopObserver) StreamClosed()                  {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}
