package chat

import (
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Registry owns the Roster. Every registration, removal and dispatch runs on
// its Run goroutine, so they never interleave.
type Registry struct {
	roster *Roster
	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger
}

func NewRegistry(capacity, buffer int, logger *zap.Logger) *Registry {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		roster: NewRoster(capacity),
		events: make(chan Event, buffer),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
}

// Stop signals the Run loop to exit.
func (r *Registry) Stop() {
	close(r.stopCh)
}

// Wait blocks until the Run loop has completely finished.
func (r *Registry) Wait() {
	<-r.doneCh
}

// Submit queues ev unless the registry is stopping.
func (r *Registry) Submit(ev Event) bool {
	select {
	case <-r.stopCh:
		return false
	default:
	}
	select {
	case r.events <- ev:
		return true
	case <-r.stopCh:
		return false
	}
}

// Register binds name to c and announces the join.
func (r *Registry) Register(c *Client, name string) error {
	return r.call(Event{Type: EventRegister, Client: c, Name: name})
}

// Unregister removes c, announces the departure and closes c.Out. It
// returns ErrNotFound when c was not registered.
func (r *Registry) Unregister(c *Client) error {
	return r.call(Event{Type: EventUnregister, Client: c})
}

// Publish routes one chat line from c.
func (r *Registry) Publish(c *Client, text string) bool {
	return r.Submit(Event{Type: EventMessage, Client: c, Text: text})
}

func (r *Registry) call(ev Event) error {
	ev.ReplyChan = make(chan error, 1)
	if !r.Submit(ev) {
		return ErrRegistryStopped
	}
	select {
	case err := <-ev.ReplyChan:
		return err
	case <-r.doneCh:
		// Run may have answered just before exiting.
		select {
		case err := <-ev.ReplyChan:
			return err
		default:
			return ErrRegistryStopped
		}
	}
}

func (r *Registry) Run() {
	defer close(r.doneCh)

	for {
		// A closed stopCh wins over queued events.
		select {
		case <-r.stopCh:
			r.shutdown()
			return
		default:
		}

		select {
		case ev := <-r.events:
			start := time.Now()

			switch ev.Type {
			case EventRegister:
				r.handleRegister(ev)
				ConnectedClients.Set(float64(r.roster.Count()))
			case EventUnregister:
				r.handleUnregister(ev)
				ConnectedClients.Set(float64(r.roster.Count()))
			case EventMessage:
				r.handleMessage(ev)
			}

			EventProcessingDuration.WithLabelValues(ev.Type.String()).Observe(time.Since(start).Seconds())
		case <-r.stopCh:
			r.shutdown()
			return
		}
	}
}

func (r *Registry) handleRegister(ev Event) {
	err := r.roster.Register(ev.Client, ev.Name)
	if err == nil {
		r.logger.Info("user registered",
			zap.String("name", ev.Name),
			zap.Uint64("session", ev.Client.ID),
			zap.Int("online", r.roster.Count()))
		r.deliver(JoinNotice(r.roster, ev.Name))
	}
	reply(ev, err)
}

func (r *Registry) handleUnregister(ev Event) {
	name, err := r.roster.Remove(ev.Client)
	if err == nil {
		r.logger.Info("user left", zap.String("name", name), zap.Uint64("session", ev.Client.ID))
		// Nothing sends to a removed client, so closing Out here is safe.
		ev.Client.closeOut()
		r.deliver(LeaveNotice(r.roster, name))
	}
	reply(ev, err)
}

func (r *Registry) handleMessage(ev Event) {
	if ev.Client == nil {
		return
	}
	r.deliver(Route(r.roster, ev.Client, ev.Text))
}

func (r *Registry) deliver(d Dispatch) {
	MessagesTotal.WithLabelValues(string(d.Kind)).Inc()
	for _, dv := range d.Deliveries {
		// Non-blocking send keeps a slow recipient from stalling everyone else.
		if !dv.To.send(dv.Line) {
			DroppedDeliveries.Inc()
			r.logger.Warn("outbound queue full, line dropped",
				zap.Uint64("session", dv.To.ID),
				zap.String("kind", string(d.Kind)))
		}
	}
}

// shutdown closes every registered client's queue; their writers flush and
// exit, and the server closes the connections.
func (r *Registry) shutdown() {
	members := r.roster.AllOccupied()
	for _, m := range members {
		m.Client.closeOut()
		_, _ = r.roster.Remove(m.Client)
	}
	ConnectedClients.Set(0)
	r.logger.Info("registry stopped",
		zap.Strings("closed", lo.Map(members, func(m Member, _ int) string { return m.Name })))
}

func reply(ev Event, err error) {
	if ev.ReplyChan != nil {
		ev.ReplyChan <- err
	}
}
