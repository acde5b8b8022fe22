package alerts

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/creker7/netvigil/pkg/history"
	"github.com/creker7/netvigil/pkg/models"
)

const notifyTimeout = 30 * time.Second

var alertsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "netvigil_alerts_dispatched_total",
	Help: "Grouped alert messages dispatched, by channel and outcome.",
}, []string{"channel", "outcome"})

// recoveryAcker lets the dispatcher tell the state machine a recovery was
// delivered, flipping RecoveryPending counters back to zero.
type recoveryAcker interface {
	AckRecovery(endpointID string)
}

// Channels is the enabled-flag snapshot taken from the alerts config.
type Channels struct {
	Popup    bool
	Mail     bool
	Telegram bool
}

// Dispatcher consumes the transition and UPS event streams and fans grouped
// messages out per channel once per probe tick.
type Dispatcher struct {
	transitions <-chan models.Transition
	upsEvents   <-chan models.UPSEvent
	acker       recoveryAcker
	hist        *history.Store

	mu          sync.Mutex
	channels    Channels
	siteName    string
	mail        Notifier
	telegram    Notifier
	broadcaster Broadcaster
	downSince   map[string]time.Time
}

func NewDispatcher(transitions <-chan models.Transition, ups <-chan models.UPSEvent,
	acker recoveryAcker, hist *history.Store) *Dispatcher {
	return &Dispatcher{
		transitions: transitions,
		upsEvents:   ups,
		acker:       acker,
		hist:        hist,
		siteName:    "NetVigil",
		downSince:   make(map[string]time.Time),
	}
}

// Configure swaps the channel switches and notifiers; nil notifiers disable
// their channel regardless of the switch.
func (d *Dispatcher) Configure(siteName string, ch Channels, mail, telegram Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if siteName != "" {
		d.siteName = siteName
	}

	d.channels = ch
	d.mail = mail
	d.telegram = telegram
}

// SetBroadcaster wires the popup channel; called once the web hub is up.
func (d *Dispatcher) SetBroadcaster(b Broadcaster) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.broadcaster = b
}

// Fire drains everything pending and dispatches one grouped message per
// enabled channel. Called on the probe tick cadence and once at shutdown.
func (d *Dispatcher) Fire(ctx context.Context) {
	b := d.drain()
	if b.empty() {
		return
	}

	d.record(b)
	d.dispatch(ctx, b)
}

func (d *Dispatcher) drain() *batch {
	b := &batch{}

	for {
		select {
		case t := <-d.transitions:
			switch t.Kind {
			case models.TransitionDownConfirmed:
				b.down = append(b.down, t)
			case models.TransitionUpRecovered:
				b.up = append(b.up, upEntry{t: t})
			case models.TransitionTempHigh:
				b.tempHigh = append(b.tempHigh, t)
			case models.TransitionTempNormalized:
				b.tempNorm = append(b.tempNorm, t)
			}
		case ev := <-d.upsEvents:
			b.ups = append(b.ups, ev)
		default:
			return b
		}
	}
}

// record writes the connection event log and acknowledges recoveries. The
// downtime on a reconnect is measured from the confirmed disconnect, not
// from the first missed probe.
func (d *Dispatcher) record(b *batch) {
	d.mu.Lock()

	for i := range b.down {
		d.downSince[b.down[i].EndpointID] = b.down[i].At
	}

	for i := range b.up {
		id := b.up[i].t.EndpointID
		if since, ok := d.downSince[id]; ok {
			b.up[i].downtime = b.up[i].t.At.Sub(since)
			delete(d.downSince, id)
		}
	}

	d.mu.Unlock()

	if d.hist != nil {
		for i := range b.down {
			if err := d.hist.AddEvent(b.down[i].EndpointID, b.down[i].At, models.ConnDisconnect, 0); err != nil {
				log.Printf("Dispatcher: failed to record disconnect: %v", err)
			}
		}

		for i := range b.up {
			if err := d.hist.AddEvent(b.up[i].t.EndpointID, b.up[i].t.At,
				models.ConnReconnect, b.up[i].downtime); err != nil {
				log.Printf("Dispatcher: failed to record reconnect: %v", err)
			}
		}
	}

	if d.acker != nil {
		for i := range b.up {
			d.acker.AckRecovery(b.up[i].t.EndpointID)
		}
	}
}

// dispatch fans out per channel, fire-and-forget. A failing channel never
// blocks or cancels the others.
func (d *Dispatcher) dispatch(ctx context.Context, b *batch) {
	d.mu.Lock()
	channels := d.channels
	siteName := d.siteName
	mail := d.mail
	telegram := d.telegram
	broadcaster := d.broadcaster
	d.mu.Unlock()

	if channels.Popup && broadcaster != nil {
		if subject, body := compose(siteName, b, channelPopup); subject != "" {
			broadcaster.Notification(subject + "\n" + body)
			alertsDispatched.WithLabelValues("popup", "ok").Inc()
		}
	}

	if channels.Mail && mail != nil {
		d.send(ctx, mail, siteName, b, channelMail)
	}

	if channels.Telegram && telegram != nil {
		d.send(ctx, telegram, siteName, b, channelTelegram)
	}
}

func (d *Dispatcher) send(ctx context.Context, n Notifier, siteName string, b *batch, ch channel) {
	subject, body := compose(siteName, b, ch)
	if subject == "" {
		return
	}

	go func() {
		// Detach from the tick context: a tick ending must not abort an
		// in-flight delivery.
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()

		if err := n.Notify(sendCtx, subject, body); err != nil {
			alertsDispatched.WithLabelValues(n.Name(), "error").Inc()
			log.Printf("Dispatcher: %s notification failed: %v", n.Name(), err)

			return
		}

		alertsDispatched.WithLabelValues(n.Name(), "ok").Inc()
	}()
}
