package alerts

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/creker7/netvigil/pkg/history"
	"github.com/creker7/netvigil/pkg/models"
)

// SendRecap emails the scheduled digest: every endpoint's current status
// plus its 24 h availability. Independent of event-driven alerts and of the
// per-host opt-outs; the recap is a full snapshot by contract.
func (d *Dispatcher) SendRecap(ctx context.Context, endpoints []models.Endpoint,
	stats map[string]*history.EndpointStats) {
	d.mu.Lock()
	mail := d.mail
	siteName := d.siteName
	d.mu.Unlock()

	if mail == nil {
		log.Printf("Dispatcher: recap due but mail is not configured")
		return
	}

	subject, body := composeRecap(siteName, endpoints, stats)

	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()

		if err := mail.Notify(sendCtx, subject, body); err != nil {
			alertsDispatched.WithLabelValues("recap", "error").Inc()
			log.Printf("Dispatcher: recap delivery failed: %v", err)

			return
		}

		alertsDispatched.WithLabelValues("recap", "ok").Inc()
	}()
}

func composeRecap(siteName string, endpoints []models.Endpoint,
	stats map[string]*history.EndpointStats) (subject, body string) {
	var (
		sb      strings.Builder
		offline int
	)

	for i := range endpoints {
		ep := &endpoints[i]

		status := string(ep.Status)
		if ep.Excluded {
			status += " (excluded)"
		}

		line := fmt.Sprintf("%-10s %s", strings.ToUpper(status), describe(ep))

		if st, ok := stats[ep.ID]; ok {
			line += fmt.Sprintf(" - %.2f%% available, %d disconnect(s)", st.AvailabilityPct, st.Disconnects)

			if st.TotalDowntime > 0 {
				line += fmt.Sprintf(", %s down", st.TotalDowntime.Round(time.Second))
			}
		}

		sb.WriteString(line)
		sb.WriteByte('\n')

		if ep.Status == models.StatusOffline && !ep.Excluded {
			offline++
		}
	}

	subject = fmt.Sprintf("%s daily recap: %d endpoint(s), %d offline", siteName, len(endpoints), offline)

	return subject, sb.String()
}

// RecapDue reports whether the digest should fire at now for the given
// schedule. The caller is responsible for firing at most once per day.
func RecapDue(now time.Time, timeHHMM string, weekdays [7]bool) bool {
	if timeHHMM == "" {
		return false
	}

	at, err := time.Parse("15:04", timeHHMM)
	if err != nil {
		return false
	}

	// Weekdays are stored Monday-first.
	idx := (int(now.Weekday()) + 6) % 7
	if !weekdays[idx] {
		return false
	}

	return now.Hour() == at.Hour() && now.Minute() == at.Minute()
}
