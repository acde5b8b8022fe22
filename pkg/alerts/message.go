package alerts

import (
	"fmt"
	"strings"
	"time"

	"github.com/creker7/netvigil/pkg/models"
)

// batch collects everything drained in one dispatcher fire.
type batch struct {
	down     []models.Transition
	up       []upEntry
	tempHigh []models.Transition
	tempNorm []models.Transition
	ups      []models.UPSEvent
}

type upEntry struct {
	t        models.Transition
	downtime time.Duration
}

func (b *batch) empty() bool {
	return len(b.down) == 0 && len(b.up) == 0 &&
		len(b.tempHigh) == 0 && len(b.tempNorm) == 0 && len(b.ups) == 0
}

// channel selects the per-host opt-out relevant to a notifier.
type channel int

const (
	channelPopup channel = iota
	channelMail
	channelTelegram
)

func wants(ep *models.Endpoint, ch channel) bool {
	switch ch {
	case channelMail:
		return ep.Notify.Email
	case channelTelegram:
		return ep.Notify.Telegram
	default:
		return true
	}
}

func describe(ep *models.Endpoint) string {
	name := ep.Name
	if name == "" {
		name = ep.Target
	} else {
		name = fmt.Sprintf("%s (%s)", name, ep.Target)
	}

	if ep.Site != "" {
		name += " [" + ep.Site + "]"
	}

	return name
}

// compose renders the grouped message for one channel. Empty subject means
// nothing on this channel survived the per-host opt-outs.
func compose(siteName string, b *batch, ch channel) (subject, body string) {
	var (
		sb    strings.Builder
		downs int
		ups   int
	)

	for i := range b.down {
		ep := &b.down[i].Endpoint
		if !wants(ep, ch) {
			continue
		}

		downs++
		fmt.Fprintf(&sb, "DOWN: %s\n", describe(ep))
	}

	for i := range b.up {
		ep := &b.up[i].t.Endpoint
		if !wants(ep, ch) {
			continue
		}

		ups++

		if b.up[i].downtime > 0 {
			fmt.Fprintf(&sb, "UP: %s (down for %s)\n", describe(ep), b.up[i].downtime.Round(time.Second))
		} else {
			fmt.Fprintf(&sb, "UP: %s\n", describe(ep))
		}
	}

	extras := 0

	for i := range b.tempHigh {
		ep := &b.tempHigh[i].Endpoint
		if !wants(ep, ch) {
			continue
		}

		extras++

		if ep.Temperature != nil {
			fmt.Fprintf(&sb, "TEMPERATURE HIGH: %s at %.1f C\n", describe(ep), *ep.Temperature)
		} else {
			fmt.Fprintf(&sb, "TEMPERATURE HIGH: %s\n", describe(ep))
		}
	}

	for i := range b.tempNorm {
		ep := &b.tempNorm[i].Endpoint
		if !wants(ep, ch) {
			continue
		}

		extras++
		fmt.Fprintf(&sb, "TEMPERATURE OK: %s\n", describe(ep))
	}

	for i := range b.ups {
		ev := &b.ups[i]
		extras++

		switch ev.Kind {
		case models.UPSEventOnBattery:
			severity := ""
			if ev.Status.Critical() {
				severity = " BATTERY CRITICAL,"
			}

			fmt.Fprintf(&sb, "UPS ON BATTERY: %s -%s %d%% charge, %d min remaining\n",
				ev.EndpointID, severity, ev.Status.ChargePercent, ev.Status.MinutesRemaining)
		case models.UPSEventRestored:
			fmt.Fprintf(&sb, "UPS POWER RESTORED: %s\n", ev.EndpointID)
		}
	}

	if downs == 0 && ups == 0 && extras == 0 {
		return "", ""
	}

	var parts []string

	if downs > 0 {
		parts = append(parts, fmt.Sprintf("%d down", downs))
	}

	if ups > 0 {
		parts = append(parts, fmt.Sprintf("%d recovered", ups))
	}

	if extras > 0 {
		parts = append(parts, fmt.Sprintf("%d notice(s)", extras))
	}

	subject = fmt.Sprintf("%s: %s", siteName, strings.Join(parts, ", "))

	return subject, sb.String()
}
