package probe

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/creker7/netvigil/pkg/models"
)

const (
	icmpEchoCount = 2

	// A live host whose reply we saw but could not time. 10ms avoids
	// misclassifying it as unreachable while staying visibly synthetic.
	forcedLatencyMS = 10.0

	// Extra headroom for the single retry after a failed first attempt.
	icmpRetrySlack = 2 * time.Second
)

// ICMPProber sends echo requests over a datagram ICMP socket, falling back
// to the system ping binary when the socket is not permitted. The fallback
// runs ping on its own OS-level process, which keeps blocking calls off the
// cooperative pool.
type ICMPProber struct {
	timeout time.Duration

	mu       sync.Mutex
	detected bool
	useExec  bool
}

// NewICMPProber uses the platform-calibrated per-request timeout: Windows
// ping gives up quickly, everything else waits longer.
func NewICMPProber() *ICMPProber {
	timeout := 4 * time.Second
	if runtime.GOOS == "windows" {
		timeout = 2 * time.Second
	}

	return &ICMPProber{timeout: timeout}
}

// Probe resolves the target ahead of the echo exchange and declares success
// on any reply. Resolution failure does not short-circuit: link-local
// resolvers may still answer the echo for names the configured DNS cannot.
func (p *ICMPProber) Probe(ctx context.Context, ep models.Endpoint) (models.Latency, string) {
	host := ep.Host()

	addr := host
	if ips, err := net.DefaultResolver.LookupHost(ctx, host); err == nil && len(ips) > 0 {
		addr = ips[0]
	}

	latency, diag := p.ping(ctx, addr, p.timeout)
	if latency.Reachable() {
		return latency, ""
	}

	if ctx.Err() != nil {
		return models.Unreachable(), "cancelled"
	}

	// One retry with a slightly longer timeout before declaring HS.
	latency, retryDiag := p.ping(ctx, addr, p.timeout+icmpRetrySlack)
	if latency.Reachable() {
		return latency, ""
	}

	if retryDiag != "" {
		diag = retryDiag
	}

	return models.Unreachable(), diag
}

func (p *ICMPProber) ping(ctx context.Context, addr string, timeout time.Duration) (models.Latency, string) {
	if p.execMode() {
		return p.pingExec(ctx, addr, timeout)
	}

	latency, diag, permission := p.pingSocket(ctx, addr, timeout)
	if permission {
		p.mu.Lock()
		p.useExec = true
		p.mu.Unlock()

		return p.pingExec(ctx, addr, timeout)
	}

	return latency, diag
}

func (p *ICMPProber) execMode() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.detected && p.useExec
}

// pingSocket runs the echo exchange over an unprivileged datagram ICMP
// socket. The third return value reports a permission failure, which flips
// the prober to the exec fallback permanently.
func (p *ICMPProber) pingSocket(ctx context.Context, addr string, timeout time.Duration) (models.Latency, string, bool) {
	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		p.mu.Lock()
		p.detected = true
		p.mu.Unlock()

		return models.Unreachable(), fmt.Sprintf("icmp socket: %v", err), true
	}
	defer conn.Close()

	p.mu.Lock()
	p.detected = true
	p.mu.Unlock()

	// Cancellation must unblock a read in flight, not just shorten the
	// next deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	dst := &net.UDPAddr{IP: net.ParseIP(addr)}
	if dst.IP == nil {
		resolved, err := net.ResolveIPAddr("ip4", addr)
		if err != nil {
			return models.Unreachable(), fmt.Sprintf("resolve %s: %v", addr, err), false
		}

		dst.IP = resolved.IP
	}

	id := os.Getpid() & 0xffff

	for seq := 0; seq < icmpEchoCount; seq++ {
		if ctx.Err() != nil {
			return models.Unreachable(), "cancelled", false
		}

		msg := icmp.Message{
			Type: ipv4.ICMPTypeEcho,
			Code: 0,
			Body: &icmp.Echo{ID: id, Seq: seq, Data: []byte("netvigil")},
		}

		wire, err := msg.Marshal(nil)
		if err != nil {
			return models.Unreachable(), fmt.Sprintf("marshal echo: %v", err), false
		}

		start := time.Now()

		if _, err := conn.WriteTo(wire, dst); err != nil {
			continue
		}

		deadline := start.Add(timeout)
		if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
			deadline = dl
		}

		if err := conn.SetReadDeadline(deadline); err != nil {
			return models.Unreachable(), fmt.Sprintf("deadline: %v", err), false
		}

		buf := make([]byte, 1500)

		for {
			n, _, err := conn.ReadFrom(buf)
			if err != nil {
				break // timeout on this request, try the next
			}

			parsed, perr := icmp.ParseMessage(1, buf[:n])
			if perr != nil || parsed.Type != ipv4.ICMPTypeEchoReply {
				continue
			}

			echo, ok := parsed.Body.(*icmp.Echo)
			if !ok || echo.Seq != seq {
				continue
			}

			return models.ReachableLatency(time.Since(start)), "", false
		}
	}

	return models.Unreachable(), "no echo reply", false
}

var pingTimeRe = regexp.MustCompile(`time[=<]([0-9.]+)\s*ms`)

// pingExec shells out to the system ping binary. Success is any reply or an
// exit status of zero (the platform's reachability signal) with less than
// total loss; when the time field cannot be parsed the latency is forced so
// a live host is not reported unreachable.
func (p *ICMPProber) pingExec(ctx context.Context, addr string, timeout time.Duration) (models.Latency, string) {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "ping", "-n", strconv.Itoa(icmpEchoCount), "-w", strconv.Itoa(secs*1000), addr)
	} else {
		cmd = exec.CommandContext(ctx, "ping", "-c", strconv.Itoa(icmpEchoCount), "-W", strconv.Itoa(secs), addr)
	}

	out, err := cmd.CombinedOutput()
	reachable := err == nil

	if m := pingTimeRe.FindSubmatch(out); m != nil {
		if ms, perr := strconv.ParseFloat(string(m[1]), 64); perr == nil {
			return models.LatencyMS(ms), ""
		}

		// Reply seen, time unparseable.
		return models.LatencyMS(forcedLatencyMS), ""
	}

	if reachable {
		return models.LatencyMS(forcedLatencyMS), ""
	}

	return models.Unreachable(), fmt.Sprintf("ping %s: %v", addr, err)
}
