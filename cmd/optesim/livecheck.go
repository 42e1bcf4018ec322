package main

import (
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/luqmana/opte/internal/optelog"
)

// liveCheck pings target once over real ICMP, the way the teacher's
// monitor service probes a route's liveness (internal/monitor/service.go's
// CheckPingFunc) — here used to confirm a simulated port's own address
// actually answers echo requests end to end rather than just exercising
// the in-process hairpin generator directly.
func liveCheck(target string, log *optelog.Logger) {
	pinger, err := probing.NewPinger(target)
	if err != nil {
		log.Error("live-check: failed to create pinger", "target", target, "err", err)
		return
	}
	pinger.Count = 1
	pinger.Timeout = time.Second
	pinger.SetPrivileged(false)

	if err := pinger.Run(); err != nil {
		log.Warn("live-check failed", "target", target, "err", err)
		return
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		log.Warn("live-check: no reply", "target", target)
		return
	}
	log.Info("live-check ok", "target", target, "rtt", fmt.Sprint(stats.AvgRtt))
}
