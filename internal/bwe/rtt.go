package bwe

import (
	"time"

	"github.com/pion/rtcp"
)

// ntpEpochOffset is the number of seconds between the NTP epoch
// (1900-01-01) and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// ntpShortToMs converts an NTP short-format (16.16 fixed point seconds)
// duration into milliseconds.
func ntpShortToMs(v uint32) float64 {
	return float64(v) * 1000.0 / 65536.0
}

// NowNTPShort returns the current time as an NTP short-format timestamp
// (the middle 32 bits of the 64-bit NTP timestamp), the representation
// RTTFromReceiverReport and Controller.SetNowNTP expect, per spec.md
// §4.7.3.
func NowNTPShort() uint32 {
	now := time.Now()
	secs := uint64(now.Unix()+ntpEpochOffset) & 0xFFFF
	frac := uint32(now.Nanosecond()) / 1000 * 4295 // µs * ~(2^32 / 1e6)
	return uint32(secs<<16) | (frac >> 16)
}

// RTTFromReceiverReport computes the round-trip time in milliseconds from
// one ReceptionReport block, per spec.md §4.7.3:
//
//	RTT_ms = ntp_now - lastSR - DLSR  (all converted to the same units)
//
// nowNTP is the caller's current time expressed in the same NTP
// short-format (middle 32 bits) as LastSenderReport, so the subtraction is
// done in that domain before converting to milliseconds. ok is false when
// the report carries no prior sender report (LastSenderReport == 0), the
// conventional "no RTT available yet" signal.
func RTTFromReceiverReport(report rtcp.ReceptionReport, nowNTP uint32) (rttMs float64, ok bool) {
	if report.LastSenderReport == 0 {
		return 0, false
	}
	elapsed := nowNTP - report.LastSenderReport - report.Delay
	rttMs = ntpShortToMs(elapsed)
	if rttMs < 0 {
		rttMs = 0
	}
	return rttMs, true
}
