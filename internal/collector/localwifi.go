package collector

import (
	"context"
	"fmt"
	"log"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	psnet "github.com/shirou/gopsutil/v4/net"
	"github.com/vesaa/airguard/internal/config"
	"github.com/vesaa/airguard/internal/models"
)

// 802.11 management frame subtypes.
const (
	subtypeDisassoc = 10
	subtypeDeauth   = 12
)

// LocalWiFi captures deauth/disassoc counts and signal/noise from a local
// interface in monitor mode. All external tool failures degrade to missing
// metrics; nothing here is fatal to the collection loop.
type LocalWiFi struct {
	iface      string
	ssid       string
	channel    int
	capture    time.Duration
	jamNoise   float64
	jamSNR     float64
	runCommand func(timeout time.Duration, name string, args ...string) (string, error)
}

// NewLocalWiFi builds a collector from config. It warns when the configured
// interface is not present so a misconfiguration shows up at startup rather
// than as silent empty cycles.
func NewLocalWiFi(cfg *config.Config) *LocalWiFi {
	c := &LocalWiFi{
		iface:      cfg.WifiInterface,
		ssid:       cfg.WifiSSID,
		channel:    cfg.WifiChannel,
		capture:    cfg.CaptureDuration(),
		jamNoise:   cfg.JamNoiseDbm,
		jamSNR:     cfg.JamSNRDb,
		runCommand: runCommand,
	}
	if !interfaceExists(c.iface) {
		log.Printf("[collector] interface %s not found; captures will come back empty", c.iface)
	}
	return c
}

// Nominal is the configured capture duration.
func (c *LocalWiFi) Nominal() time.Duration { return c.capture }

// Collect runs one capture cycle: retune (SSID lookup preferred, channel
// fallback), count deauth/disassoc via tshark, read signal/noise from
// radiotap or iw/iwconfig, and derive the rf_jam flag.
func (c *LocalWiFi) Collect() (map[string]float64, error) {
	result := map[string]float64{}

	freq := 0
	if c.ssid != "" {
		freq = c.frequencyForSSID(c.ssid)
		if freq == 0 {
			log.Printf("[collector] no channel found for SSID %q (scan may not work in monitor mode); using channel=%d", c.ssid, c.channel)
		}
	}
	if freq != 0 {
		c.retune("freq", freq)
	} else if c.channel != 0 {
		c.retune("channel", c.channel)
	}

	deauth, disassoc, radioSignal, radioNoise, ok := c.countManagementFrames()
	if ok {
		result[models.MetricDeauthCount] = float64(deauth)
		result[models.MetricDisassocCount] = float64(disassoc)
	}

	// tshark radiotap is primary (monitor mode); iw/iwconfig cover the
	// associated case.
	signal, noise := radioSignal, radioNoise
	if signal == nil || noise == nil {
		iwSignal, iwNoise := c.readSignalNoise()
		if signal == nil {
			signal = iwSignal
		}
		if noise == nil {
			noise = iwNoise
		}
	}
	if signal != nil {
		result[models.MetricLocalWifiSignalDbm] = round2(*signal)
	}
	if noise != nil {
		result[models.MetricLocalWifiNoiseDbm] = round2(*noise)
	}

	if jam, ok := c.inferRFJamming(signal, noise); ok {
		result[models.MetricRFJamDetected] = float64(jam)
	}

	return result, nil
}

// ScanChannels hops through channels and captures signal/noise on each.
// The caller is responsible for having the interface in monitor mode.
func (c *LocalWiFi) ScanChannels(channels []int, perChannel time.Duration) ([]ChannelReading, error) {
	readings := make([]ChannelReading, 0, len(channels))
	for _, ch := range channels {
		c.retune("channel", ch)
		signal, noise := c.captureSignalNoise(perChannel)
		readings = append(readings, ChannelReading{Channel: ch, SignalDbm: signal, NoiseDbm: noise})
	}
	return readings, nil
}

// retune points the interface at a channel or frequency. Best effort: drivers
// refuse retunes in some states and the capture still has value where it is.
func (c *LocalWiFi) retune(kind string, value int) {
	out, err := c.runCommand(5*time.Second, "iw", "dev", c.iface, "set", kind, strconv.Itoa(value))
	if err != nil {
		log.Printf("[collector] could not set %s to %s %d: %v (%s)", c.iface, kind, value, err, strings.TrimSpace(out))
	}
}

var (
	bssFreqRe = regexp.MustCompile(`^frequency:\s*(\d+)`)
	bssSSIDRe = regexp.MustCompile(`^SSID:\s*(.+)$`)
)

// frequencyForSSID scans for the first BSS advertising ssid and returns its
// frequency in MHz, or 0 when the scan fails or the SSID is absent.
func (c *LocalWiFi) frequencyForSSID(ssid string) int {
	out, err := c.runCommand(15*time.Second, "iw", "dev", c.iface, "scan")
	if err != nil {
		return 0
	}
	freq := 0
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(line, "BSS ") {
			freq = 0
			continue
		}
		if m := bssFreqRe.FindStringSubmatch(trimmed); m != nil {
			freq, _ = strconv.Atoi(m[1])
			continue
		}
		if m := bssSSIDRe.FindStringSubmatch(trimmed); m != nil && freq != 0 {
			if strings.TrimSpace(m[1]) == ssid {
				return freq
			}
		}
	}
	return 0
}

// countManagementFrames captures management frames for the nominal duration
// and returns deauth/disassoc counts plus mean radiotap signal/noise when the
// driver reports them. ok is false when tshark is unavailable or the capture
// failed entirely.
func (c *LocalWiFi) countManagementFrames() (deauth, disassoc int, signal, noise *float64, ok bool) {
	if _, err := exec.LookPath("tshark"); err != nil {
		log.Printf("[collector] tshark not available for deauth counting")
		return 0, 0, nil, nil, false
	}

	duration := clampSeconds(c.capture, 1, 120)
	out, err := c.runCommand(time.Duration(duration+10)*time.Second,
		"tshark",
		"-i", c.iface,
		"-Y", "wlan.fc.type == 0",
		"-a", fmt.Sprintf("duration:%d", duration),
		"-q",
		"-T", "fields",
		"-e", "wlan.fc.type_subtype",
		"-e", "radiotap.dbm_antsignal",
		"-e", "radiotap.dbm_antnoise",
	)
	if err != nil {
		log.Printf("[collector] tshark capture failed: %v", err)
		return 0, 0, nil, nil, false
	}

	var signals, noises []float64
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) == 0 || parts[0] == "" {
			continue
		}
		st, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}
		switch st {
		case subtypeDeauth:
			deauth++
		case subtypeDisassoc:
			disassoc++
		}
		if len(parts) >= 2 {
			if v, ok := parseDbmField(parts[1]); ok {
				signals = append(signals, v)
			}
		}
		if len(parts) >= 3 {
			if v, ok := parseDbmField(parts[2]); ok {
				noises = append(noises, v)
			}
		}
	}
	return deauth, disassoc, meanPtr(signals), meanPtr(noises), true
}

// captureSignalNoise runs a short capture on the current channel and returns
// mean radiotap signal/noise.
func (c *LocalWiFi) captureSignalNoise(duration time.Duration) (signal, noise *float64) {
	if _, err := exec.LookPath("tshark"); err != nil {
		return nil, nil
	}
	secs := clampSeconds(duration, 1, 60)
	out, err := c.runCommand(time.Duration(secs+10)*time.Second,
		"tshark",
		"-i", c.iface,
		"-Y", "wlan",
		"-a", fmt.Sprintf("duration:%d", secs),
		"-q",
		"-T", "fields",
		"-e", "radiotap.dbm_antsignal",
		"-e", "radiotap.dbm_antnoise",
	)
	if err != nil {
		return nil, nil
	}
	var signals, noises []float64
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) >= 1 {
			if v, ok := parseDbmField(parts[0]); ok {
				signals = append(signals, v)
			}
		}
		if len(parts) >= 2 {
			if v, ok := parseDbmField(parts[1]); ok {
				noises = append(noises, v)
			}
		}
	}
	return meanPtr(signals), meanPtr(noises)
}

var (
	iwSignalRe       = regexp.MustCompile(`(?i)signal:\s*(-?\d+(?:\.\d+)?)\s*dBm`)
	iwconfigSignalRe = regexp.MustCompile(`(?i)Signal\s+level[=:](-?\d+(?:\.\d+)?)\s*dBm`)
	iwconfigNoiseRe  = regexp.MustCompile(`(?i)Noise\s+level[=:](-?\d+(?:\.\d+)?)\s*dBm`)
)

// readSignalNoise reads signal/noise from iw link (when associated) or
// iwconfig. Both are often empty in monitor mode; the radiotap path usually
// covers that case.
func (c *LocalWiFi) readSignalNoise() (signal, noise *float64) {
	if out, err := c.runCommand(5*time.Second, "iw", "dev", c.iface, "link"); err == nil {
		if m := iwSignalRe.FindStringSubmatch(out); m != nil {
			v, _ := strconv.ParseFloat(m[1], 64)
			// iw link rarely reports noise; iwconfig may.
			_, n := c.readSignalNoiseIwconfig()
			return &v, n
		}
	}
	return c.readSignalNoiseIwconfig()
}

func (c *LocalWiFi) readSignalNoiseIwconfig() (signal, noise *float64) {
	out, err := c.runCommand(5*time.Second, "iwconfig", c.iface)
	if err != nil {
		return nil, nil
	}
	if m := iwconfigSignalRe.FindStringSubmatch(out); m != nil {
		v, _ := strconv.ParseFloat(m[1], 64)
		signal = &v
	}
	if m := iwconfigNoiseRe.FindStringSubmatch(out); m != nil {
		v, _ := strconv.ParseFloat(m[1], 64)
		noise = &v
	}
	return signal, noise
}

// inferRFJamming flags jamming when the noise floor sits above the threshold
// or the SNR falls below it. ok is false when neither signal nor noise is
// known, so the column stays null rather than defaulting to "no jam".
func (c *LocalWiFi) inferRFJamming(signal, noise *float64) (jam int, ok bool) {
	if noise != nil && *noise > c.jamNoise {
		return 1, true
	}
	if signal != nil && noise != nil && *signal-*noise < c.jamSNR {
		return 1, true
	}
	if signal != nil || noise != nil {
		return 0, true
	}
	return 0, false
}

// parseDbmField parses one tshark dBm field. Drivers with multiple antennas
// report "-70,-70,-72"; those collapse to their mean.
func parseDbmField(field string) (float64, bool) {
	field = strings.TrimSpace(field)
	if field == "" {
		return 0, false
	}
	if !strings.Contains(field, ",") {
		v, err := strconv.ParseFloat(field, 64)
		return v, err == nil
	}
	var values []float64
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if v, err := strconv.ParseFloat(part, 64); err == nil {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return 0, false
	}
	return mean(values), true
}

func interfaceExists(name string) bool {
	ifaces, err := psnet.Interfaces()
	if err != nil {
		return true // cannot tell; assume present
	}
	for _, i := range ifaces {
		if i.Name == name {
			return true
		}
	}
	return false
}

func runCommand(timeout time.Duration, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return string(out), fmt.Errorf("%s timed out after %s", name, timeout)
	}
	return string(out), err
}

func clampSeconds(d time.Duration, lo, hi int) int {
	s := int(d.Seconds())
	if s < lo {
		return lo
	}
	if s > hi {
		return hi
	}
	return s
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func meanPtr(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	m := mean(values)
	return &m
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
