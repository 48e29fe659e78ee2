package powermetrics_test

import (
	"fmt"
	"strings"
)

type recordOpts struct {
	timestamp   string
	cpuPower    string
	omitCPU     bool
	cpuEnergy   string
	elapsedNs   string
	gpuIdle     string
	withIO      bool
	extraUnused bool
}

// record renders a powermetrics-style plist document followed by the NUL
// separator the utility writes between samples.
func record(o recordOpts) string {
	if o.timestamp == "" {
		o.timestamp = "2024-05-01T10:00:00Z"
	}
	if o.gpuIdle == "" {
		o.gpuIdle = "0.75"
	}

	var power strings.Builder
	switch {
	case o.omitCPU:
	case o.cpuEnergy != "":
		fmt.Fprintf(&power, "<key>cpu_energy</key><integer>%s</integer>", o.cpuEnergy)
	default:
		cpu := o.cpuPower
		if cpu == "" {
			cpu = "1000"
		}
		fmt.Fprintf(&power, "<key>cpu_power</key><real>%s</real>", cpu)
	}

	var elapsed string
	if o.elapsedNs != "" {
		elapsed = fmt.Sprintf("<key>elapsed_ns</key><integer>%s</integer>", o.elapsedNs)
	}

	var io string
	if o.withIO {
		io = `<key>network</key><dict><key>ibyte_rate</key><real>2048</real><key>obyte_rate</key><real>512</real></dict>
<key>disk</key><dict><key>rbytes_per_s</key><real>4096</real><key>wbytes_per_s</key><real>1024</real></dict>`
	}

	var extra string
	if o.extraUnused {
		extra = "<key>hw_model</key><string>Mac14,2</string>"
	}

	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
<key>timestamp</key><date>%s</date>
%s%s
<key>thermal_pressure</key><string>Nominal</string>
<key>processor</key>
<dict>
<key>clusters</key>
<array>
<dict>
<key>name</key><string>E-Cluster</string>
<key>freq_hz</key><real>1020000000</real>
<key>idle_ratio</key><real>0.8</real>
<key>cpus</key>
<array>
<dict><key>cpu</key><integer>1</integer><key>freq_hz</key><real>972000000</real><key>idle_ratio</key><real>0.9</real></dict>
<dict><key>cpu</key><integer>0</integer><key>freq_hz</key><real>1020000000</real><key>idle_ratio</key><real>0.7</real></dict>
</array>
</dict>
<dict>
<key>name</key><string>P-Cluster</string>
<key>freq_hz</key><real>3204000000</real>
<key>idle_ratio</key><real>0.5</real>
<key>cpus</key>
<array>
<dict><key>cpu</key><integer>2</integer><key>freq_hz</key><real>3204000000</real><key>idle_ratio</key><real>0.4</real></dict>
<dict><key>cpu</key><integer>3</integer><key>freq_hz</key><real>2900000000</real><key>idle_ratio</key><real>0.6</real></dict>
</array>
</dict>
</array>
%s
<key>gpu_power</key><real>250</real>
<key>ane_power</key><real>800</real>
<key>combined_power</key><real>2050</real>
</dict>
<key>gpu</key>
<dict>
<key>freq_hz</key><real>389000000</real>
<key>idle_ratio</key><real>%s</real>
</dict>
%s
</dict>
</plist>
`, o.timestamp, elapsed, extra, power.String(), o.gpuIdle, io) + "\x00"
}
