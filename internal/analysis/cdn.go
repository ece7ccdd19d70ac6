// Package analysis implements the change analyzer: CDN detection, load
// balancer pattern classification, temporal context, change classification,
// cross-domain correlation, and the dampening calculator.
package analysis

import (
	"encoding/binary"
	"net"
)

// CDNResult reports how much of an IP set falls inside known CDN ranges.
type CDNResult struct {
	Provider   string  // matched provider when Confidence > 0.5, else empty
	Confidence float64 // fraction of input IPs inside CDN ranges
	IsAnyCDN   bool    // at least one IP matched
}

type cdnRange struct {
	provider string
	start    uint32
	end      uint32
}

// cdnRanges is the curated provider range database. Read-only after init.
var cdnRanges = []cdnRange{
	{"Cloudflare", mustIP("104.16.0.0"), mustIP("104.31.255.255")},
	{"Cloudflare", mustIP("172.64.0.0"), mustIP("172.71.255.255")},
	{"Cloudflare", mustIP("108.162.192.0"), mustIP("108.162.255.255")},
	{"Cloudflare", mustIP("190.93.240.0"), mustIP("190.93.255.255")},
	{"Cloudflare", mustIP("188.114.96.0"), mustIP("188.114.127.255")},

	{"AWS", mustIP("13.32.0.0"), mustIP("13.35.255.255")},
	{"AWS", mustIP("13.224.0.0"), mustIP("13.227.255.255")},
	{"AWS", mustIP("13.249.0.0"), mustIP("13.249.255.255")},
	{"AWS", mustIP("52.84.0.0"), mustIP("52.85.255.255")},
	{"AWS", mustIP("54.230.0.0"), mustIP("54.239.255.255")},
	{"AWS", mustIP("204.246.164.0"), mustIP("204.246.191.255")},
	{"AWS", mustIP("205.251.192.0"), mustIP("205.251.255.255")},

	{"Fastly", mustIP("23.235.32.0"), mustIP("23.235.63.255")},
	{"Fastly", mustIP("151.101.0.0"), mustIP("151.101.255.255")},
	{"Fastly", mustIP("199.232.0.0"), mustIP("199.232.255.255")},

	{"Google", mustIP("35.186.0.0"), mustIP("35.191.255.255")},
	{"Google", mustIP("130.211.0.0"), mustIP("130.211.255.255")},
	{"Google", mustIP("35.244.0.0"), mustIP("35.247.255.255")},

	{"Azure", mustIP("40.90.0.0"), mustIP("40.91.255.255")},
	{"Azure", mustIP("13.107.42.0"), mustIP("13.107.43.255")},
	{"Azure", mustIP("204.79.197.0"), mustIP("204.79.197.255")},

	{"KeyCDN", mustIP("119.81.0.0"), mustIP("119.81.255.255")},

	{"StackPath", mustIP("94.31.0.0"), mustIP("94.31.255.255")},

	{"Imperva", mustIP("149.126.72.0"), mustIP("149.126.79.255")},
	{"Imperva", mustIP("185.11.124.0"), mustIP("185.11.127.255")},
}

// DetectCDN classifies an IPv4 set against the provider range database.
// Unparseable addresses count against confidence.
func DetectCDN(ips []string) CDNResult {
	if len(ips) == 0 {
		return CDNResult{}
	}

	matches := 0
	firstProvider := ""
	for _, ip := range ips {
		n, ok := ipToUint32(ip)
		if !ok {
			continue
		}
		for _, r := range cdnRanges {
			if n >= r.start && n <= r.end {
				matches++
				if firstProvider == "" {
					firstProvider = r.provider
				}
				break
			}
		}
	}

	result := CDNResult{
		Confidence: float64(matches) / float64(len(ips)),
		IsAnyCDN:   matches > 0,
	}
	if result.Confidence > 0.5 {
		result.Provider = firstProvider
	}
	return result
}

func ipToUint32(s string) (uint32, bool) {
	ip := net.ParseIP(s)
	if ip == nil {
		return 0, false
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, false
	}
	return binary.BigEndian.Uint32(v4), true
}

func mustIP(s string) uint32 {
	n, ok := ipToUint32(s)
	if !ok {
		panic("invalid range literal: " + s)
	}
	return n
}
