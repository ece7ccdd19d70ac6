package store

import (
	"fmt"
	"time"
)

// Key layout. External tooling greps these literals; do not reformat.
const (
	KeyDynamicDomains = "dynamic:domains"
	KeyVersionID      = "system:version_id"
	KeyBotStatus      = "bot:status"

	// GlobalBucketWidth is the width of one global change bucket.
	GlobalBucketWidth = 5 * time.Minute
	// GlobalBucketTTL is how long a global change bucket survives.
	GlobalBucketTTL = time.Hour
)

// DomainStateKey holds the monitoring state for a domain.
func DomainStateKey(fqdn string) string { return "dns:" + fqdn + ":state" }

// DomainIPsKey holds the comma-separated sorted A records for a domain.
func DomainIPsKey(fqdn string) string { return "dns:" + fqdn + ":ips" }

// DomainSerialKey holds the last observed SOA serial for a domain.
func DomainSerialKey(fqdn string) string { return "dns:" + fqdn + ":serial" }

// LastNotifiedKey holds the last notification instant in decimal epoch ms.
func LastNotifiedKey(fqdn string) string { return "notify:" + fqdn + ":last" }

// RecentIPsKey holds the JSON recent-IP history for a domain.
func RecentIPsKey(fqdn string) string { return "notify:" + fqdn + ":recent_ips" }

// SuppressedUntilKey holds the auto-suppression expiry in decimal epoch ms.
// The key carries a matching TTL so it self-expires.
func SuppressedUntilKey(fqdn string) string { return "notify:" + fqdn + ":suppressed_until" }

// GlobalChangesKey returns the bucket key covering instant t.
func GlobalChangesKey(t time.Time) string {
	bucket := t.UnixMilli() / GlobalBucketWidth.Milliseconds()
	return fmt.Sprintf("global:dns_changes:%d", bucket)
}

// DomainKeys returns every per-domain key, used on removal.
func DomainKeys(fqdn string) []string {
	return []string{
		DomainStateKey(fqdn),
		DomainIPsKey(fqdn),
		DomainSerialKey(fqdn),
		LastNotifiedKey(fqdn),
		RecentIPsKey(fqdn),
		SuppressedUntilKey(fqdn),
	}
}
