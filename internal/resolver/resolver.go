// Package resolver queries a recursive DNS resolver over HTTPS and reports
// A records, SOA fields, and authority reachability for monitored domains.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"

	"github.com/dnsvigil/dnsvigil/internal/errkind"
)

// DefaultEndpoint is Cloudflare's JSON DoH endpoint.
const DefaultEndpoint = "https://1.1.1.1/dns-query"

const (
	queryTimeout  = 5 * time.Second
	userAgent     = "dnsvigil/1.0"
	noAuthMarker  = "No Reachable Authority"
	typeARecord   = 1
	typeSOARecord = 6
)

// ARecord is one A answer with its TTL.
type ARecord struct {
	IP  string
	TTL int
}

// SOA carries the parsed start-of-authority fields.
type SOA struct {
	PrimaryNS  string
	AdminEmail string
	Serial     string
	Refresh    int64
	Retry      int64
	Expire     int64
	MinTTL     int64
}

// Result is the combined outcome of the SOA and A queries for one domain.
type Result struct {
	ARecords    []ARecord
	SOA         *SOA
	Status      int
	NoAuthority bool
	Comments    []string
}

// Resolver issues DoH queries against a fixed recursive resolver.
type Resolver struct {
	endpoint string
	client   *http.Client
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithEndpoint overrides the DoH endpoint. Used by tests and deployments
// behind a different recursive resolver.
func WithEndpoint(endpoint string) Option {
	return func(r *Resolver) { r.endpoint = endpoint }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) { r.client = client }
}

// New builds a Resolver with a DNS-cached dialer so repeated queries do not
// re-resolve the DoH endpoint itself.
func New(opts ...Option) *Resolver {
	cached := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			cached.Refresh(true)
		}
	}()

	dialer := &net.Dialer{Timeout: queryTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(address)
			if err != nil {
				return nil, err
			}
			ips, err := cached.LookupHost(ctx, host)
			if err != nil || len(ips) == 0 {
				// The endpoint is usually a literal IP anyway.
				return dialer.DialContext(ctx, network, address)
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		},
		MaxIdleConns:    16,
		IdleConnTimeout: 90 * time.Second,
	}

	r := &Resolver{
		endpoint: DefaultEndpoint,
		client:   &http.Client{Timeout: queryTimeout, Transport: transport},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// dohAnswer is one record in the DoH JSON response.
type dohAnswer struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	TTL  int    `json:"TTL"`
	Data string `json:"data"`
}

// dohResponse follows the standard DoH JSON contract. Comment is a string in
// some resolver versions and an array in others.
type dohResponse struct {
	Status    int             `json:"Status"`
	Answer    []dohAnswer     `json:"Answer"`
	Authority []dohAnswer     `json:"Authority"`
	Comment   json.RawMessage `json:"Comment"`
}

// Resolve issues the SOA query followed by the A query and combines the
// answers. Transport failures return an error; a non-zero DoH status is
// returned as data for the caller to interpret.
func (r *Resolver) Resolve(ctx context.Context, fqdn string) (*Result, error) {
	soaResp, err := r.query(ctx, fqdn, "SOA")
	if err != nil {
		return nil, err
	}
	aResp, err := r.query(ctx, fqdn, "A")
	if err != nil {
		return nil, err
	}

	result := &Result{
		Status:   aResp.Status,
		SOA:      extractSOA(soaResp),
		Comments: append(extractComments(soaResp), extractComments(aResp)...),
	}

	for _, ans := range aResp.Answer {
		if ans.Type == typeARecord {
			result.ARecords = append(result.ARecords, ARecord{IP: ans.Data, TTL: ans.TTL})
		}
	}

	for _, c := range result.Comments {
		if strings.Contains(c, noAuthMarker) {
			result.NoAuthority = true
			break
		}
	}

	log.Debug().
		Str("domain", fqdn).
		Int("status", result.Status).
		Int("aRecords", len(result.ARecords)).
		Bool("noAuthority", result.NoAuthority).
		Msg("Resolved domain")

	return result, nil
}

func (r *Resolver) query(ctx context.Context, fqdn, qtype string) (*dohResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	u := fmt.Sprintf("%s?name=%s&type=%s", r.endpoint, url.QueryEscape(fqdn), qtype)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errkind.NewDomain(errkind.KindInternal, "doh_request", fqdn, err)
	}
	req.Header.Set("Accept", "application/dns-json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errkind.NewDomain(errkind.KindTransport, "doh_query", fqdn, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errkind.NewDomain(errkind.KindTransport, "doh_query", fqdn,
			fmt.Errorf("unexpected HTTP status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errkind.NewDomain(errkind.KindTransport, "doh_read", fqdn, err)
	}

	var parsed dohResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errkind.NewDomain(errkind.KindTransport, "doh_parse", fqdn, err)
	}
	return &parsed, nil
}

// extractSOA pulls the SOA record from the answer or authority section.
// The data field is whitespace-separated:
// "primaryNS admin serial refresh retry expire minTTL".
func extractSOA(resp *dohResponse) *SOA {
	records := append(append([]dohAnswer(nil), resp.Answer...), resp.Authority...)
	for _, rec := range records {
		if rec.Type != typeSOARecord {
			continue
		}
		parts := strings.Fields(rec.Data)
		if len(parts) < 7 {
			continue
		}
		soa := &SOA{
			PrimaryNS:  strings.TrimSuffix(parts[0], "."),
			AdminEmail: adminEmail(parts[1]),
			Serial:     parts[2],
		}
		soa.Refresh = parseInt64(parts[3])
		soa.Retry = parseInt64(parts[4])
		soa.Expire = parseInt64(parts[5])
		soa.MinTTL = parseInt64(parts[6])
		return soa
	}
	return nil
}

// adminEmail converts the SOA RNAME form to a mailbox: the first label dot
// becomes an @.
func adminEmail(rname string) string {
	trimmed := strings.TrimSuffix(rname, ".")
	return strings.Replace(trimmed, ".", "@", 1)
}

func parseInt64(s string) int64 {
	var n int64
	fmt.Sscanf(s, "%d", &n)
	return n
}

func extractComments(resp *dohResponse) []string {
	if len(resp.Comment) == 0 {
		return nil
	}
	var single string
	if err := json.Unmarshal(resp.Comment, &single); err == nil {
		return []string{single}
	}
	var many []string
	if err := json.Unmarshal(resp.Comment, &many); err == nil {
		return many
	}
	return nil
}
