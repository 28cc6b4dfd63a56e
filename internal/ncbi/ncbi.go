// Package ncbi implements the external NCBI E-utilities study-query client
// from spec.md §6's query.* configuration keys: a rate-limited HTTP client
// plus GDS query construction and GSE-id extraction/dedup. Ported from
// original_source/src/geo_cleaner/ncbi_client.py and querygse.py, in the
// idiom of rishianshu-Nucleus's hand-rolled net/http clients (no HTTP
// client library appears anywhere in the retrieved pack).
package ncbi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Client is a throttled NCBI E-utilities HTTP client. Every request is
// tagged with tool/email (and an optional api_key) per NCBI's usage
// policy, matching ncbi_client.py's NCBIClient.get.
type Client struct {
	BaseURL string
	Tool    string
	Email   string
	APIKey  string
	Timeout time.Duration
	RPS     float64

	httpClient *http.Client
	mu         sync.Mutex
	lastCall   time.Time
}

// NewClient builds a Client with the given identification/rate-limit
// parameters.
func NewClient(baseURL, tool, email, apiKey string, timeout time.Duration, rps float64) *Client {
	return &Client{
		BaseURL:    baseURL,
		Tool:       tool,
		Email:      email,
		APIKey:     apiKey,
		Timeout:    timeout,
		RPS:        rps,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) throttle() {
	if c.RPS <= 0 {
		return
	}
	minInterval := time.Duration(float64(time.Second) / c.RPS)
	c.mu.Lock()
	defer c.mu.Unlock()
	elapsed := time.Since(c.lastCall)
	if elapsed < minInterval {
		time.Sleep(minInterval - elapsed)
	}
	c.lastCall = time.Now()
}

// Get issues a rate-limited GET to endpoint with params, tagging the
// request with tool/email/api_key, and decodes the JSON response into out.
func (c *Client) Get(endpoint string, params map[string]string, out any) error {
	c.throttle()

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	values.Set("tool", c.Tool)
	values.Set("email", c.Email)
	if c.APIKey != "" {
		values.Set("api_key", c.APIKey)
	}

	fullURL := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/") + "?" + values.Encode()
	resp, err := c.httpClient.Get(fullURL)
	if err != nil {
		return fmt.Errorf("ncbi: request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ncbi: request %s failed: status=%d", endpoint, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// QueryInputs mirrors spec.md §6's query.terms/organism/date_start/
// date_end/max_gse configuration.
type QueryInputs struct {
	Terms     []string
	Organism  string
	DateStart string
	DateEnd   string
	MaxGSE    int
}

var dateRx = regexp.MustCompile(`^\d{4}(-\d{2})?(-\d{2})?$`)

func normalizeDateForPDAT(s string) string {
	return strings.ReplaceAll(s, "-", "/")
}

func maybeQuote(term string) string {
	t := strings.TrimSpace(term)
	for _, marker := range []string{"[", "]", "(", ")", " AND ", " OR ", " NOT ", `"`} {
		if strings.Contains(t, marker) {
			return t
		}
	}
	if strings.Contains(t, " ") {
		return `"` + t + `"`
	}
	return t
}

// BuildGDSQuery constructs one E-utilities GDS query string for a single
// search term, per querygse.py's build_gds_query.
func BuildGDSQuery(q QueryInputs, singleTerm string) string {
	parts := []string{maybeQuote(singleTerm), "gse[ETYP]"}

	if q.Organism != "" {
		parts = append(parts, fmt.Sprintf("%s[ORGN]", maybeQuote(q.Organism)))
	}
	if q.DateStart != "" && q.DateEnd != "" {
		ds := normalizeDateForPDAT(q.DateStart)
		de := normalizeDateForPDAT(q.DateEnd)
		if dateRx.MatchString(q.DateStart) {
			ds = normalizeDateForPDAT(q.DateStart)
		}
		if dateRx.MatchString(q.DateEnd) {
			de = normalizeDateForPDAT(q.DateEnd)
		}
		parts = append(parts, fmt.Sprintf("%s:%s[PDAT]", ds, de))
	}

	wrapped := make([]string, len(parts))
	for i, p := range parts {
		if strings.Contains(p, " ") && !strings.HasPrefix(p, "(") && p != "gse[ETYP]" {
			wrapped[i] = "(" + p + ")"
		} else {
			wrapped[i] = p
		}
	}
	return strings.Join(wrapped, " AND ")
}

type esearchResponse struct {
	ESearchResult struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type esummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

func extractAccessions(payload esummaryResponse) []string {
	var out []string
	raw, ok := payload.Result["uids"]
	if !ok {
		return out
	}
	var uids []string
	if err := json.Unmarshal(raw, &uids); err != nil {
		return out
	}
	for _, uid := range uids {
		recRaw, ok := payload.Result[uid]
		if !ok {
			continue
		}
		var rec map[string]json.RawMessage
		if err := json.Unmarshal(recRaw, &rec); err != nil {
			continue
		}
		if accRaw, ok := rec["accession"]; ok {
			var acc string
			if err := json.Unmarshal(accRaw, &acc); err == nil && strings.HasPrefix(acc, "GSE") {
				out = append(out, acc)
				continue
			}
		}
		for _, v := range rec {
			var s string
			if err := json.Unmarshal(v, &s); err == nil && strings.HasPrefix(s, "GSE") {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func gseNumericKey(acc string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(acc, "GSE"))
	if err != nil {
		return 1 << 62
	}
	return n
}

// QueryGSEIDs runs one ESearch+ESummary round-trip per term in q.Terms
// against db=gds, unions the resulting GSE accessions, sorts them by
// numeric accession suffix, and truncates to q.MaxGSE if positive
// (querygse.py's query_gse_ids).
func QueryGSEIDs(client *Client, q QueryInputs) ([]string, error) {
	seen := make(map[string]bool)
	var union []string

	for _, term := range q.Terms {
		gdsTerm := BuildGDSQuery(q, term)

		var es esearchResponse
		if err := client.Get("esearch.fcgi", map[string]string{
			"db":      "gds",
			"term":    gdsTerm,
			"retmode": "json",
			"retmax":  strconv.Itoa(maxInt(q.MaxGSE, 0)),
		}, &es); err != nil {
			return nil, fmt.Errorf("ncbi: esearch for term %q: %w", term, err)
		}
		if len(es.ESearchResult.IDList) == 0 {
			continue
		}

		var sm esummaryResponse
		if err := client.Get("esummary.fcgi", map[string]string{
			"db":      "gds",
			"id":      strings.Join(es.ESearchResult.IDList, ","),
			"retmode": "json",
		}, &sm); err != nil {
			return nil, fmt.Errorf("ncbi: esummary for term %q: %w", term, err)
		}

		for _, acc := range extractAccessions(sm) {
			if !seen[acc] {
				seen[acc] = true
				union = append(union, acc)
			}
		}
	}

	sort.Slice(union, func(i, j int) bool { return gseNumericKey(union[i]) < gseNumericKey(union[j]) })
	if q.MaxGSE > 0 && len(union) > q.MaxGSE {
		union = union[:q.MaxGSE]
	}
	return union, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
