package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// PolymarketSource talks to the gamma API for metadata and the CLOB API for
// order books. Outbound calls share one rate limiter; book responses are
// cached for a short TTL so bursts inside one ingest cycle do not refetch.
type PolymarketSource struct {
	gammaHost  string
	clobHost   string
	httpClient *http.Client
	limiter    *rate.Limiter

	books   *ttlCache[*Book]
	details *ttlCache[*MarketDetail]
}

type PolymarketOptions struct {
	GammaBaseURL string
	ClobBaseURL  string
	BookTTL      time.Duration
	DetailTTL    time.Duration
	RatePerSec   float64
	RateBurst    int
}

func NewPolymarketSource(httpClient *http.Client, opts PolymarketOptions) *PolymarketSource {
	if opts.GammaBaseURL == "" {
		opts.GammaBaseURL = "https://gamma-api.polymarket.com"
	}
	if opts.ClobBaseURL == "" {
		opts.ClobBaseURL = "https://clob.polymarket.com"
	}
	if opts.BookTTL <= 0 {
		opts.BookTTL = 5 * time.Second
	}
	if opts.DetailTTL <= 0 {
		opts.DetailTTL = 2 * time.Minute
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 10
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	return &PolymarketSource{
		gammaHost:  strings.TrimRight(opts.GammaBaseURL, "/"),
		clobHost:   strings.TrimRight(opts.ClobBaseURL, "/"),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RateBurst),
		books:      newTTLCache[*Book](opts.BookTTL),
		details:    newTTLCache[*MarketDetail](opts.DetailTTL),
	}
}

func (s *PolymarketSource) Name() string { return "polymarket" }

func (s *PolymarketSource) doRequest(ctx context.Context, fullURL string, query url.Values) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

type gammaMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	Title         string   `json:"title"`
	Closed        bool     `json:"closed"`
	StartDate     string   `json:"startDate"`
	EndDate       string   `json:"endDate"`
	Outcomes      any      `json:"outcomes"`
	ClobTokenIDs  any      `json:"clobTokenIds"`
	OutcomePrices any      `json:"outcomePrices"`
	Liquidity     any      `json:"liquidityClob"`
	Volume        any      `json:"volume24hrClob"`
	Categories    []string `json:"categories"`
}

func (s *PolymarketSource) ListMarkets(ctx context.Context, limit int, cursor string) ([]Market, string, error) {
	if limit <= 0 {
		limit = 200
	}
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("%w: bad cursor %q", ErrSchema, cursor)
		}
		offset = n
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))
	query.Set("closed", "false")
	query.Set("order", "id")
	query.Set("ascending", "true")
	body, err := s.doRequest(ctx, s.gammaHost+"/markets", query)
	if err != nil {
		return nil, "", err
	}
	var raw []gammaMarket
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, "", fmt.Errorf("%w: market list: %v", ErrSchema, err)
	}
	markets := make([]Market, 0, len(raw))
	for _, item := range raw {
		if item.ID == "" {
			continue
		}
		title := item.Question
		if title == "" {
			title = item.Title
		}
		status := "open"
		if item.Closed {
			status = "closed"
		}
		markets = append(markets, Market{
			MarketID: item.ID,
			Title:    title,
			Status:   status,
			StartsAt: parseISO(item.StartDate),
			EndsAt:   parseISO(item.EndDate),
			Tags:     item.Categories,
		})
	}
	next := ""
	if len(raw) == limit {
		next = strconv.Itoa(offset + limit)
	}
	return markets, next, nil
}

func (s *PolymarketSource) MarketDetail(ctx context.Context, marketID string) (*MarketDetail, error) {
	if marketID == "" {
		return nil, fmt.Errorf("market_id is required")
	}
	if cached, ok := s.details.get(marketID); ok {
		return cached, nil
	}
	body, err := s.doRequest(ctx, s.gammaHost+"/markets/"+url.PathEscape(marketID), nil)
	if err != nil {
		return nil, err
	}
	var raw gammaMarket
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: market %s detail: %v", ErrSchema, marketID, err)
	}
	detail, err := normalizeDetail(raw)
	if err != nil {
		return nil, err
	}
	s.details.set(marketID, detail)
	return detail, nil
}

func normalizeDetail(raw gammaMarket) (*MarketDetail, error) {
	labels := parseStringList(raw.Outcomes)
	if len(labels) == 0 {
		labels = []string{"Yes", "No"}
	}
	tokens := parseStringList(raw.ClobTokenIDs)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: market %s has no clobTokenIds", ErrSchema, raw.ID)
	}
	prices := parseFloatList(raw.OutcomePrices)
	outcomes := make([]Outcome, 0, len(labels))
	for i, label := range labels {
		out := Outcome{Label: label}
		if i < len(tokens) {
			out.TokenID = tokens[i]
		}
		if i < len(prices) {
			p := prices[i]
			out.Price = &p
		}
		if out.TokenID == "" {
			return nil, fmt.Errorf("%w: market %s outcome %q has no token id", ErrSchema, raw.ID, label)
		}
		outcomes = append(outcomes, out)
	}
	title := raw.Question
	if title == "" {
		title = raw.Title
	}
	status := "open"
	if raw.Closed {
		status = "closed"
	}
	return &MarketDetail{
		MarketID:  raw.ID,
		Title:     title,
		Status:    status,
		StartsAt:  parseISO(raw.StartDate),
		EndsAt:    parseISO(raw.EndDate),
		Outcomes:  outcomes,
		Liquidity: toFloat(raw.Liquidity),
		Volume:    toFloat(raw.Volume),
	}, nil
}

type clobLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type clobBook struct {
	Bids      []clobLevel `json:"bids"`
	Asks      []clobLevel `json:"asks"`
	Timestamp string      `json:"timestamp"`
}

func (s *PolymarketSource) Book(ctx context.Context, tokenID string) (*Book, error) {
	if tokenID == "" {
		return nil, fmt.Errorf("token_id is required")
	}
	if cached, ok := s.books.get(tokenID); ok {
		return cached, nil
	}
	query := url.Values{}
	query.Set("token_id", tokenID)
	body, err := s.doRequest(ctx, s.clobHost+"/book", query)
	if err != nil {
		return nil, err
	}
	var raw clobBook
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: book %s: %v", ErrSchema, tokenID, err)
	}
	book := normalizeBook(raw)
	s.books.set(tokenID, book)
	return book, nil
}

func normalizeBook(raw clobBook) *Book {
	bestBid, bidLiq := bestLevel(raw.Bids, true)
	bestAsk, askLiq := bestLevel(raw.Asks, false)
	price := 0.0
	switch {
	case bestBid > 0 && bestAsk > 0:
		price = (bestBid + bestAsk) / 2
	case bestBid > 0:
		price = bestBid
	case bestAsk > 0:
		price = bestAsk
	}
	ts := time.Now().UTC()
	if raw.Timestamp != "" {
		if ms, err := strconv.ParseInt(raw.Timestamp, 10, 64); err == nil && ms > 0 {
			ts = time.UnixMilli(ms).UTC()
		}
	}
	return &Book{
		TS:        ts,
		Price:     round4(price),
		BestBid:   round4(bestBid),
		BestAsk:   round4(bestAsk),
		Liquidity: bidLiq + askLiq,
	}
}

func bestLevel(levels []clobLevel, bid bool) (best float64, liquidity float64) {
	for _, lvl := range levels {
		p, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil || p <= 0 {
			continue
		}
		sz, _ := strconv.ParseFloat(lvl.Size, 64)
		liquidity += p * sz
		if best == 0 || (bid && p > best) || (!bid && p < best) {
			best = p
		}
	}
	return best, liquidity
}

func parseISO(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// Gamma encodes list fields either as JSON arrays or as stringified arrays.
func parseStringList(raw any) []string {
	switch v := raw.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	case []string:
		return v
	case string:
		var parsed []string
		if err := json.Unmarshal([]byte(v), &parsed); err == nil {
			return parsed
		}
		if v != "" {
			return []string{v}
		}
	}
	return nil
}

func parseFloatList(raw any) []float64 {
	out := []float64{}
	for _, item := range parseStringList(raw) {
		f, err := strconv.ParseFloat(item, 64)
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out
}

func toFloat(raw any) float64 {
	switch v := raw.(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

func round4(v float64) float64 {
	return float64(int64(v*10000+0.5)) / 10000
}
