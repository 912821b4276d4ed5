package venue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

// Source is the upstream venue contract the ingest pipeline polls. Real and
// synthetic implementations satisfy it.
type Source interface {
	// Name labels telemetry series for this source.
	Name() string
	// ListMarkets returns one metadata page in a deterministic order plus
	// the cursor for the next page ("" when exhausted).
	ListMarkets(ctx context.Context, limit int, cursor string) ([]Market, string, error)
	// MarketDetail maps outcome labels to token identifiers.
	MarketDetail(ctx context.Context, marketID string) (*MarketDetail, error)
	// Book fetches an order-book snapshot for a token. PolymarketSource
	// serves results from a short TTL cache without a network call on hit;
	// SyntheticSource draws a fresh snapshot on every call.
	Book(ctx context.Context, tokenID string) (*Book, error)
}

type Market struct {
	MarketID string
	Title    string
	Status   string
	StartsAt *time.Time
	EndsAt   *time.Time
	Tags     []string
}

type Outcome struct {
	Label   string
	TokenID string
	Price   *float64
}

type MarketDetail struct {
	MarketID  string
	Title     string
	Status    string
	StartsAt  *time.Time
	EndsAt    *time.Time
	Outcomes  []Outcome
	Liquidity float64
	Volume    float64
}

type Book struct {
	TS        time.Time
	Price     float64
	BestBid   float64
	BestAsk   float64
	Liquidity float64
}

// APIError carries the upstream status so callers can classify the failure.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("venue API error (%d): %s", e.Status, e.Body)
}

// ErrSchema marks an upstream record that cannot be interpreted. It is fatal
// for that record only and never retried.
var ErrSchema = errors.New("venue: schema violation")

// Retriable reports whether the error is worth retrying with backoff:
// timeouts, connection resets, 429 and 5xx. Other 4xx and schema violations
// are fatal.
func Retriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSchema) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return false
}
