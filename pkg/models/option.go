package models

import (
	"time"
)

// Option styles accepted on the wire
const (
	OptionPut  = "put"
	OptionCall = "call"
)

// Pricing methods a request can ask for
const (
	MethodQdFp   = "qdfp"
	MethodQdPlus = "qdplus"
)

// OptionContract holds the market and contract inputs of one American option
type OptionContract struct {
	Symbol     string  `json:"symbol,omitempty"`
	OptionType string  `json:"option_type"` // "put" or "call"
	Spot       float64 `json:"spot"`
	Strike     float64 `json:"strike"`
	Rate       float64 `json:"rate"`
	Dividend   float64 `json:"dividend"`
	Volatility float64 `json:"volatility"`
	Maturity   float64 `json:"maturity"` // years
}

// A request to price one option
type PricingRequest struct {
	ID string `json:"id,omitempty"`
	OptionContract
	Method string `json:"method,omitempty"` // "qdfp" (default) or "qdplus"
	Greeks bool   `json:"greeks,omitempty"`
}

// The Greeks of an American option
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
}

// Solver diagnostics of one refined boundary
type Diagnostics struct {
	Nodes             int       `json:"nodes"`
	PassChanges       []float64 `json:"pass_changes"`
	RecoveredNodes    int       `json:"recovered_nodes"`
	Diverged          bool      `json:"diverged"`
	QdPlusEvaluations int       `json:"qdplus_evaluations"`
	BrentFallbacks    int       `json:"brent_fallbacks"`
}

// The result of pricing one option
type PricingResult struct {
	ID          string       `json:"id,omitempty"`
	Symbol      string       `json:"symbol,omitempty"`
	OptionType  string       `json:"option_type"`
	Price       float64      `json:"price"`
	European    float64      `json:"european"`
	Premium     float64      `json:"premium"`
	Method      string       `json:"method"`
	Equation    string       `json:"equation,omitempty"`
	Greeks      *Greeks      `json:"greeks,omitempty"`
	Diagnostics *Diagnostics `json:"diagnostics,omitempty"`
	Error       string       `json:"error,omitempty"`
	ErrorType   string       `json:"error_type,omitempty"`
	Latency     int64        `json:"latency_us"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Failed reports whether the result carries an error instead of a price
func (r *PricingResult) Failed() bool {
	return r.Error != ""
}

// A request for the volatility that reproduces a market price
type ImpliedVolRequest struct {
	ID string `json:"id,omitempty"`
	OptionContract
	TargetPrice float64 `json:"target_price"`
}

// The implied volatility of one option
type ImpliedVolResult struct {
	ID                string  `json:"id,omitempty"`
	ImpliedVolatility float64 `json:"implied_volatility"`
	TargetPrice       float64 `json:"target_price"`
}

// A request for the early exercise boundary
type BoundaryRequest struct {
	OptionContract
	Points int `json:"points,omitempty"` // evenly spaced samples in addition to the nodes
}

// One point of an exercise boundary
type BoundaryPoint struct {
	Tau   float64 `json:"tau"`
	Value float64 `json:"value"`
}

// The exercise boundary of an American option. For calls the values are the
// call boundary, above which exercise is optimal.
type BoundaryResult struct {
	OptionType  string          `json:"option_type"`
	Equation    string          `json:"equation"`
	Nodes       []BoundaryPoint `json:"nodes"`
	Samples     []BoundaryPoint `json:"samples,omitempty"`
	Diagnostics *Diagnostics    `json:"diagnostics,omitempty"`
}

// A batch of pricing requests
type BatchRequest struct {
	Requests []PricingRequest `json:"requests"`
}

// The results of a batch, in request order
type BatchResult struct {
	Results   []PricingResult `json:"results"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	// Total of the successful prices
	TotalPrice float64 `json:"total_price"`
}
