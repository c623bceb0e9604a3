package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rzzdr/qdfp-pricer/internal/american"
	"github.com/rzzdr/qdfp-pricer/pkg/utils/logger"
)

var (
	spot       = flag.Float64("spot", 100, "Spot price")
	strike     = flag.Float64("strike", 100, "Strike price")
	rate       = flag.Float64("rate", 0.05, "Continuously compounded interest rate")
	dividend   = flag.Float64("dividend", 0.02, "Continuous dividend yield")
	volatility = flag.Float64("vol", 0.25, "Volatility")
	maturity   = flag.Float64("maturity", 1, "Time to maturity in years")
	optionType = flag.String("type", "put", "Option type: put or call")
	schemeName = flag.String("scheme", "accurate", "Discretization: fast, accurate or high_precision")
	equation   = flag.String("equation", "auto", "Fixed point equation: auto, A or B")
	greeks     = flag.Bool("greeks", false, "Also compute Greeks")
	target     = flag.Float64("iv", 0, "Solve for the volatility matching this price instead of pricing")
	boundary   = flag.Bool("boundary", false, "Print the put exercise boundary at the collocation nodes")
	batchFile  = flag.String("batch", "", "Price every row of a CSV file (type,spot,strike,rate,dividend,vol,maturity); - reads stdin")
	workers    = flag.Int("workers", 4, "Concurrent pricings in batch mode")
	asJSON     = flag.Bool("json", false, "Print JSON output")
	timeout    = flag.Duration("timeout", time.Minute, "Overall timeout")
)

func main() {
	flag.Parse()

	logger.Init("warn", "development")
	log := logger.GetLogger("pricer")
	defer log.Sync()

	if err := run(os.Stdout); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(out io.Writer) error {
	scheme, err := american.ParseScheme(*schemeName)
	if err != nil {
		return err
	}
	eq, err := american.ParseEquation(*equation)
	if err != nil {
		return err
	}
	engine, err := american.NewEngine(american.WithScheme(scheme), american.WithEquation(eq))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *batchFile != "" {
		return runBatch(ctx, out, engine)
	}

	t, err := american.ParseOptionType(*optionType)
	if err != nil {
		return err
	}
	p := american.Params{
		Spot:       *spot,
		Strike:     *strike,
		Rate:       *rate,
		Dividend:   *dividend,
		Volatility: *volatility,
		Maturity:   *maturity,
	}

	switch {
	case *boundary:
		if t == american.Call {
			return fmt.Errorf("-boundary prints the put boundary; use -type put")
		}
		eb, err := engine.PutExerciseBoundary(ctx, p)
		if err != nil {
			return err
		}
		if *asJSON {
			return json.NewEncoder(out).Encode(eb)
		}
		fmt.Fprintf(out, "equation %s\n", eb.Equation)
		for i, tau := range eb.Taus {
			fmt.Fprintf(out, "%.6f\t%.6f\n", tau, eb.Values[i])
		}
		return nil

	case *target > 0:
		iv, err := engine.ImpliedVolatility(ctx, p, t, *target)
		if err != nil {
			return err
		}
		if *asJSON {
			return json.NewEncoder(out).Encode(map[string]float64{"implied_volatility": iv})
		}
		fmt.Fprintf(out, "implied volatility %.8f\n", iv)
		return nil
	}

	res, err := engine.Price(ctx, p, t)
	if err != nil {
		return err
	}

	var g *american.Greeks
	if *greeks {
		gr, err := engine.Greeks(ctx, p, t)
		if err != nil {
			return err
		}
		g = &gr
	}

	if *asJSON {
		return json.NewEncoder(out).Encode(struct {
			american.Result
			Greeks *american.Greeks `json:"greeks,omitempty"`
		}{res, g})
	}

	fmt.Fprintf(out, "price     %.8f\n", res.Price)
	fmt.Fprintf(out, "european  %.8f\n", res.European)
	fmt.Fprintf(out, "premium   %.8f\n", res.Premium)
	fmt.Fprintf(out, "method    %s\n", res.Method)
	if res.Method == american.MethodQdFp {
		fmt.Fprintf(out, "equation  %s\n", res.Equation)
	}
	if g != nil {
		fmt.Fprintf(out, "delta     %.6f\ngamma     %.6f\nvega      %.6f\ntheta     %.6f\nrho       %.6f\n",
			g.Delta, g.Gamma, g.Vega, g.Theta, g.Rho)
	}
	return nil
}

func runBatch(ctx context.Context, out io.Writer, engine *american.Engine) error {
	in := os.Stdin
	if *batchFile != "-" {
		f, err := os.Open(*batchFile)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	items, err := readBatch(in)
	if err != nil {
		return err
	}

	results, err := engine.PriceBatch(ctx, items, *workers)
	if err != nil {
		return err
	}

	w := csv.NewWriter(out)
	if err := w.Write([]string{"row", "type", "price", "european", "method", "error"}); err != nil {
		return err
	}
	for i, r := range results {
		row := []string{strconv.Itoa(i + 1), items[i].Type.String(), "", "", "", ""}
		if r.Err != nil {
			row[5] = r.Err.Error()
		} else {
			row[2] = strconv.FormatFloat(r.Result.Price, 'f', 8, 64)
			row[3] = strconv.FormatFloat(r.Result.European, 'f', 8, 64)
			row[4] = string(r.Result.Method)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// readBatch parses rows of type,spot,strike,rate,dividend,vol,maturity. A first
// row whose type column is not an option type is treated as a header.
func readBatch(in io.Reader) ([]american.BatchItem, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = 7
	r.TrimLeadingSpace = true
	r.Comment = '#'

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read batch: %w", err)
	}

	items := make([]american.BatchItem, 0, len(records))
	for i, rec := range records {
		t, err := american.ParseOptionType(rec[0])
		if err != nil {
			if i == 0 {
				continue
			}
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}

		var v [6]float64
		for j := range v {
			v[j], err = strconv.ParseFloat(strings.TrimSpace(rec[j+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", i+1, j+2, err)
			}
		}

		items = append(items, american.BatchItem{
			Type: t,
			Params: american.Params{
				Spot:       v[0],
				Strike:     v[1],
				Rate:       v[2],
				Dividend:   v[3],
				Volatility: v[4],
				Maturity:   v[5],
			},
		})
	}
	return items, nil
}
