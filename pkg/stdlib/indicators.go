package stdlib

import (
	"math"

	"github.com/thomasrohde/dplang/pkg/diagnostics"
	"github.com/thomasrohde/dplang/pkg/evaluator"
)

// Technical indicators over price series. Series are arrays or history
// slices; null elements (rows before the first, evicted rows) are skipped,
// so an indicator over a null-padded window stays null until enough real
// values exist.

func series(name string, v evaluator.Value) ([]float64, error) {
	items, err := listArg(name, v)
	if err != nil {
		return nil, err
	}
	return floats(name, nonNull(items))
}

// bars aligns high/low/close series, dropping positions where any of the
// three is null.
func bars(name string, high, low, closes evaluator.Value) (h, l, c []float64, err error) {
	hs, err := listArg(name, high)
	if err != nil {
		return nil, nil, nil, err
	}
	ls, err := listArg(name, low)
	if err != nil {
		return nil, nil, nil, err
	}
	cs, err := listArg(name, closes)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(hs) != len(ls) || len(ls) != len(cs) {
		return nil, nil, nil, evaluator.Errorf(diagnostics.ELengthMismatch,
			"%s() high, low and close must have the same length: %d, %d, %d", name, len(hs), len(ls), len(cs))
	}
	for i := range hs {
		if evaluator.IsNull(hs[i]) || evaluator.IsNull(ls[i]) || evaluator.IsNull(cs[i]) {
			continue
		}
		var fh, fl, fc float64
		if fh, err = floatArg(name, hs[i]); err != nil {
			return nil, nil, nil, err
		}
		if fl, err = floatArg(name, ls[i]); err != nil {
			return nil, nil, nil, err
		}
		if fc, err = floatArg(name, cs[i]); err != nil {
			return nil, nil, nil, err
		}
		h, l, c = append(h, fh), append(l, fl), append(c, fc)
	}
	return h, l, c, nil
}

// periods reads the integer parameters after the series arguments,
// falling back to defaults for omitted ones.
func periods(name string, args []evaluator.Value, defaults ...int) ([]int, error) {
	out := append([]int(nil), defaults...)
	for i, a := range args {
		n, err := intArg(name, a)
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, evaluator.TypeErrorf("%s() period must be positive, got %d", name, n)
		}
		out[i] = n
	}
	return out, nil
}

// numberParam reads an optional non-integer parameter such as the BOLL
// width.
func numberParam(name string, args []evaluator.Value, i int, def float64) (float64, error) {
	if i >= len(args) {
		return def, nil
	}
	return floatArg(name, args[i])
}

func nullTuple(n int) evaluator.Value {
	items := make([]evaluator.Value, n)
	for i := range items {
		items[i] = evaluator.NewNull()
	}
	return evaluator.NewArray(items)
}

func numberTuple(values ...float64) evaluator.Value {
	items := make([]evaluator.Value, len(values))
	for i, v := range values {
		items[i] = evaluator.NewNumber(v)
	}
	return evaluator.NewArray(items)
}

// stdlibSMA is SMA(prices, period) and its alias MA: the mean of the last
// period values, or null with fewer values.
func stdlibSMA(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("SMA", args, 2, 2); err != nil {
		return nil, err
	}
	prices, err := series("SMA", args[0])
	if err != nil {
		return nil, err
	}
	p, err := periods("SMA", args[1:], 0)
	if err != nil {
		return nil, err
	}
	period := p[0]
	if len(prices) < period {
		return evaluator.NewNull(), nil
	}
	return evaluator.NewNumber(mean(prices[len(prices)-period:])), nil
}

// emaSeries returns the EMA after each value from index period-1 on,
// seeded with the SMA of the first period values.
func emaSeries(prices []float64, period int) []float64 {
	if len(prices) < period {
		return nil
	}
	k := 2 / float64(period+1)
	ema := mean(prices[:period])
	out := make([]float64, 0, len(prices)-period+1)
	out = append(out, ema)
	for _, price := range prices[period:] {
		ema = price*k + ema*(1-k)
		out = append(out, ema)
	}
	return out
}

func ema(prices []float64, period int) float64 {
	if len(prices) < period {
		return mean(prices)
	}
	s := emaSeries(prices, period)
	return s[len(s)-1]
}

// EMA(prices, period) → exponential moving average. With fewer than
// period values it is the plain mean; with none it is null.
func stdlibEMA(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("EMA", args, 2, 2); err != nil {
		return nil, err
	}
	prices, err := series("EMA", args[0])
	if err != nil {
		return nil, err
	}
	p, err := periods("EMA", args[1:], 0)
	if err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return evaluator.NewNull(), nil
	}
	return evaluator.NewNumber(ema(prices, p[0])), nil
}

// RSI(prices, period?) → relative strength index over the last period
// changes. Default period 14.
func stdlibRSI(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("RSI", args, 1, 2); err != nil {
		return nil, err
	}
	prices, err := series("RSI", args[0])
	if err != nil {
		return nil, err
	}
	p, err := periods("RSI", args[1:], 14)
	if err != nil {
		return nil, err
	}
	period := p[0]
	if len(prices) < period+1 {
		return evaluator.NewNull(), nil
	}

	var gains, losses float64
	start := len(prices) - period
	for i := start; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	avgGain, avgLoss := gains/float64(period), losses/float64(period)
	if avgLoss == 0 {
		return evaluator.NewNumber(100), nil
	}
	rs := avgGain / avgLoss
	return evaluator.NewNumber(100 - 100/(1+rs)), nil
}

// MACD(prices, fast?, slow?, signal?) → [macd, signal, histogram].
// Defaults 12, 26, 9. The signal line is the EMA of the MACD line.
func stdlibMACD(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("MACD", args, 1, 4); err != nil {
		return nil, err
	}
	prices, err := series("MACD", args[0])
	if err != nil {
		return nil, err
	}
	p, err := periods("MACD", args[1:], 12, 26, 9)
	if err != nil {
		return nil, err
	}
	fast, slow, signal := p[0], p[1], p[2]
	if fast >= slow {
		return nil, evaluator.TypeErrorf("MACD() fast period %d must be below slow period %d", fast, slow)
	}
	if len(prices) < slow {
		return nullTuple(3), nil
	}

	fastEMA := emaSeries(prices, fast)
	slowEMA := emaSeries(prices, slow)
	// Align both series on the price index: fastEMA[i] is the EMA after
	// prices[fast-1+i].
	offset := slow - fast
	line := make([]float64, len(slowEMA))
	for i := range slowEMA {
		line[i] = fastEMA[i+offset] - slowEMA[i]
	}
	macd := line[len(line)-1]
	sig := ema(line, signal)
	return numberTuple(macd, sig, macd-sig), nil
}

// BOLL(prices, period?, width?) → [upper, middle, lower] Bollinger bands
// using the population standard deviation. Defaults 20 and 2.
func stdlibBOLL(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("BOLL", args, 1, 3); err != nil {
		return nil, err
	}
	prices, err := series("BOLL", args[0])
	if err != nil {
		return nil, err
	}
	var periodArgs []evaluator.Value
	if len(args) > 1 {
		periodArgs = args[1:2]
	}
	p, err := periods("BOLL", periodArgs, 20)
	if err != nil {
		return nil, err
	}
	width, err := numberParam("BOLL", args, 2, 2)
	if err != nil {
		return nil, err
	}
	period := p[0]
	if len(prices) < period {
		return nullTuple(3), nil
	}

	recent := prices[len(prices)-period:]
	mid := mean(recent)
	sd := stddev(recent, mid)
	return numberTuple(mid+width*sd, mid, mid-width*sd), nil
}

// ATR(high, low, close, period?) → average true range over the last
// period bars. Default period 14.
func stdlibATR(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("ATR", args, 3, 4); err != nil {
		return nil, err
	}
	high, low, closes, err := bars("ATR", args[0], args[1], args[2])
	if err != nil {
		return nil, err
	}
	p, err := periods("ATR", args[3:], 14)
	if err != nil {
		return nil, err
	}
	period := p[0]
	if len(closes) < period+1 {
		return evaluator.NewNull(), nil
	}

	sum := 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		tr := math.Max(high[i]-low[i], math.Max(math.Abs(high[i]-closes[i-1]), math.Abs(low[i]-closes[i-1])))
		sum += tr
	}
	return evaluator.NewNumber(sum / float64(period)), nil
}

// KDJ(high, low, close, n?, m1?, m2?) → [k, d, j] stochastic oscillator.
// K and D start at 50 and are smoothed over every complete n-bar window.
// Defaults 9, 3, 3.
func stdlibKDJ(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("KDJ", args, 3, 6); err != nil {
		return nil, err
	}
	high, low, closes, err := bars("KDJ", args[0], args[1], args[2])
	if err != nil {
		return nil, err
	}
	p, err := periods("KDJ", args[3:], 9, 3, 3)
	if err != nil {
		return nil, err
	}
	n, m1, m2 := p[0], float64(p[1]), float64(p[2])
	if len(closes) < n {
		return nullTuple(3), nil
	}

	k, d := 50.0, 50.0
	for i := n - 1; i < len(closes); i++ {
		highest, lowest := high[i-n+1], low[i-n+1]
		for j := i - n + 2; j <= i; j++ {
			highest = math.Max(highest, high[j])
			lowest = math.Min(lowest, low[j])
		}
		rsv := 50.0
		if highest != lowest {
			rsv = (closes[i] - lowest) / (highest - lowest) * 100
		}
		k = ((m1-1)*k + rsv) / m1
		d = ((m2-1)*d + k) / m2
	}
	return numberTuple(k, d, 3*k-2*d), nil
}
