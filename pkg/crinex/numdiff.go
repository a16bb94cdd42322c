package crinex

// MaxCompressionOrder is the highest finite-difference order a NumDiff
// stream may be initialized with.
const MaxCompressionOrder = 6

// NumDiff is an Nth-order forward-finite-difference codec over int64.
// It mirrors the classic Hatanaka numeric compression: instead of
// storing absolute values, the wire format carries the m-th order
// forward difference of the true value sequence, which is usually far
// smaller and more repetitive than the raw values (observation values
// drift roughly linearly epoch to epoch, so their 3rd-order difference
// tends toward zero).
//
// The order ramps up naturally: the k-th value after Init is encoded
// with order min(k, m); once m values have accumulated the order stays
// at m and the oldest retained value is dropped on every subsequent
// step, exactly mirroring the reference tool's sliding window.
type NumDiff struct {
	order   int
	history []int64
}

// NewNumDiff returns a NumDiff not yet initialized; Init must be called
// with a literal value before Compress/Decompress are used.
func NewNumDiff() *NumDiff {
	return &NumDiff{}
}

// Init clears history and stores value as the most recent raw value,
// as if a "k&value" reinit marker had just been consumed. order must be
// in [1, MaxCompressionOrder].
func (n *NumDiff) Init(order int, value int64) error {
	if order < 1 || order > MaxCompressionOrder {
		return newErr(ClockOffsetOrder, false, "numdiff order out of range: %d", order)
	}
	n.order = order
	n.history = []int64{value}
	return nil
}

// Order returns the currently configured difference order, or 0 if Init
// has not been called yet.
func (n *NumDiff) Order() int {
	return n.order
}

// Compress returns the forward difference that encodes the transition
// from the current history to value, then records value as the newest
// point in history. It fails with IntegerOverflow if any intermediate
// difference does not fit in int64 — a corrupted or adversarial stream,
// since real observation/clock deltas never approach that range.
func (n *NumDiff) Compress(value int64) (int64, error) {
	tail := n.tail()
	d, err := forwardDifference(tail, value)
	if err != nil {
		return 0, err
	}
	n.push(value)
	return d, nil
}

// Decompress reconstructs the value that produced difference d against
// the current history, then records the reconstructed value as the
// newest point in history. Fails with IntegerOverflow under the same
// conditions as Compress.
func (n *NumDiff) Decompress(d int64) (int64, error) {
	tail := n.tail()
	value, err := integrate(tail, d)
	if err != nil {
		return 0, err
	}
	n.push(value)
	return value, nil
}

// tail returns up to n.order most recent history values, oldest first.
func (n *NumDiff) tail() []int64 {
	if len(n.history) <= n.order {
		return n.history
	}
	return n.history[len(n.history)-n.order:]
}

func (n *NumDiff) push(value int64) {
	n.history = append(n.history, value)
	if len(n.history) > n.order {
		n.history = n.history[len(n.history)-n.order:]
	}
}

// forwardDifference computes the k-th order forward difference of
// points ++ [next], where k = len(points): it is the standard
// Newton-forward-difference reduction, applying first differences
// repeatedly until a single value remains.
func forwardDifference(points []int64, next int64) (int64, error) {
	row := make([]int64, len(points)+1)
	copy(row, points)
	row[len(points)] = next

	for len(row) > 1 {
		for i := 0; i < len(row)-1; i++ {
			if subOverflows(row[i+1], row[i]) {
				return 0, newErr(IntegerOverflow, true, "forward difference overflow: %d - %d", row[i+1], row[i])
			}
			row[i] = row[i+1] - row[i]
		}
		row = row[:len(row)-1]
	}
	return row[0], nil
}

// integrate is the inverse of forwardDifference: given the same points
// history and the k-th order difference d (k = len(points)), it
// recovers the value that forwardDifference(points, value) == d.
func integrate(points []int64, d int64) (int64, error) {
	if len(points) == 0 {
		return d, nil
	}
	fh, err := firstDifferences(points)
	if err != nil {
		return 0, err
	}
	delta, err := integrate(fh, d)
	if err != nil {
		return 0, err
	}
	last := points[len(points)-1]
	if addOverflows(last, delta) {
		return 0, newErr(IntegerOverflow, true, "integrate overflow: %d + %d", last, delta)
	}
	return last + delta, nil
}

// firstDifferences returns the first differences of points, one
// shorter than its input.
func firstDifferences(points []int64) ([]int64, error) {
	if len(points) == 0 {
		return nil, nil
	}
	out := make([]int64, len(points)-1)
	for i := range out {
		if subOverflows(points[i+1], points[i]) {
			return nil, newErr(IntegerOverflow, true, "first difference overflow: %d - %d", points[i+1], points[i])
		}
		out[i] = points[i+1] - points[i]
	}
	return out, nil
}

// addOverflows reports whether a+b overflows int64.
func addOverflows(a, b int64) bool {
	c := a + b
	return ((a ^ c) & (b ^ c)) < 0
}

// subOverflows reports whether a-b overflows int64.
func subOverflows(a, b int64) bool {
	c := a - b
	return ((a ^ b) & (a ^ c)) < 0
}
