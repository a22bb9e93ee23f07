// Package scoring computes contributor eligibility scores from wallet and
// device-permission state. The calculator is pure: callers gather devices and
// permissions first.
package scoring

// Input carries everything the calculator needs. TokenIDs lists the
// contributor's registered devices; Granted maps a token ID to whether
// delegated access was granted for it.
type Input struct {
	WalletConnected bool
	TokenIDs        []uint64
	Granted         map[uint64]bool
}

// Result is the computed score on the 0-100 scale. Downstream consumers use
// the 0-1 fraction; conversion happens here at the calculator boundary.
type Result struct {
	Score   float64
	IsValid bool
}

// Fraction returns the score on the 0-1 scale used by proof documents and
// the on-chain encoding.
func (r Result) Fraction() float64 {
	return r.Score / 100
}

// Calculate maps wallet-connection state, device list and per-device grants
// to a deterministic score.
//
// The branch table is preserved exactly from the production scoring rules,
// including the jump from 50 to 90 once any device is granted:
//
//	no wallet                    -> 0
//	wallet, no devices           -> 25
//	devices, none granted        -> 50
//	one device, granted          -> 100
//	many devices, some granted   -> 90 + 10*(granted-1)/(total-1), capped at 100
func Calculate(in Input) Result {
	score := calculate(in)
	return Result{Score: score, IsValid: score >= 50}
}

func calculate(in Input) float64 {
	if !in.WalletConnected {
		return 0
	}

	total := len(in.TokenIDs)
	if total == 0 {
		return 25
	}

	granted := 0
	for _, id := range in.TokenIDs {
		if in.Granted[id] {
			granted++
		}
	}

	switch {
	case granted == 0:
		return 50
	case total == 1:
		return 100
	case total > 1:
		score := 90 + 10*float64(granted-1)/float64(total-1)
		if score > 100 {
			score = 100
		}
		return score
	}

	// Unreachable with the branches above; keep a safe default.
	return 50
}
