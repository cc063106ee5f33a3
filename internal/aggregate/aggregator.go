// Package aggregate folds a batch of encrypted employee records into two
// encrypted totals without ever seeing a cleartext.
package aggregate

import (
	"fmt"

	"CipherPay/internal/fhe"
	"CipherPay/internal/ledger"
)

// pctDivisor converts an investment percentage contribution into an amount.
const pctDivisor = 100

// Totals holds the two encrypted batch aggregates.
type Totals struct {
	Salary   fhe.Ciphertext // Salary is the encrypted sum of all active salaries
	Invested fhe.Ciphertext // Invested is the encrypted sum of salary*pct/100 per active employee
}

// Compute aggregates the batch under the given arithmetic backend. The fold
// walks employee ids ascending over the dense range [0, EmployeeCount), so the
// same records always produce byte-identical totals. Inactive or absent slots
// are skipped; a batch without a single active record is an error.
func Compute(batch *ledger.Batch, arith fhe.Arithmetic) (Totals, error) {
	var totals Totals
	seeded := false

	for id := uint64(0); id < batch.EmployeeCount; id++ {
		rec, ok := batch.Record(id)
		if !ok || !rec.Active {
			continue
		}

		contribution, err := arith.Multiply(rec.Salary, rec.InvestmentPct)
		if err != nil {
			return Totals{}, fmt.Errorf("employee %d contribution:\n%w", id, err)
		}

		contribution, err = arith.DivideByConstant(contribution, pctDivisor)
		if err != nil {
			return Totals{}, fmt.Errorf("employee %d contribution:\n%w", id, err)
		}

		if !seeded {
			totals.Salary = rec.Salary
			totals.Invested = contribution
			seeded = true

			continue
		}

		totals.Salary, err = arith.Add(totals.Salary, rec.Salary)
		if err != nil {
			return Totals{}, fmt.Errorf("employee %d salary:\n%w", id, err)
		}

		totals.Invested, err = arith.Add(totals.Invested, contribution)
		if err != nil {
			return Totals{}, fmt.Errorf("employee %d invested:\n%w", id, err)
		}
	}

	if !seeded {
		return Totals{}, ledger.ErrEmptyBatch
	}

	return totals, nil
}
