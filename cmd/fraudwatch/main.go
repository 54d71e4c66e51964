package main

import (
	"github.com/shopspring/decimal"

	"fraudwatch/internal/cli"
)

func main() {
	// Process-wide: every decimal.Decimal marshals as a bare JSON number,
	// including the Redis payload and API bodies. internal/fraud sets the
	// same flag in its init so library users and tests see one encoding.
	decimal.MarshalJSONWithoutQuotes = true
	cli.Execute()
}
