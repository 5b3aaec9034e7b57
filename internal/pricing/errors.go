package pricing

import "errors"

var (
	// ErrNoData indicates the search set of a query was empty.
	ErrNoData = errors.New("no price data available for the requested timeframe")
	// ErrNoSequenceFound indicates no complete block fits inside the query bounds.
	ErrNoSequenceFound = errors.New("no suitable price sequence found")
	// ErrDataGap accompanies ErrNoSequenceFound when missing hours were the reason.
	ErrDataGap = errors.New("price series contains gaps")
	// ErrInvalidParameter flags a rejected query argument.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrInvalidRecord flags a record rejected at the ingestion boundary.
	ErrInvalidRecord = errors.New("invalid price record")
)
