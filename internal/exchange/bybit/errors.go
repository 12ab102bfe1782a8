package bybit

import (
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/martingalian/ladder-engine/internal/exchange"
)

// classify turns a transport error, non-2xx response, or a non-zero Bybit
// retCode (Bybit reports application errors with HTTP 200 and an envelope
// retCode) into a classified exchange.APIError.
func classify(venue, op string, resp *resty.Response, transportErr error, retCode int, retMsg string) error {
	if transportErr == nil && (resp == nil || !resp.IsError()) && retCode == 0 {
		return nil
	}
	status := 0
	err := transportErr
	if resp != nil {
		status = resp.StatusCode()
	}
	if err == nil {
		if retCode != 0 {
			err = fmt.Errorf("retCode %d: %s", retCode, retMsg)
		} else if resp != nil {
			err = fmt.Errorf("status %d: %s", status, resp.String())
		}
	}

	classification := exchange.ClassifyHTTPStatus(status, transportErr)
	if classification == "" && retCode == 10006 {
		classification = exchange.RateLimited
	} else if classification == "" && retCode != 0 {
		classification = exchange.InvalidInput
	}
	return &exchange.APIError{
		Exchange:       venue,
		Op:             op,
		Classification: classification,
		Err:            err,
	}
}
