package binance

import (
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/martingalian/ladder-engine/internal/exchange"
)

// classify turns a transport error or non-2xx response into a classified
// exchange.APIError; nil in, nil out when the call actually succeeded.
func classify(venue, op string, resp *resty.Response, transportErr error) error {
	if transportErr == nil && (resp == nil || !resp.IsError()) {
		return nil
	}
	status := 0
	err := transportErr
	if resp != nil {
		status = resp.StatusCode()
		if err == nil {
			err = fmt.Errorf("status %d: %s", status, resp.String())
		}
	}
	return &exchange.APIError{
		Exchange:       venue,
		Op:             op,
		Classification: exchange.ClassifyHTTPStatus(status, transportErr),
		Err:            err,
	}
}
