package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"tradesim/internal/trading"

	"go.uber.org/zap"
)

type errorResponse struct {
	Error     string `json:"error"`
	Balance   string `json:"balance,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto status codes. Unknown errors are logged
// and reported without detail.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	var funds *trading.InsufficientFundsError
	switch {
	case errors.As(err, &funds):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   trading.ErrInsufficientFunds.Error(),
			Balance: funds.Balance.StringFixed(2),
		})
	case errors.Is(err, trading.ErrAssetNotFound), errors.Is(err, trading.ErrTradeNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, trading.ErrInvalidAmount), errors.Is(err, trading.ErrInvalidSide):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, trading.ErrPriceUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error:     trading.ErrPriceUnavailable.Error(),
			Retryable: true,
		})
	default:
		log.Error("Request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
