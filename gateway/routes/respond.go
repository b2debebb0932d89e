package routes

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"opensky/crypto"
	"opensky/native/auction"
	"opensky/native/bespoke"
	nativecommon "opensky/native/common"
	"opensky/native/pool"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps engine sentinel errors onto HTTP status codes. Anything
// unmapped is treated as an internal failure.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pool.ErrReserveNotFound),
		errors.Is(err, pool.ErrLoanNotFound),
		errors.Is(err, auction.ErrNotFound),
		errors.Is(err, bespoke.ErrLoanNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pool.ErrInvalidAmount),
		errors.Is(err, pool.ErrInvalidDuration),
		errors.Is(err, pool.ErrReserveExists),
		errors.Is(err, pool.ErrCollateralNotListed),
		errors.Is(err, pool.ErrMoneyMarketUnchanged),
		errors.Is(err, auction.ErrInvalidReserve),
		errors.Is(err, auction.ErrInvalidAsset),
		errors.Is(err, bespoke.ErrAmountOutOfRange),
		errors.Is(err, bespoke.ErrDurationOutOfRange),
		errors.Is(err, bespoke.ErrCurrencyNotAllowed),
		errors.Is(err, bespoke.ErrInvalidNonceFloor):
		status = http.StatusBadRequest
	case errors.Is(err, pool.ErrInsufficientBalance),
		errors.Is(err, pool.ErrInsufficientLiquidity),
		errors.Is(err, pool.ErrBorrowLimitExceeded),
		errors.Is(err, auction.ErrInsufficientBid),
		errors.Is(err, bespoke.ErrInsufficientFunds):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, pool.ErrLoanStatusNotAllowed),
		errors.Is(err, auction.ErrNotLive),
		errors.Is(err, bespoke.ErrLoanStatusNotAllowed),
		errors.Is(err, bespoke.ErrNonceUsed),
		errors.Is(err, bespoke.ErrOfferExpired):
		status = http.StatusConflict
	case errors.Is(err, pool.ErrNotLoanOwner),
		errors.Is(err, pool.ErrNFTNotOwned),
		errors.Is(err, auction.ErrNotTokenOwner),
		errors.Is(err, auction.ErrNotAuctionSeller),
		errors.Is(err, bespoke.ErrInvalidSignature),
		errors.Is(err, bespoke.ErrCollateralNotOwned),
		errors.Is(err, bespoke.ErrNotReceiptHolder),
		errors.Is(err, nativecommon.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, nativecommon.ErrModulePaused):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func parseAddress(raw string) (crypto.Address, error) {
	return crypto.DecodeAddress(raw)
}

func parseAmount(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, errors.New("amount must be a base-10 integer")
	}
	return value, nil
}

func parseID(raw string) (uint64, error) {
	return strconv.ParseUint(raw, 10, 64)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

func formatBig(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
