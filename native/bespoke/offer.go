package bespoke

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"opensky/crypto"
)

// offerDomain binds offer digests to this protocol and schema version so a
// signature can never be replayed against another deployment or message kind.
const offerDomain = "OPENSKY_BESPOKE_BORROW_V1"

// BorrowOffer is an off-ledger signed intent to borrow against a specific
// collateral token. The signer commits to amount, duration and rate ranges; a
// taker fixes the concrete terms at settlement within those ranges.
type BorrowOffer struct {
	ReserveID         uint64         `json:"reserveId"`
	NFTAddress        crypto.Address `json:"nftAddress"`
	TokenID           uint64         `json:"tokenId"`
	TokenAmount       uint64         `json:"tokenAmount"`
	Borrower          crypto.Address `json:"borrower"`
	BorrowAmountMin   *big.Int       `json:"borrowAmountMin"`
	BorrowAmountMax   *big.Int       `json:"borrowAmountMax"`
	BorrowDurationMin int64          `json:"borrowDurationMin"`
	BorrowDurationMax int64          `json:"borrowDurationMax"`
	BorrowRate        *big.Int       `json:"borrowRate"`
	Currency          string         `json:"currency"`
	Nonce             uint64         `json:"nonce"`
	Deadline          int64          `json:"deadline"`
}

// Hash derives the 32-byte signing digest for the offer, bound to the ledger
// chain identifier.
func (o BorrowOffer) Hash(chainID uint64) ([]byte, error) {
	if o.Borrower.IsZero() {
		return nil, fmt.Errorf("borrower required")
	}
	if o.BorrowAmountMin == nil || o.BorrowAmountMax == nil {
		return nil, fmt.Errorf("amount range required")
	}
	if o.BorrowRate == nil {
		return nil, fmt.Errorf("borrow rate required")
	}
	currency := strings.ToUpper(strings.TrimSpace(o.Currency))
	if currency == "" {
		return nil, fmt.Errorf("currency required")
	}
	payload := fmt.Sprintf("%s|chain=%d|reserve=%d|nft=%s|token=%d|qty=%d|borrower=%s|amin=%s|amax=%s|dmin=%d|dmax=%d|rate=%s|currency=%s|nonce=%d|deadline=%d",
		offerDomain,
		chainID,
		o.ReserveID,
		hex.EncodeToString(o.NFTAddress.Bytes()),
		o.TokenID,
		o.TokenAmount,
		hex.EncodeToString(o.Borrower.Bytes()),
		o.BorrowAmountMin.String(),
		o.BorrowAmountMax.String(),
		o.BorrowDurationMin,
		o.BorrowDurationMax,
		o.BorrowRate.String(),
		currency,
		o.Nonce,
		o.Deadline,
	)
	return ethcrypto.Keccak256([]byte(payload)), nil
}

// Sign produces the borrower's 65-byte signature over the offer digest.
func Sign(o BorrowOffer, chainID uint64, key *crypto.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("nil signing key")
	}
	digest, err := o.Hash(chainID)
	if err != nil {
		return nil, err
	}
	return key.Sign(digest)
}

// RecoverSigner recovers the address that signed the offer digest.
func RecoverSigner(o BorrowOffer, chainID uint64, sig []byte) (crypto.Address, error) {
	digest, err := o.Hash(chainID)
	if err != nil {
		return crypto.Address{}, err
	}
	return crypto.RecoverAddress(digest, sig)
}
