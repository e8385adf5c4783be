package forge

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"yieldsplit/internal/fixed"
	"yieldsplit/internal/model"
)

// Redemption is the payout of RedeemAfterExpiry, in underlying.
type Redemption struct {
	Principal *big.Int `json:"principal"`
	Interest  *big.Int `json:"interest"`
}

// Total returns principal plus interest.
func (r Redemption) Total() *big.Int {
	return new(big.Int).Add(r.Principal, r.Interest)
}

// Renewal is the outcome of RenewYield.
type Renewal struct {
	Redeemed  *big.Int        `json:"redeemed"`
	Renewed   *big.Int        `json:"renewed"`
	Fee       *big.Int        `json:"fee"`
	NewSeries model.SeriesKey `json:"new_series"`
}

// Tokenize deposits amount of underlying from caller and mints amount of principal and yield
// claims to recipient.
func (f *Forge) Tokenize(caller common.Address, key model.SeriesKey, amount *big.Int, recipient common.Address, now uint64) (*big.Int, error) {
	s, err := f.Lookup(key)
	if err != nil {
		return nil, err
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: tokenize", model.ErrZeroAmount)
	}
	if s.Expired(now) {
		return nil, fmt.Errorf("%w: %s matured at %d", model.ErrYieldContractExpired, key, key.Expiry)
	}
	if !f.bank.Has(key.Asset, caller, amount) {
		return nil, fmt.Errorf("%w: %s underlying of %s", model.ErrInsufficientBalance, amount, caller.Hex())
	}

	if err := f.refresh(s, now); err != nil {
		return nil, err
	}
	f.settle(s, recipient)

	if err := f.bank.Debit(key.Asset, caller, amount); err != nil {
		return nil, err
	}
	units, err := f.source.Deposit(key.Asset, amount)
	if err != nil {
		f.bank.Credit(key.Asset, caller, amount)
		return nil, err
	}
	f.journal.Int(s.Units)
	s.Units.Add(s.Units, units)
	s.Principal.Mint(recipient, amount)
	s.Yield.Mint(recipient, amount)

	f.logger.Debug("tokenize",
		zap.String("series", key.String()),
		zap.String("recipient", recipient.Hex()),
		zap.String("amount", amount.String()),
		zap.String("units", units.String()),
	)
	return new(big.Int).Set(amount), nil
}

// RedeemUnderlying burns amount of both claims before expiry and pays the underlying to
// recipient. Interest settled up to now stays claimable.
func (f *Forge) RedeemUnderlying(caller common.Address, key model.SeriesKey, amount *big.Int, recipient common.Address, now uint64) (*big.Int, error) {
	s, err := f.Lookup(key)
	if err != nil {
		return nil, err
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: redeem underlying", model.ErrZeroAmount)
	}
	if s.Expired(now) {
		return nil, fmt.Errorf("%w: %s matured at %d", model.ErrYieldContractExpired, key, key.Expiry)
	}
	if !s.Principal.Has(caller, amount) || !s.Yield.Has(caller, amount) {
		return nil, fmt.Errorf("%w: %s needs %s of both claims", model.ErrInsufficientBalance, caller.Hex(), amount)
	}

	if err := f.refresh(s, now); err != nil {
		return nil, err
	}
	f.settle(s, caller)

	out, err := f.withdrawUnits(s, fixed.Div(amount, s.LastRate))
	if err != nil {
		return nil, err
	}
	if err := s.Principal.Burn(caller, amount); err != nil {
		return nil, err
	}
	if err := s.Yield.Burn(caller, amount); err != nil {
		return nil, err
	}
	f.bank.Credit(key.Asset, recipient, out)

	f.logger.Debug("redeem underlying",
		zap.String("series", key.String()),
		zap.String("caller", caller.Hex()),
		zap.String("amount", amount.String()),
		zap.String("out", out.String()),
	)
	return out, nil
}

// RedeemDueInterests settles caller and pays every pending interest unit to recipient as
// underlying. Repeating it without a rate change pays exactly zero.
func (f *Forge) RedeemDueInterests(caller common.Address, key model.SeriesKey, recipient common.Address, now uint64) (*big.Int, error) {
	s, err := f.Lookup(key)
	if err != nil {
		return nil, err
	}
	if err := f.refresh(s, now); err != nil {
		return nil, err
	}
	f.settle(s, caller)

	units := s.Interest.Take(caller)
	if units.Sign() == 0 {
		return units, nil
	}
	out, err := f.withdrawUnits(s, units)
	if err != nil {
		s.Interest.Credit(caller, units)
		return nil, err
	}
	f.bank.Credit(key.Asset, recipient, out)

	f.logger.Debug("redeem interests",
		zap.String("series", key.String()),
		zap.String("caller", caller.Hex()),
		zap.String("units", units.String()),
		zap.String("out", out.String()),
	)
	return out, nil
}

// RedeemAfterExpiry burns all of caller's claims once the series has matured, paying the
// principal 1:1 and any interest settled up to expiry. Principal is reserved in units at the
// last pre-expiry rate; the part of that reserve the underlying has earned since expiry goes to
// the series' forge fee.
func (f *Forge) RedeemAfterExpiry(caller common.Address, key model.SeriesKey, recipient common.Address, now uint64) (Redemption, error) {
	s, err := f.Lookup(key)
	if err != nil {
		return Redemption{}, err
	}
	if !s.Expired(now) {
		return Redemption{}, fmt.Errorf("%w: %s matures at %d", model.ErrMustBeAfterExpiry, key, key.Expiry)
	}
	rate, err := f.source.CurrentExchangeRate(key.Asset)
	if err != nil {
		return Redemption{}, err
	}

	if err := f.refresh(s, now); err != nil {
		return Redemption{}, err
	}
	f.settle(s, caller)

	principal := s.Principal.BalanceOf(caller)
	principalUnits := fixed.Div(principal, rate)
	surplus := new(big.Int).Sub(fixed.Div(principal, s.LastRate), principalUnits)
	interestUnits := s.Interest.Pending(caller)

	out, err := f.withdrawUnits(s, new(big.Int).Add(principalUnits, interestUnits))
	if err != nil {
		return Redemption{}, err
	}
	principalOut := fixed.Min(fixed.Mul(principalUnits, rate), out)
	interestOut := new(big.Int).Sub(out, principalOut)

	s.Interest.Take(caller)
	if err := s.Principal.Burn(caller, principal); err != nil {
		return Redemption{}, err
	}
	if err := s.Yield.Burn(caller, s.Yield.BalanceOf(caller)); err != nil {
		return Redemption{}, err
	}
	f.addFeeUnits(s, fixed.Min(surplus, new(big.Int).Sub(s.Units, s.FeeUnits)))
	f.bank.Credit(key.Asset, recipient, out)

	f.logger.Debug("redeem after expiry",
		zap.String("series", key.String()),
		zap.String("caller", caller.Hex()),
		zap.String("principal", principalOut.String()),
		zap.String("interest", interestOut.String()),
		zap.String("surplus_units", surplus.String()),
	)
	return Redemption{Principal: principalOut, Interest: interestOut}, nil
}

// RenewYield redeems caller's matured position and re-tokenizes renewalRateBps of it into the
// series expiring at newExpiry, net of the renewal fee.
func (f *Forge) RenewYield(caller common.Address, oldKey model.SeriesKey, newExpiry uint64, renewalRateBps uint32, now uint64) (Renewal, error) {
	s, err := f.Lookup(oldKey)
	if err != nil {
		return Renewal{}, err
	}
	if !s.Expired(now) {
		return Renewal{}, fmt.Errorf("%w: %s matures at %d", model.ErrMustBeAfterExpiry, oldKey, oldKey.Expiry)
	}
	if renewalRateBps == 0 || renewalRateBps > fixed.BpsDenominator {
		return Renewal{}, fmt.Errorf("%w: %d bps", model.ErrInvalidRenewalRate, renewalRateBps)
	}

	newKey := model.SeriesKey{Asset: oldKey.Asset, Expiry: newExpiry}
	next, exists := f.state.Series[newKey]
	if exists {
		if next.Expired(now) {
			return Renewal{}, fmt.Errorf("%w: %s matured at %d", model.ErrYieldContractExpired, newKey, newExpiry)
		}
	} else if err := f.validateExpiry(newExpiry, now); err != nil {
		return Renewal{}, err
	}

	due, err := f.DueInterests(oldKey, caller, now)
	if err != nil {
		return Renewal{}, err
	}
	if s.Principal.BalanceOf(caller).Sign() == 0 && due.Sign() == 0 {
		return Renewal{}, fmt.Errorf("%w: nothing to renew in %s", model.ErrZeroAmount, oldKey)
	}

	redeemed, err := f.RedeemAfterExpiry(caller, oldKey, caller, now)
	if err != nil {
		return Renewal{}, err
	}
	total := redeemed.Total()
	renew := fixed.Bps(total, renewalRateBps)
	fee := fixed.Bps(renew, f.cfg.RenewalFeeBps)
	amount := new(big.Int).Sub(renew, fee)

	if !exists {
		if _, err := f.NewSeries(newKey, now); err != nil {
			return Renewal{}, err
		}
	}
	if fee.Sign() > 0 {
		if err := f.bank.Transfer(oldKey.Asset, caller, f.cfg.Treasury, fee); err != nil {
			return Renewal{}, err
		}
	}
	if amount.Sign() > 0 {
		if _, err := f.Tokenize(caller, newKey, amount, caller, now); err != nil {
			return Renewal{}, err
		}
	}

	f.logger.Debug("renew yield",
		zap.String("from", oldKey.String()),
		zap.String("to", newKey.String()),
		zap.String("redeemed", total.String()),
		zap.String("renewed", amount.String()),
		zap.String("fee", fee.String()),
	)
	return Renewal{Redeemed: total, Renewed: amount, Fee: fee, NewSeries: newKey}, nil
}

// TransferYield moves yield claims, settling both parties against the current index first.
func (f *Forge) TransferYield(from, to common.Address, key model.SeriesKey, amount *big.Int, now uint64) error {
	s, err := f.Lookup(key)
	if err != nil {
		return err
	}
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: transfer yield", model.ErrZeroAmount)
	}
	if !s.Yield.Has(from, amount) {
		return fmt.Errorf("%w: %s yield claims of %s", model.ErrInsufficientBalance, amount, from.Hex())
	}
	if err := f.refresh(s, now); err != nil {
		return err
	}
	f.settle(s, from)
	f.settle(s, to)
	return s.Yield.Transfer(from, to, amount)
}

// TransferPrincipal moves principal claims. Principal does not accrue, so nothing settles.
func (f *Forge) TransferPrincipal(from, to common.Address, key model.SeriesKey, amount *big.Int) error {
	s, err := f.Lookup(key)
	if err != nil {
		return err
	}
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: transfer principal", model.ErrZeroAmount)
	}
	return s.Principal.Transfer(from, to, amount)
}

// WithdrawFees pays the accumulated forge fee of key to recipient as underlying.
func (f *Forge) WithdrawFees(key model.SeriesKey, recipient common.Address) (*big.Int, error) {
	s, err := f.Lookup(key)
	if err != nil {
		return nil, err
	}
	units := new(big.Int).Set(s.FeeUnits)
	out, err := f.withdrawUnits(s, units)
	if err != nil {
		return nil, err
	}
	f.journal.Int(s.FeeUnits)
	s.FeeUnits.SetInt64(0)
	f.bank.Credit(key.Asset, recipient, out)

	f.logger.Info("forge fees withdrawn",
		zap.String("series", key.String()),
		zap.String("recipient", recipient.Hex()),
		zap.String("out", out.String()),
	)
	return out, nil
}
