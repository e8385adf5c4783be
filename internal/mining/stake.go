package mining

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"yieldsplit/internal/accrual"
	"yieldsplit/internal/journal"
	"yieldsplit/internal/model"
)

// Stake moves amount of caller's pool shares of series into the program.
func (m *Mining) Stake(caller common.Address, series model.SeriesKey, amount *big.Int, now uint64) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: stake", model.ErrZeroAmount)
	}
	pool := m.poolKey(series)
	if _, err := m.market.Lookup(pool); err != nil {
		return err
	}
	if m.market.ShareBalance(pool, caller).Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s pool shares of %s", model.ErrInsufficientBalance, amount, caller.Hex())
	}

	prog := m.program(series, now)
	pos := m.position(prog, caller, now)
	if err := m.settle(prog, pos, caller, now); err != nil {
		return err
	}
	if err := m.market.TransferShares(caller, m.address, pool, amount, now); err != nil {
		return err
	}
	pos.Stake.Add(pos.Stake, amount)
	m.journal.Int(prog.TotalStake)
	prog.TotalStake.Add(prog.TotalStake, amount)

	m.logger.Debug("stake",
		zap.String("series", series.String()),
		zap.String("staker", caller.Hex()),
		zap.String("amount", amount.String()),
		zap.Uint64("epoch", m.EpochOf(now)),
	)
	return nil
}

// Withdraw returns amount of staked shares to caller. Rewards already earned keep vesting.
func (m *Mining) Withdraw(caller common.Address, series model.SeriesKey, amount *big.Int, now uint64) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: withdraw", model.ErrZeroAmount)
	}
	prog, err := m.lookup(series)
	if err != nil {
		return err
	}
	pos, ok := prog.Positions[caller]
	if !ok || pos.Stake.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s staked shares of %s", model.ErrInsufficientBalance, amount, caller.Hex())
	}

	if err := m.settle(prog, pos, caller, now); err != nil {
		return err
	}
	if err := m.market.TransferShares(m.address, caller, m.poolKey(series), amount, now); err != nil {
		return err
	}
	pos.Stake.Sub(pos.Stake, amount)
	m.journal.Int(prog.TotalStake)
	prog.TotalStake.Sub(prog.TotalStake, amount)

	m.logger.Debug("withdraw",
		zap.String("series", series.String()),
		zap.String("staker", caller.Hex()),
		zap.String("amount", amount.String()),
		zap.Uint64("epoch", m.EpochOf(now)),
	)
	return nil
}

// ClaimRewards pays every vested installment whose release epoch has been reached.
func (m *Mining) ClaimRewards(caller common.Address, series model.SeriesKey, now uint64) (*big.Int, error) {
	prog, err := m.lookup(series)
	if err != nil {
		return nil, err
	}
	pos, ok := prog.Positions[caller]
	if !ok {
		return new(big.Int), nil
	}
	if err := m.settle(prog, pos, caller, now); err != nil {
		return nil, err
	}

	current := m.EpochOf(now)
	total := new(big.Int)
	var released []uint64
	for epoch, amount := range pos.Vesting {
		if epoch <= current {
			total.Add(total, amount)
			released = append(released, epoch)
		}
	}
	if total.Sign() == 0 {
		return total, nil
	}
	if !m.bank.Has(m.cfg.RewardToken, m.address, total) {
		return nil, fmt.Errorf("%w: reward pool holds %s, owes %s", model.ErrInsufficientBalance, m.bank.Balance(m.cfg.RewardToken, m.address), total)
	}
	for _, epoch := range released {
		delete(pos.Vesting, epoch)
	}
	if err := m.bank.Transfer(m.cfg.RewardToken, m.address, caller, total); err != nil {
		return nil, err
	}

	m.logger.Debug("claim rewards",
		zap.String("series", series.String()),
		zap.String("staker", caller.Hex()),
		zap.String("amount", total.String()),
	)
	return total, nil
}

// RedeemLPInterests pays caller the pool interest earned by the shares it has staked.
func (m *Mining) RedeemLPInterests(caller common.Address, series model.SeriesKey, recipient common.Address, now uint64) (*big.Int, error) {
	prog, err := m.lookup(series)
	if err != nil {
		return nil, err
	}
	pos, ok := prog.Positions[caller]
	if !ok {
		return new(big.Int), nil
	}
	if err := m.settle(prog, pos, caller, now); err != nil {
		return nil, err
	}
	amount := prog.Interest.Take(caller)
	if amount.Sign() == 0 {
		return amount, nil
	}
	if err := m.bank.Transfer(series.Asset, m.address, recipient, amount); err != nil {
		prog.Interest.Credit(caller, amount)
		return nil, err
	}

	m.logger.Debug("redeem staked lp interests",
		zap.String("series", series.String()),
		zap.String("staker", caller.Hex()),
		zap.String("amount", amount.String()),
	)
	return amount, nil
}

// PendingRewards reports staker's rewards as of now without changing any state.
func (m *Mining) PendingRewards(staker common.Address, series model.SeriesKey, now uint64) (Rewards, error) {
	out := Rewards{Claimable: new(big.Int), Vesting: new(big.Int), Interest: new(big.Int)}
	live, err := m.lookup(series)
	if err != nil {
		return Rewards{}, err
	}
	if _, ok := live.Positions[staker]; !ok {
		return out, nil
	}

	prog := live.clone()
	pos := prog.Positions[staker]
	m.update(prog, now)
	m.accrueEpochs(prog, pos, now)

	current := m.EpochOf(now)
	for epoch, amount := range pos.Vesting {
		if epoch <= current {
			out.Claimable.Add(out.Claimable, amount)
		} else {
			out.Vesting.Add(out.Vesting, amount)
		}
	}

	due, err := m.market.PendingInterest(m.poolKey(series), m.address, now)
	if err != nil {
		return Rewards{}, err
	}
	prog.Interest.Distribute(due, prog.TotalStake)
	prog.Interest.Settle(staker, pos.Stake)
	out.Interest = prog.Interest.Pending(staker)
	return out, nil
}

// Installment is one vesting entry of a position.
type Installment struct {
	Epoch  uint64   `json:"epoch"`
	Amount *big.Int `json:"amount"`
}

// Schedule lists staker's vesting installments by release epoch.
func (m *Mining) Schedule(staker common.Address, series model.SeriesKey) []Installment {
	prog, ok := m.state.Programs[series]
	if !ok {
		return nil
	}
	pos, ok := prog.Positions[staker]
	if !ok {
		return nil
	}
	out := make([]Installment, 0, len(pos.Vesting))
	for epoch, amount := range pos.Vesting {
		out = append(out, Installment{Epoch: epoch, Amount: new(big.Int).Set(amount)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Epoch < out[j].Epoch })
	return out
}

// Indexed exposes stake positions of series as an accrual.Indexed.
func (m *Mining) Indexed(series model.SeriesKey) accrual.Indexed {
	return stakeAccounts{mining: m, series: series}
}

type stakeAccounts struct {
	mining *Mining
	series model.SeriesKey
}

func (a stakeAccounts) Settle(holder common.Address, now uint64) (*big.Int, error) {
	prog, err := a.mining.lookup(a.series)
	if err != nil {
		return nil, err
	}
	pos := a.mining.position(prog, holder, now)
	before := prog.Interest.Pending(holder)
	if err := a.mining.settle(prog, pos, holder, now); err != nil {
		return nil, err
	}
	return before.Sub(prog.Interest.Pending(holder), before), nil
}

func (m *Mining) lookup(series model.SeriesKey) (*Program, error) {
	prog, ok := m.state.Programs[series]
	if !ok {
		return nil, fmt.Errorf("%w: no staking program for %s", model.ErrPoolNotFound, series)
	}
	return prog, nil
}

func (m *Mining) program(series model.SeriesKey, now uint64) *Program {
	prog, ok := m.state.Programs[series]
	if !ok {
		prog = &Program{
			Series:      series,
			TotalStake:  new(big.Int),
			LastUpdated: now,
			Epochs:      make(map[uint64]*big.Int),
			Interest:    accrual.NewLedger(),
			Positions:   make(map[common.Address]*Position),
		}
		prog.Interest.Attach(m.journal)
		journal.Entry(m.journal, m.state.Programs, series, nil)
		m.state.Programs[series] = prog
	}
	return prog
}

func (m *Mining) position(prog *Program, staker common.Address, now uint64) *Position {
	pos, ok := prog.Positions[staker]
	if !ok {
		pos = newPosition(now)
		pos.LastEpoch = m.EpochOf(now)
		journal.Entry(m.journal, prog.Positions, staker, nil)
		prog.Positions[staker] = pos
	}
	return pos
}

// settle brings the program totals, the position's epochs and its interest up to now. It must
// run before any stake change.
func (m *Mining) settle(prog *Program, pos *Position, staker common.Address, now uint64) error {
	journal.Entry(m.journal, prog.Positions, staker, (*Position).clone)
	m.update(prog, now)
	vested := m.accrueEpochs(prog, pos, now)
	m.journal.Int(m.state.Distributed)
	m.state.Distributed.Add(m.state.Distributed, vested)
	if err := m.harvest(prog, now); err != nil {
		return err
	}
	prog.Interest.Settle(staker, pos.Stake)
	return nil
}

// update adds the program's stake-seconds up to now to the per-epoch totals.
func (m *Mining) update(prog *Program, now uint64) {
	if now <= prog.LastUpdated {
		return
	}
	if prog.TotalStake.Sign() > 0 {
		stake := prog.TotalStake
		m.walk(prog.LastUpdated, now, func(epoch, seconds uint64) {
			journal.Entry(m.journal, prog.Epochs, epoch, cloneInt)
			total, ok := prog.Epochs[epoch]
			if !ok {
				total = new(big.Int)
				prog.Epochs[epoch] = total
			}
			total.Add(total, new(big.Int).Mul(stake, new(big.Int).SetUint64(seconds)))
		})
	}
	m.journal.Uint64(&prog.LastUpdated)
	prog.LastUpdated = now
}

func cloneInt(v *big.Int) *big.Int {
	return new(big.Int).Set(v)
}

// accrueEpochs adds the position's stake-seconds up to now and turns every epoch it has left
// into a vesting schedule, returning the reward scheduled. The program must already be
// updated to now.
func (m *Mining) accrueEpochs(prog *Program, pos *Position, now uint64) *big.Int {
	vested := new(big.Int)
	if now > pos.LastUpdated && pos.Stake.Sign() > 0 {
		m.walk(pos.LastUpdated, now, func(epoch, seconds uint64) {
			if epoch != pos.LastEpoch {
				vested.Add(vested, m.closeEpoch(prog, pos))
				pos.LastEpoch = epoch
			}
			pos.StakeSeconds.Add(pos.StakeSeconds, new(big.Int).Mul(pos.Stake, new(big.Int).SetUint64(seconds)))
		})
	}
	if current := m.EpochOf(now); current != pos.LastEpoch {
		vested.Add(vested, m.closeEpoch(prog, pos))
		pos.LastEpoch = current
	}
	if now > pos.LastUpdated {
		pos.LastUpdated = now
	}
	return vested
}

// closeEpoch converts the position's stake-seconds of its last epoch into reward installments
// released at the start of each of the following vesting epochs.
func (m *Mining) closeEpoch(prog *Program, pos *Position) *big.Int {
	epoch := pos.LastEpoch
	seconds := new(big.Int).Set(pos.StakeSeconds)
	pos.StakeSeconds.SetInt64(0)
	if epoch == 0 || seconds.Sign() == 0 {
		return new(big.Int)
	}
	total, ok := prog.Epochs[epoch]
	if !ok || total.Sign() == 0 {
		return new(big.Int)
	}
	reward := m.budgetFor(prog.Series, epoch)
	reward.Mul(reward, seconds)
	reward.Quo(reward, total)
	if reward.Sign() == 0 {
		return reward
	}

	n := new(big.Int).SetUint64(m.cfg.VestingEpochs)
	installment, rest := new(big.Int).QuoRem(reward, n, new(big.Int))
	for i := uint64(1); i <= m.cfg.VestingEpochs; i++ {
		amount := new(big.Int).Set(installment)
		if i == m.cfg.VestingEpochs {
			amount.Add(amount, rest)
		}
		if amount.Sign() == 0 {
			continue
		}
		release := epoch + i
		if cur, ok := pos.Vesting[release]; ok {
			cur.Add(cur, amount)
		} else {
			pos.Vesting[release] = amount
		}
	}
	return reward
}

// harvest collects the pool interest earned by every staked share of the program and spreads it
// over the stake.
func (m *Mining) harvest(prog *Program, now uint64) error {
	got, err := m.market.RedeemLPInterests(m.address, m.poolKey(prog.Series), m.address, now)
	if err != nil {
		return err
	}
	prog.Interest.Distribute(got, prog.TotalStake)
	return nil
}
