/*

This file contains the settlement driver for the asynchronous variant: it
polls the market's pending queue and delivers each settlement to the vault
callback matching the vault's current in-flight status. Out in production
this role belongs to the venue's event stream; the simulator replays it on
a timer.

*/

package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/parallax-fi/lvm/internal/logger"
	"github.com/parallax-fi/lvm/internal/types"
	"github.com/parallax-fi/lvm/internal/vault"
	"github.com/parallax-fi/lvm/internal/venue"
)

// Driver replays venue settlements into the vault.
type Driver struct {
	log    zerolog.Logger
	market *Market
	vault  *vault.Vault
}

// NewDriver creates a Driver.
func NewDriver(market *Market, v *vault.Vault) *Driver {
	return &Driver{
		log:    logger.GetForComponent("sim_driver"),
		market: market,
		vault:  v,
	}
}

// Run settles pending requests on a fixed delay until the context is
// cancelled.
func (d *Driver) Run(ctx context.Context, delay time.Duration) {
	ticker := time.NewTicker(delay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Tick(ctx); err != nil && !errors.Is(err, ErrNoPendingRequests) {
				d.log.Error().Err(err).Msg("Settlement delivery failed")
			}
		}
	}
}

// Tick settles the oldest pending request and delivers the resulting
// callback. A settlement refused by the market (output under the floor)
// is delivered as a cancellation instead.
func (d *Driver) Tick(ctx context.Context) error {
	requestKey, ok := d.market.NextPending()
	if !ok {
		return ErrNoPendingRequests
	}
	add, err := d.market.PendingKind(requestKey)
	if err != nil {
		return err
	}

	if add {
		settlement, err := d.market.SettleAdd(requestKey)
		if err != nil {
			if errors.Is(err, venue.ErrSlippageExceeded) {
				return d.deliverCancellation(ctx, requestKey)
			}
			return err
		}
		return d.deliverAdd(ctx, settlement)
	}

	settlement, err := d.market.SettleRemove(requestKey)
	if err != nil {
		if errors.Is(err, venue.ErrSlippageExceeded) {
			return d.deliverCancellation(ctx, requestKey)
		}
		return err
	}
	return d.deliverRemove(ctx, settlement)
}

func (d *Driver) deliverAdd(ctx context.Context, settlement venue.AddSettlement) error {
	switch d.vault.Status() {
	case types.StatusDeposit:
		return d.vault.ProcessDepositSettlement(ctx, settlement)
	case types.StatusWithdrawFailed:
		return d.vault.ProcessWithdrawRecoverySettlement(ctx, settlement)
	case types.StatusRebalanceAdd:
		return d.vault.ProcessRebalanceAddSettlement(ctx, settlement)
	case types.StatusCompound:
		return d.vault.ProcessCompoundSettlement(ctx, settlement)
	case types.StatusResume:
		return d.vault.ProcessEmergencyResumeSettlement(ctx, settlement)
	default:
		return fmt.Errorf("%w: add settlement in status %s", types.ErrInvalidCallbackStatus, d.vault.Status())
	}
}

func (d *Driver) deliverRemove(ctx context.Context, settlement venue.RemoveSettlement) error {
	switch d.vault.Status() {
	case types.StatusWithdraw:
		return d.vault.ProcessWithdrawSettlement(ctx, settlement)
	case types.StatusDepositFailed:
		return d.vault.ProcessDepositRecoverySettlement(ctx, settlement)
	case types.StatusRebalanceRemove:
		return d.vault.ProcessRebalanceRemoveSettlement(ctx, settlement)
	case types.StatusRepay:
		return d.vault.ProcessEmergencyRepaySettlement(ctx, settlement)
	default:
		return fmt.Errorf("%w: remove settlement in status %s", types.ErrInvalidCallbackStatus, d.vault.Status())
	}
}

func (d *Driver) deliverCancellation(ctx context.Context, requestKey string) error {
	switch d.vault.Status() {
	case types.StatusDeposit:
		return d.vault.ProcessDepositCancellation(ctx, requestKey)
	case types.StatusWithdraw:
		return d.vault.ProcessWithdrawCancellation(ctx, requestKey)
	case types.StatusRebalanceAdd:
		return d.vault.ProcessRebalanceAddCancellation(ctx, requestKey)
	case types.StatusRebalanceRemove:
		return d.vault.ProcessRebalanceRemoveCancellation(ctx, requestKey)
	case types.StatusCompound:
		return d.vault.ProcessCompoundCancellation(ctx, requestKey)
	default:
		return fmt.Errorf("%w: cancellation in status %s", types.ErrInvalidCallbackStatus, d.vault.Status())
	}
}
