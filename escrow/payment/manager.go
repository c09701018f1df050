package payment

import (
	"context"

	constant "github.com/LerianStudio/lib-escrow/escrow/constants"
	"github.com/LerianStudio/lib-escrow/escrow/custody"
)

// Initialize creates the manager at in.Manager with a zero counter. The
// authority is the caller and the system must not be the zero address.
func (e *Engine) Initialize(ctx context.Context, in InitializeInput) (Manager, error) {
	var precheck error

	switch {
	case in.Manager.IsZero():
		precheck = ErrInvalidInput.at("manager")
	case in.Authority.IsZero():
		precheck = ErrInvalidInput.at("authority")
	case in.System.IsZero():
		precheck = ErrInvalidSystem.at("system")
	}

	var created Manager

	err := e.execute(ctx, managerScope("initialize", in.Manager), precheck, func(ctx context.Context, u unit) error {
		manager := Manager{
			Address:   in.Manager,
			Authority: in.Authority,
			System:    in.System,
			CreatedAt: u.now,
			UpdatedAt: u.now,
		}

		if err := u.tx.InsertManager(ctx, manager); err != nil {
			return err
		}

		created = manager

		return e.emit(ctx, u, constant.EventManagerInitialized, manager.Address, manager)
	})
	if err != nil {
		return Manager{}, err
	}

	return created, nil
}

// UpdateSystem replaces the arbiter. Only the manager authority may call it.
func (e *Engine) UpdateSystem(ctx context.Context, in UpdateSystemInput) (Manager, error) {
	var precheck error
	if in.Manager.IsZero() {
		precheck = ErrInvalidInput.at("manager")
	}

	var updated Manager

	err := e.execute(ctx, managerScope("update_system", in.Manager), precheck, func(ctx context.Context, u unit) error {
		manager, err := u.tx.ManagerForUpdate(ctx, in.Manager)
		if err != nil {
			return err
		}

		if in.Caller != manager.Authority {
			return ErrUnauthorized.withDetail("caller", "only the manager authority may update the system")
		}

		if in.NewSystem.IsZero() {
			return ErrInvalidSystem.at("newSystem")
		}

		manager.System = in.NewSystem
		manager.UpdatedAt = u.now

		if err := u.tx.UpdateManager(ctx, manager); err != nil {
			return err
		}

		updated = manager

		return e.emit(ctx, u, constant.EventManagerSystemUpdated, manager.Address, manager)
	})
	if err != nil {
		return Manager{}, err
	}

	return updated, nil
}

// GetManager returns the manager stored at address.
func (e *Engine) GetManager(ctx context.Context, address custody.Address) (Manager, error) {
	var precheck error
	if address.IsZero() {
		precheck = ErrInvalidInput.at("manager")
	}

	var found Manager

	err := e.execute(ctx, readScope("get_manager", address, nil), precheck, func(ctx context.Context, u unit) error {
		manager, err := u.tx.Manager(ctx, address)
		found = manager

		return err
	})
	if err != nil {
		return Manager{}, err
	}

	return found, nil
}
