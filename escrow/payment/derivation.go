package payment

import (
	"encoding/binary"

	"github.com/LerianStudio/lib-escrow/escrow/custody"
)

const (
	seedPayment = "payment"
	seedDeposit = "deposit"
)

func idSeed(id uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, id)
}

// PaymentAddress derives the record address of (manager, id) under program.
func PaymentAddress(program, manager custody.Address, id uint64) custody.Address {
	return custody.Derive(program, []byte(seedPayment), manager[:], idSeed(id))
}

// DepositAddress derives the custody sub-account of a payment address.
func DepositAddress(program, payment custody.Address) custody.Address {
	return custody.Derive(program, []byte(seedDeposit), payment[:])
}

// payoutAuthorizer re-derives the payment address through the program
// capability. It is the only authorizer accepted by the deposit account.
//
//nolint:ireturn
func payoutAuthorizer(program *custody.Program, ref Ref) custody.Authorizer {
	return program.Sign([]byte(seedPayment), ref.Manager[:], idSeed(ref.ID))
}
