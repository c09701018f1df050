// Package custody models the accounts that hold escrowed assets and the
// capability used to move funds between them.
//
// Addresses are 32-byte values. Program-controlled addresses are derived
// deterministically from a program id and seeds with Derive; no key exists
// for them. Funds leave such an account only when the transfer carries an
// Authorizer minted by the registered Program that can reproduce the
// derivation. End-user accounts are authorized with Signer.
//
// Two Ledger implementations exist: MemoryLedger here, and the SQL-backed
// ledger in the postgres package. Both share the checks in ValidateTransfer
// and Registry.Authorize.
package custody
