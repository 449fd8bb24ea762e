// Package synchronizer keeps one device's capability state consistent with
// the physical device.
//
// Each device gets its own Synchronizer. User writes are applied
// optimistically, coalesced over a short debounce window into one
// PendingWrite and dispatched over the configured transport. Periodic
// refreshes reconcile the published state with what the device reports, and
// are skipped while a write is pending or any operation is in flight so a
// stale read never overwrites a newer request.
//
// After an acknowledged write a confirmation refresh runs ConfirmDelay later.
// A vendor rejection rolls the affected fields back to the last confirmed
// value; a timeout keeps the optimistic value, since the device may have
// acted, and relies on the confirmation refresh.
//
// Webhook pushes bypass the refresh guard. Repeated refresh failures, or an
// operator override, publish the family's safe state with fault raised.
package synchronizer
