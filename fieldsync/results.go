// Copyright 2025 The fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

// opFailure is a per-operation terminal failure. It is reported in that
// operation's result entry and never fails sibling operations.
type opFailure struct {
	Reason  string
	Message string
}

func (f *opFailure) result(opID string) OperationResult {
	return OperationResult{
		ID:      opID,
		Status:  StFailed,
		Reason:  f.Reason,
		Message: f.Message,
	}
}

// resultApplied creates a result for a successfully applied operation.
// Healed references upgrade the status to HEALED_APPLIED.
func resultApplied(op *Operation, notes []HealNote) OperationResult {
	status := StApplied
	if len(notes) > 0 {
		status = StHealedApplied
	}
	return OperationResult{
		ID:     op.ID.String(),
		Status: status,
		Healed: notes,
	}
}

// resultDuplicate creates a result for an already-processed operation,
// echoing the cached outcome of the first application.
func resultDuplicate(opID string, prior *OperationResult) OperationResult {
	return OperationResult{
		ID:     opID,
		Status: StDuplicate,
		Prior:  prior,
	}
}

// resultFailed creates a result for a per-operation failure.
func resultFailed(opID, reason, message string) OperationResult {
	return OperationResult{
		ID:      opID,
		Status:  StFailed,
		Reason:  reason,
		Message: message,
	}
}

// resultValidationError creates a result for an operation rejected at the
// decoding stage, before any mutation was attempted.
func resultValidationError(opID string, err error) OperationResult {
	return OperationResult{
		ID:      opID,
		Status:  StFailed,
		Reason:  ReasonValidation,
		Message: err.Error(),
	}
}
