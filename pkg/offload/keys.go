// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package offload

import (
	"fmt"

	"github.com/google/uuid"
)

// DataObjectKey names the data object of one offload attempt. The UUID
// prefix keeps repeated offloads of the same ledger from colliding.
func DataObjectKey(ledgerID int64, uid uuid.UUID) string {
	return fmt.Sprintf("%s-ledger-%d", uid.String(), ledgerID)
}

// IndexObjectKey names the index object companion of DataObjectKey.
func IndexObjectKey(ledgerID int64, uid uuid.UUID) string {
	return fmt.Sprintf("%s-ledger-%d-index", uid.String(), ledgerID)
}
