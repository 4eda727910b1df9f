// Package services implements the rank-transfer business components: the
// verification registry, the group rank aggregator, the rank transfer
// executor and the ticket read service used by the ops API.
//
// This file centralizes service-level error values so that callers can check
// them with errors.Is and handlers can map them to HTTP results.
package services

import "errors"

// ErrTicketNotFound indicates that the requested ticket does not exist.
var ErrTicketNotFound = errors.New("ticket not found")
