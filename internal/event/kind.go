// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

// Package event defines the domain event vocabulary: event kinds, target
// scopes, typed payloads, and the wire envelope carried over every transport.
package event

// Kind identifies a domain event type. The vocabulary is fixed; unknown
// kinds are rejected at the publish boundary.
type Kind string

const (
	KindInventoryUpdated    Kind = "inventory-updated"
	KindSaleCreated         Kind = "sale-created"
	KindPrescriptionCreated Kind = "prescription-created"
	KindPaymentApproved     Kind = "payment-approved"
	KindUserUpdated         Kind = "user-updated"
	KindSecurityEvent       Kind = "security-event"
	KindGenericNotification Kind = "generic-notification"
)

// Kinds lists every valid event kind.
var Kinds = []Kind{
	KindInventoryUpdated,
	KindSaleCreated,
	KindPrescriptionCreated,
	KindPaymentApproved,
	KindUserUpdated,
	KindSecurityEvent,
	KindGenericNotification,
}

// Valid reports whether k is a known event kind.
func (k Kind) Valid() bool {
	switch k {
	case KindInventoryUpdated, KindSaleCreated, KindPrescriptionCreated,
		KindPaymentApproved, KindUserUpdated, KindSecurityEvent,
		KindGenericNotification:
		return true
	}
	return false
}

// Entity names a cached server-side resource class. Cache entries are tagged
// with the entity they were read from so inbound events can invalidate them.
type Entity string

const (
	EntityInventory     Entity = "inventory"
	EntitySales         Entity = "sales"
	EntityPrescriptions Entity = "prescriptions"
	EntityPatients      Entity = "patients"
	EntityPayments      Entity = "payments"
	EntityUsers         Entity = "users"
	EntityTenants       Entity = "tenants"
)

// Entities returns the entity types a kind invalidates. The mapping is a
// fixed table: a sale also invalidates inventory because checkout decrements
// stock levels.
func (k Kind) Entities() []Entity {
	switch k {
	case KindInventoryUpdated:
		return []Entity{EntityInventory}
	case KindSaleCreated:
		return []Entity{EntitySales, EntityInventory}
	case KindPrescriptionCreated:
		return []Entity{EntityPrescriptions}
	case KindPaymentApproved:
		return []Entity{EntityPayments, EntitySales}
	case KindUserUpdated:
		return []Entity{EntityUsers}
	case KindSecurityEvent, KindGenericNotification:
		return nil
	}
	return nil
}
