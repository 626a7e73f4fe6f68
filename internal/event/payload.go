// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

package event

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Payload is implemented by every typed event payload. The EventKind method
// ties each payload struct to exactly one Kind, which lets Decode dispatch
// exhaustively and keeps handlers compile-time checkable.
type Payload interface {
	EventKind() Kind
}

// InventoryUpdated reports a stock level change for one product.
type InventoryUpdated struct {
	TenantID     string `json:"tenant_id"`
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name,omitempty"`
	Quantity     int    `json:"quantity"`
	ReorderLevel int    `json:"reorder_level,omitempty"`
}

func (InventoryUpdated) EventKind() Kind { return KindInventoryUpdated }

// SaleItem is one line of a completed sale.
type SaleItem struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// SaleCreated reports a completed checkout.
type SaleCreated struct {
	TenantID  string     `json:"tenant_id"`
	SaleID    string     `json:"sale_id"`
	CashierID string     `json:"cashier_id,omitempty"`
	Total     float64    `json:"total"`
	Items     []SaleItem `json:"items,omitempty"`
}

func (SaleCreated) EventKind() Kind { return KindSaleCreated }

// PrescriptionCreated reports a new prescription awaiting dispensation.
type PrescriptionCreated struct {
	TenantID       string   `json:"tenant_id"`
	PrescriptionID string   `json:"prescription_id"`
	PatientID      string   `json:"patient_id"`
	PharmacistID   string   `json:"pharmacist_id,omitempty"`
	Medications    []string `json:"medications,omitempty"`
}

func (PrescriptionCreated) EventKind() Kind { return KindPrescriptionCreated }

// PaymentApproved reports a payment that cleared.
type PaymentApproved struct {
	TenantID  string  `json:"tenant_id"`
	PaymentID string  `json:"payment_id"`
	SaleID    string  `json:"sale_id,omitempty"`
	Amount    float64 `json:"amount"`
	Method    string  `json:"method,omitempty"`
}

func (PaymentApproved) EventKind() Kind { return KindPaymentApproved }

// UserUpdated reports a change to a user account.
type UserUpdated struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	Role     Role   `json:"role,omitempty"`
	Active   bool   `json:"active"`
}

func (UserUpdated) EventKind() Kind { return KindUserUpdated }

// SecurityEvent reports a security-relevant occurrence (failed logins,
// permission escalations, anomalous access).
type SecurityEvent struct {
	TenantID    string `json:"tenant_id,omitempty"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	SourceIP    string `json:"source_ip,omitempty"`
}

func (SecurityEvent) EventKind() Kind { return KindSecurityEvent }

// GenericNotification carries free-form user-facing text.
type GenericNotification struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
	Level string `json:"level,omitempty"`
}

func (GenericNotification) EventKind() Kind { return KindGenericNotification }

// decodePayload unmarshals raw payload bytes into the typed struct for kind.
// The switch is exhaustive over Kinds; adding a kind without a case here is
// caught by TestDecodeCoversAllKinds.
func decodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindInventoryUpdated:
		var v InventoryUpdated
		err = json.Unmarshal(raw, &v)
		p = v
	case KindSaleCreated:
		var v SaleCreated
		err = json.Unmarshal(raw, &v)
		p = v
	case KindPrescriptionCreated:
		var v PrescriptionCreated
		err = json.Unmarshal(raw, &v)
		p = v
	case KindPaymentApproved:
		var v PaymentApproved
		err = json.Unmarshal(raw, &v)
		p = v
	case KindUserUpdated:
		var v UserUpdated
		err = json.Unmarshal(raw, &v)
		p = v
	case KindSecurityEvent:
		var v SecurityEvent
		err = json.Unmarshal(raw, &v)
		p = v
	case KindGenericNotification:
		var v GenericNotification
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}

// nowUTC is replaceable in tests.
var nowUTC = func() time.Time { return time.Now().UTC() }
