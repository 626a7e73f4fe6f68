// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

// Package offline makes mutating client calls resilient to network
// unavailability. Operations attempted while offline, or that fail with a
// transport error, are persisted to a local badger store and replayed in
// FIFO order once connectivity returns.
//
// Replay goes through the same HTTP mutation endpoints the UI calls
// directly; there is no private replay protocol.
package offline

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/apotheca-labs/pharmsync/internal/event"
)

// OpType discriminates the Operation tagged union.
type OpType string

const (
	OpCreateTenant    OpType = "create-tenant"
	OpUpdateTenant    OpType = "update-tenant"
	OpCreatePatient   OpType = "create-patient"
	OpProcessCheckout OpType = "process-checkout"
	OpUpdateUser      OpType = "update-user"
)

// OpTypes lists every valid operation type.
var OpTypes = []OpType{
	OpCreateTenant,
	OpUpdateTenant,
	OpCreatePatient,
	OpProcessCheckout,
	OpUpdateUser,
}

// Operation is a mutating call that can be queued and replayed. Each
// concrete operation knows the HTTP method and path it replays through.
type Operation interface {
	OpType() OpType
	Request() (method, path string)
}

// CreateTenant provisions a new pharmacy tenant.
type CreateTenant struct {
	Name string `json:"name"`
	Plan string `json:"plan,omitempty"`
}

func (CreateTenant) OpType() OpType { return OpCreateTenant }
func (CreateTenant) Request() (string, string) {
	return http.MethodPost, "/api/v1/tenants"
}

// UpdateTenant modifies an existing tenant.
type UpdateTenant struct {
	TenantID string `json:"tenant_id"`
	Name     string `json:"name,omitempty"`
	Plan     string `json:"plan,omitempty"`
}

func (UpdateTenant) OpType() OpType { return OpUpdateTenant }
func (op UpdateTenant) Request() (string, string) {
	return http.MethodPut, "/api/v1/tenants/" + op.TenantID
}

// CreatePatient registers a patient record.
type CreatePatient struct {
	TenantID    string `json:"tenant_id"`
	Name        string `json:"name"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

func (CreatePatient) OpType() OpType { return OpCreatePatient }
func (CreatePatient) Request() (string, string) {
	return http.MethodPost, "/api/v1/patients"
}

// ProcessCheckout completes a point-of-sale transaction.
type ProcessCheckout struct {
	TenantID      string           `json:"tenant_id"`
	CashierID     string           `json:"cashier_id,omitempty"`
	Items         []event.SaleItem `json:"items"`
	PaymentMethod string           `json:"payment_method,omitempty"`
	Total         float64          `json:"total"`
}

func (ProcessCheckout) OpType() OpType { return OpProcessCheckout }
func (ProcessCheckout) Request() (string, string) {
	return http.MethodPost, "/api/v1/sales/checkout"
}

// UpdateUser modifies a user account.
type UpdateUser struct {
	TenantID string     `json:"tenant_id"`
	UserID   string     `json:"user_id"`
	Role     event.Role `json:"role,omitempty"`
	Active   bool       `json:"active"`
}

func (UpdateUser) OpType() OpType { return OpUpdateUser }
func (op UpdateUser) Request() (string, string) {
	return http.MethodPut, "/api/v1/users/" + op.UserID
}

// decodeOperation rebuilds a typed operation from its stored form. The
// switch is exhaustive over OpTypes.
func decodeOperation(t OpType, raw json.RawMessage) (Operation, error) {
	var (
		op  Operation
		err error
	)
	switch t {
	case OpCreateTenant:
		var v CreateTenant
		err = json.Unmarshal(raw, &v)
		op = v
	case OpUpdateTenant:
		var v UpdateTenant
		err = json.Unmarshal(raw, &v)
		op = v
	case OpCreatePatient:
		var v CreatePatient
		err = json.Unmarshal(raw, &v)
		op = v
	case OpProcessCheckout:
		var v ProcessCheckout
		err = json.Unmarshal(raw, &v)
		op = v
	case OpUpdateUser:
		var v UpdateUser
		err = json.Unmarshal(raw, &v)
		op = v
	default:
		return nil, fmt.Errorf("unknown operation type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s operation: %w", t, err)
	}
	return op, nil
}
