package models

import "time"

// Entity is a lifecycle-managed record: a booking, an order, a withdrawal
// request or a prescription request. The lifecycle engine only reads Kind,
// Status, PaymentStatus and Version; the rest is domain payload.
type Entity struct {
	ID            int64     `json:"id"`
	Kind          string    `json:"kind"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	PatientName   string    `json:"patient_name"`
	Phone         string    `json:"phone"`
	DoctorName    string    `json:"doctor_name,omitempty"`
	ServiceName   string    `json:"service_name,omitempty"`
	Amount        int64     `json:"amount"`
	ScheduledAt   time.Time `json:"scheduled_at"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Version       int64     `json:"version"`
}
