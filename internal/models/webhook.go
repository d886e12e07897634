package models

import "time"

// WebhookDeliveryLog records one attempted reporting webhook delivery. The
// (media_buy_id, period_start) pair dedups scheduled sends within a UTC day.
type WebhookDeliveryLog struct {
	DeliveryID     string    `json:"delivery_id"`
	TenantID       string    `json:"tenant_id"`
	MediaBuyID     string    `json:"media_buy_id"`
	SequenceNumber int       `json:"sequence_number"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	Success        bool      `json:"success"`
	StatusCode     int       `json:"status_code,omitempty"`
	ErrorDetail    string    `json:"error_detail,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

// PushNotificationConfig is a durable webhook registration for a principal's
// operations on a media buy.
type PushNotificationConfig struct {
	ConfigID      string    `json:"config_id"`
	TenantID      string    `json:"tenant_id"`
	PrincipalID   string    `json:"principal_id"`
	MediaBuyID    string    `json:"media_buy_id"`
	URL           string    `json:"url"`
	AuthType      string    `json:"auth_type,omitempty"`
	AuthToken     string    `json:"-"`
	ValidationKey string    `json:"-"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
}
