package db

import (
	"time"
)

// RecipientRole identifies which side of the marketplace a notification
// is addressed to.
type RecipientRole string

const (
	RoleConsumer RecipientRole = "CONSUMER"
	RoleSeller   RecipientRole = "SELLER"
)

// Valid reports whether the role is one of the known values.
func (r RecipientRole) Valid() bool {
	return r == RoleConsumer || r == RoleSeller
}

// NotificationType classifies a notification. Each type has a fixed
// default redirect target on the storefront.
type NotificationType string

const (
	TypeOutOfStock              NotificationType = "OUT_OF_STOCK"
	TypeBalanceAccounts         NotificationType = "BALANCE_ACCOUNTS"
	TypeSubscriptionPaymentsOK  NotificationType = "SUCCESS_SUBSCRIPTION_PAYMENTS"
	TypeConsumerOrderError      NotificationType = "INTERNAL_CONSUMER_SERVER_ERROR"
	TypeOrderCancelFailure      NotificationType = "ORDER_CANCEL_FAILURE"
)

// typeRedirects maps each notification type to its default redirect target.
// A plain lookup table, no per-type behavior beyond the destination.
var typeRedirects = map[NotificationType]string{
	TypeOutOfStock:             "https://jeontongju.shop/seller/stock",
	TypeBalanceAccounts:        "https://jeontongju.shop/seller/settlement",
	TypeSubscriptionPaymentsOK: "https://jeontongju.shop/subscription",
	TypeConsumerOrderError:     "https://jeontongju.shop/orderdetail",
	TypeOrderCancelFailure:     "https://jeontongju.shop/orderdetail",
}

// Valid reports whether the type is one of the known values.
func (t NotificationType) Valid() bool {
	_, ok := typeRedirects[t]
	return ok
}

// DefaultRedirect returns the fixed redirect target for the type,
// or "" for an unknown type.
func (t NotificationType) DefaultRedirect() string {
	return typeRedirects[t]
}

// Notification is the persistent notification record. Only the read flag
// mutates after creation.
type Notification struct {
	ID            int64            `json:"notificationId"`
	RecipientID   int64            `json:"recipientId"`
	RecipientRole RecipientRole    `json:"recipientRole"`
	Type          NotificationType `json:"notificationType"`
	IsRead        bool             `json:"isRead"`
	RedirectLink  *string          `json:"redirectLink,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
}
