package models

const (
	KindBooking      = "booking"
	KindOrder        = "order"
	KindWithdrawal   = "withdrawal"
	KindPrescription = "prescription"
)

const (
	StatusPending    = "pending"
	StatusConfirmed  = "confirmed"
	StatusCancelled  = "cancelled"
	StatusCompleted  = "completed"
	StatusProcessing = "processing"
	StatusShipped    = "shipped"
	StatusDelivered  = "delivered"
	StatusApproved   = "approved"
	StatusRejected   = "rejected"
	StatusPaid       = "paid"
)

const (
	PaymentUnpaid  = "unpaid"
	PaymentPaid    = "paid"
	PaymentExpired = "expired"
	PaymentFailed  = "failed"
	PaymentRefund  = "refund"
)

const (
	// DefaultMaxTransitionAttempts ограничивает повторы при конфликте версий
	DefaultMaxTransitionAttempts = 3

	// NotifyQueueSize размер внутренней очереди воркера уведомлений
	NotifyQueueSize = 1000

	// DefaultNotifyBatchSize количество задач, забираемых из очереди за раз
	DefaultNotifyBatchSize = 20

	// DefaultNotifyPollSeconds интервал опроса очереди уведомлений
	DefaultNotifyPollSeconds = 5

	// DefaultListLimit размер страницы списка по умолчанию
	DefaultListLimit = 100
)

// PaymentStatuses enumerates the closed payment axis.
var PaymentStatuses = []string{PaymentUnpaid, PaymentPaid, PaymentExpired, PaymentFailed, PaymentRefund}

// IsValidPaymentStatus reports whether p belongs to the payment axis.
func IsValidPaymentStatus(p string) bool {
	for _, known := range PaymentStatuses {
		if known == p {
			return true
		}
	}
	return false
}
