package orders

type Status string

const (
	StatusPending             Status = "PENDING"
	StatusProcessing          Status = "PROCESSING"
	StatusShipped             Status = "SHIPPED"
	StatusDelivered           Status = "DELIVERED"
	StatusCancelled           Status = "CANCELLED"
	StatusReturned            Status = "RETURNED"
	StatusReturnedAndRefunded Status = "RETURNED_AND_REFUNDED"
)

// Cancelled doubles as "refunded" for orders that were never returned; the
// refund case is recognisable through RefundedAt and the refund history.
var validNext = map[Status]map[Status]bool{
	StatusPending:             {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing:          {StatusShipped: true, StatusCancelled: true},
	StatusShipped:             {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered:           {StatusReturned: true, StatusCancelled: true},
	StatusReturned:            {StatusReturnedAndRefunded: true, StatusCancelled: true},
	StatusCancelled:           {},
	StatusReturnedAndRefunded: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentSucceeded PaymentStatus = "SUCCEEDED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
	PaymentCanceled  PaymentStatus = "CANCELED"
)

var validPaymentNext = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending:   {PaymentSucceeded: true, PaymentFailed: true, PaymentCanceled: true},
	PaymentFailed:    {PaymentSucceeded: true, PaymentCanceled: true},
	PaymentCanceled:  {PaymentSucceeded: true, PaymentFailed: true},
	PaymentSucceeded: {PaymentRefunded: true},
	PaymentRefunded:  {},
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return validPaymentNext[from][to]
}

// Role is the acting caller's role for role-gated transitions.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

func (r Role) Elevated() bool { return r == RoleStaff || r == RoleAdmin }
