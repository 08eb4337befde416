package domain

// Canonical status codes. The hundreds digit is the status family:
// 1xx pre-transit, 2xx in transit, 3xx delivered, 4xx exception.
// Adapters only ever emit these codes; carrier-native codes never
// leak past the adapter boundary.
const (
	// StatusCreated indicates the shipment order was registered with the carrier.
	StatusCreated = 100
	// StatusAccepted indicates the carrier has physically picked up the parcel.
	StatusAccepted = 110

	// StatusInTransit is the generic in-transit fallback for unmapped carrier codes.
	StatusInTransit = 200
	// StatusArrived indicates arrival at a carrier facility.
	StatusArrived = 201
	// StatusDeparted indicates departure from a carrier facility.
	StatusDeparted = 202
	// StatusCustomsClearing indicates customs clearance is in progress.
	StatusCustomsClearing = 210
	// StatusCustomsCleared indicates customs released the parcel.
	StatusCustomsCleared = 211
	// StatusOutForDelivery indicates the parcel is with the delivering courier.
	StatusOutForDelivery = 220

	// StatusDelivered indicates delivery to the consignee.
	StatusDelivered = 300
	// StatusDeliveredProxy indicates delivery to a locker, neighbour or agent.
	StatusDeliveredProxy = 301

	// StatusDeliveryFailed indicates a failed delivery attempt.
	StatusDeliveryFailed = 400
	// StatusReturned indicates the parcel was returned to the sender.
	StatusReturned = 401
	// StatusCustomsHold indicates the parcel is held at customs.
	StatusCustomsHold = 402
)

var statusDescriptions = map[int]string{
	StatusCreated:         "Shipment information received",
	StatusAccepted:        "Picked up",
	StatusInTransit:       "Logistics in progress",
	StatusArrived:         "Arrived",
	StatusDeparted:        "Departed",
	StatusCustomsClearing: "Customs clearance in progress",
	StatusCustomsCleared:  "Customs cleared",
	StatusOutForDelivery:  "Out for delivery",
	StatusDelivered:       "Delivered",
	StatusDeliveredProxy:  "Delivered to agent",
	StatusDeliveryFailed:  "Delivery attempt failed",
	StatusReturned:        "Returned to sender",
	StatusCustomsHold:     "Held at customs",
}

var statusCodes = func() map[string]int {
	m := make(map[string]int, len(statusDescriptions))
	for code, desc := range statusDescriptions {
		m[desc] = code
	}
	return m
}()

// DescribeStatus resolves a canonical status code to its description.
// Unknown codes resolve to the generic in-transit description so that
// a registry gap never breaks event construction.
func DescribeStatus(code int) string {
	if desc, ok := statusDescriptions[code]; ok {
		return desc
	}
	return statusDescriptions[StatusInTransit]
}

// StatusCodeOf is the reverse lookup from description to canonical code.
func StatusCodeOf(description string) (int, bool) {
	code, ok := statusCodes[description]
	return code, ok
}

// IsTerminalStatus reports whether a shipment with this latest status is
// done moving. Terminal shipments are excluded from the background sync.
func IsTerminalStatus(code int) bool {
	return (code >= 300 && code < 400) || code == StatusReturned
}
