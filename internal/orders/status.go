package orders

import "github.com/bjo163/sokomarket/internal/domain"

var validNext = map[string]map[string]bool{
	domain.OrderPending:   {domain.OrderConfirmed: true, domain.OrderCancelled: true},
	domain.OrderConfirmed: {domain.OrderPreparing: true, domain.OrderCancelled: true},
	domain.OrderPreparing: {domain.OrderReady: true, domain.OrderCancelled: true},
	domain.OrderReady:     {domain.OrderDelivered: true, domain.OrderCancelled: true},
	domain.OrderDelivered: {},
	domain.OrderCancelled: {},
}

// customerDeliverable are the states from which the customer may report receipt.
var customerDeliverable = map[string]bool{
	domain.OrderConfirmed: true,
	domain.OrderPreparing: true,
	domain.OrderReady:     true,
}

func CanTransition(from, to string) bool {
	return validNext[from][to]
}

func IsStatus(s string) bool {
	_, ok := validNext[s]
	return ok
}

func IsTerminal(s string) bool {
	return s == domain.OrderDelivered || s == domain.OrderCancelled
}
