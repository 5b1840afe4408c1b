package storage

import "github.com/lokyinzhao/stripe-update-go/errkit"

const component = "storage"

var (
	errOddBoundaries = errkit.New(errkit.InvalidArg, component, "boundary slice must have even length")
	errNonMonotonic  = errkit.New(errkit.InvalidArg, component, "boundaries must be strictly increasing")
)
