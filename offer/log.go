package offer

import "github.com/btcsuite/btclog"

// log is the package-level logger used by the offer package. It is disabled
// by default until the caller wires up a real one with UseLogger.
var log = btclog.Disabled

// UseLogger sets the package-level logger used by this package. Should be
// called before the offer package is used, preferably from the init
// function of the caller.
func UseLogger(logger btclog.Logger) {
	log = logger
}
