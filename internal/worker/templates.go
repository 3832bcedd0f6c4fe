package worker

import (
	"fmt"
	"math/rand"
)

// Message copy is a closed set of pure formatting functions selected by
// index. Copy itself is not part of any contract; every variant must include
// the code and the percent.
type template func(code string, percent int) string

var welcomeTemplates = []template{
	func(code string, percent int) string {
		return fmt.Sprintf("Welcome! Here's %d%% off your first order with code %s.", percent, code)
	},
	func(code string, percent int) string {
		return fmt.Sprintf("Thanks for joining! Use %s at checkout for %d%% off.", code, percent)
	},
}

var recoveryTemplates = []template{
	func(code string, percent int) string {
		return fmt.Sprintf("Still thinking it over? Take %d%% off today with code %s.", percent, code)
	},
	func(code string, percent int) string {
		return fmt.Sprintf("We saved your cart! Code %s gets you %d%% off for the next few hours.", code, percent)
	},
	func(code string, percent int) string {
		return fmt.Sprintf("One more nudge: %d%% off with %s before it expires.", percent, code)
	},
}

func renderWelcome(code string, percent int) string {
	return welcomeTemplates[rand.Intn(len(welcomeTemplates))](code, percent)
}

func renderRecovery(code string, percent int) string {
	return recoveryTemplates[rand.Intn(len(recoveryTemplates))](code, percent)
}
