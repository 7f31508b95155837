// Package onboarding negotiates the one-time setup questions a user answers
// before normal conversation starts.
//
// Fields are asked in order and each is checked independently; today the only
// field is the study language. A complete submission is saved to the profile
// with a completion timestamp and cached in memory, so clients that resend
// the same settings on every sync cost no storage round trip.
package onboarding
