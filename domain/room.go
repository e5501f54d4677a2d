package domain

import "strings"

// NormalizeRoom gives the rendezvous key for a user supplied room name.
// Surrounding blanks are dropped, case is kept.
func NormalizeRoom(name string) string {
	return strings.TrimSpace(name)
}
