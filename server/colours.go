package server

import "fmt"

const (
	ansiReset = "\033[0m"
	ansiGray  = "\033[90m"
)

// paintMethod pads an HTTP method for the dev route listing and colours it by
// whether the route reads, creates, or ends session state.
func paintMethod(method string) string {
	colour := ansiGray
	switch method {
	case "GET", "HEAD":
		colour = "\033[32m"
	case "POST":
		colour = "\033[34m"
	case "PUT", "PATCH":
		colour = "\033[36m"
	case "DELETE":
		colour = "\033[33m"
	}
	return colour + fmt.Sprintf(" %-7s", method) + ansiReset
}
