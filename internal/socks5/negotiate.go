package socks5

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// priorityOrder is the fixed server-side preference used to pick among the
// methods a client offers. Only no-auth is implemented;
// username/password and GSSAPI are carried here so that implementing them
// later does not change which method existing no-auth-only clients get.
var priorityOrder = []Method{MethodNoAuth, MethodUserPass, MethodGSSAPI}

var errNoAcceptableMethod = errors.New("handshake: no acceptable authentication method")

// greeting is the parsed client greeting of the handshake exchange.
type greeting struct {
	methods []Method
}

// readGreeting reads `[0x05][nmethods][methods x nmethods]`. It deliberately
// writes nothing on failure: a bad version byte means the client's framing
// is incoherent, and a two-byte method reply would only confuse it further.
func readGreeting(r io.Reader) (*greeting, error) {
	header := make([]byte, 2)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if header[0] != Version {
		return nil, fmt.Errorf("unsupported version 0x%02x", header[0])
	}
	n := int(header[1])
	if n == 0 {
		return nil, errors.New("zero methods offered")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	methods := make([]Method, n)
	for i, b := range buf {
		methods[i] = Method(b)
	}
	return &greeting{methods: methods}, nil
}

func hasDuplicates(methods []Method) bool {
	seen := make(map[Method]bool, len(methods))
	for _, m := range methods {
		if seen[m] {
			return true
		}
		seen[m] = true
	}
	return false
}

// selectMethod walks priorityOrder and returns the first tag that the
// server supports, the client offered, and that is actually implemented.
func selectMethod(offered, supported []Method) (Method, error) {
	offeredSet := make(map[Method]bool, len(offered))
	for _, m := range offered {
		offeredSet[m] = true
	}
	supportedSet := make(map[Method]bool, len(supported))
	for _, m := range supported {
		supportedSet[m] = true
	}

	for _, candidate := range priorityOrder {
		if supportedSet[candidate] && offeredSet[candidate] && candidate.implemented() {
			return candidate, nil
		}
	}
	return MethodNoAcceptable, errNoAcceptableMethod
}

// negotiate runs the handshake / method-selection exchange: read the
// greeting, select a method under the fixed priority order, write the
// selection (or the no-acceptable sentinel), and run the selected
// method's sub-dialogue. Only no-auth is implemented, so the
// sub-dialogue is always empty once a method is actually selected.
func negotiate(rw io.ReadWriter, supported []Method, logger *slog.Logger) error {
	greet, err := readGreeting(rw)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	if hasDuplicates(greet.methods) {
		logger.Debug("duplicate method tags in client greeting")
	}

	selected, err := selectMethod(greet.methods, supported)
	if err != nil {
		_, _ = rw.Write([]byte{Version, byte(MethodNoAcceptable)})
		return fmt.Errorf("handshake: %w", err)
	}

	if _, err := rw.Write([]byte{Version, byte(selected)}); err != nil {
		return fmt.Errorf("handshake: write method selection: %w", err)
	}

	// No-auth's sub-dialogue is empty. Nothing further to run.
	return nil
}
