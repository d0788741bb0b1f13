//go:build !linux

package gpio

// Open always fails off Linux; use the fake driver instead.
func Open(cfg Config) (Driver, error) {
	return nil, ErrNotSupported
}
