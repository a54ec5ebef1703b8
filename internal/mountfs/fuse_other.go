//go:build !linux && !darwin

package mountfs

type Mount struct{}

func Start(string, Source, Options) (*Mount, error) {
	return nil, ErrUnsupported
}

func (m *Mount) Wait() {}

func (m *Mount) Unmount() error {
	return ErrUnsupported
}
