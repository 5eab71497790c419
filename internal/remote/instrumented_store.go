package remote

import (
	"context"

	"github.com/italolelis/mjai_downloader/internal/telemetry"
)

// InstrumentedStore wraps a Store with telemetry.
type InstrumentedStore struct {
	store     Store
	telemetry *telemetry.Telemetry
}

// NewInstrumentedStore creates a new instrumented store.
func NewInstrumentedStore(store Store, tel *telemetry.Telemetry) *InstrumentedStore {
	return &InstrumentedStore{store: store, telemetry: tel}
}

// Head performs a metadata request with telemetry.
func (s *InstrumentedStore) Head(ctx context.Context, url string) (int, error) {
	var status int

	err := s.telemetry.InstrumentStoreOperation(ctx, "head", func(ctx context.Context) error {
		var err error
		status, err = s.store.Head(ctx, url)

		return err
	})
	if err != nil {
		return 0, err
	}

	s.telemetry.RecordProbeStatus(status)

	return status, nil
}

// Fetch performs a GET with telemetry. Only the time to the response headers
// is measured; the body is streamed by the caller.
func (s *InstrumentedStore) Fetch(ctx context.Context, url string) (*Response, error) {
	var resp *Response

	err := s.telemetry.InstrumentStoreOperation(ctx, "fetch", func(ctx context.Context) error {
		var err error
		resp, err = s.store.Fetch(ctx, url)

		return err
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}
