package mqtt

// FakePublisher is an in-memory Publisher and ConnectionStatus. It records
// each event next to the payload the real publisher would have sent.
type FakePublisher struct {
	StateEvents []StateEvent
	Payloads    [][]byte // state payloads, parallel to StateEvents

	SystemEvents   []SystemEvent
	SystemPayloads [][]byte // parallel to SystemEvents

	// Injected failures. Nothing is recorded when they are set.
	PublishError       error
	PublishSystemError error

	Closed    bool
	Connected bool // returned by IsConnected
}

// NewFakePublisher returns a disconnected fake with nothing recorded.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

func (f *FakePublisher) PublishState(event StateEvent) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatPayload(event)
	if err != nil {
		return err
	}
	f.StateEvents = append(f.StateEvents, event)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

func (f *FakePublisher) IsConnected() bool { return f.Connected }

// Reset returns the fake to its freshly constructed state.
func (f *FakePublisher) Reset() {
	*f = FakePublisher{}
}
