package serializer

// None never sends state: GetFullState and ApplyPatches are no-ops,
// matching spec.md §4.6's "a 'none' serializer is also valid" for rooms
// that manage their own out-of-band state distribution.
type None struct{}

func (None) GetFullState(state any) ([]byte, error) { return nil, nil }

func (None) ApplyPatches(clientID string, state any) ([]byte, bool, error) {
	return nil, false, nil
}

func (None) ForgetClient(clientID string) {}

func (None) ID() string { return "none" }
