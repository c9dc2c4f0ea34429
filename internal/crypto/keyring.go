package crypto

import (
	"errors"
	"fmt"
)

// Keyring holds the derived field keys for every key version the process
// knows about. It is built once at startup from the configured master
// secrets and is immutable afterwards, so no locking is needed at request
// time. Keys are never written to disk by this package.
type Keyring struct {
	keys   map[int][]byte
	active int
}

// NewKeyring derives a field key per configured version. masters maps key
// version to a 32-byte master secret; active selects the version used for
// new encryptions and must be present in masters.
func NewKeyring(masters map[int][]byte, active int) (*Keyring, error) {
	if len(masters) == 0 {
		return nil, errors.New("no field keys configured")
	}
	keys := make(map[int][]byte, len(masters))
	for version, master := range masters {
		if len(master) != 32 {
			return nil, fmt.Errorf("field key v%d: expected 32 bytes, got %d", version, len(master))
		}
		key, err := deriveFieldKey(master, version)
		if err != nil {
			return nil, err
		}
		keys[version] = key
	}
	if _, ok := keys[active]; !ok {
		return nil, fmt.Errorf("active key version %d not among configured keys", active)
	}
	return &Keyring{keys: keys, active: active}, nil
}

// ActiveVersion returns the key version used for new encryptions.
func (k *Keyring) ActiveVersion() int {
	return k.active
}

// Versions returns all key versions this keyring holds.
func (k *Keyring) Versions() []int {
	versions := make([]int, 0, len(k.keys))
	for v := range k.keys {
		versions = append(versions, v)
	}
	return versions
}

func (k *Keyring) key(version int) ([]byte, error) {
	key, ok := k.keys[version]
	if !ok {
		return nil, &UnknownKeyVersionError{Version: version}
	}
	return key, nil
}
