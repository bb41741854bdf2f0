// internal/peer/identity.go
package peer

import (
	"os"
	"time"

	"github.com/user/collabhub/internal/fsjson"
	"github.com/user/collabhub/internal/types"
)

// Version is stamped into new hub identities.
const Version = "0.1.0"

// LoadIdentity reads the hub's persistent identity from identity.json,
// creating and persisting a fresh one on first run.
func LoadIdentity(path, name string, port int) (*types.HubIdentity, error) {
	var identity types.HubIdentity
	ok, err := fsjson.Read(path, &identity)
	if err != nil {
		return nil, err
	}
	if ok {
		// Name and port may change between runs; the id never does.
		if name != "" {
			identity.Name = name
		}
		if port != 0 {
			identity.Port = port
		}
		return &identity, fsjson.Write(path, &identity)
	}

	hostname, _ := os.Hostname()
	if name == "" {
		name = hostname
	}
	identity = types.HubIdentity{
		ID:        types.NewHubID(),
		Name:      name,
		Hostname:  hostname,
		Port:      port,
		CreatedAt: time.Now().UTC(),
		Version:   Version,
	}
	return &identity, fsjson.Write(path, &identity)
}
