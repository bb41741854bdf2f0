// internal/discovery/discovery.go
package discovery

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/hashicorp/serf/serf"

	"github.com/user/collabhub/internal/peer"
	"github.com/user/collabhub/internal/types"
)

// Member tags carried in the gossip. They let other hubs build a HubIdentity
// without any extra round trip.
const (
	tagHubID   = "hub_id"
	tagHubName = "hub_name"
	tagFedPort = "fed_port"
)

// Discovery gossips hub presence on the LAN via serf. Discovered hubs are fed
// into the peer manager; connecting stays an explicit human decision.
type Discovery struct {
	serf    *serf.Serf
	peers   *peer.Manager
	eventCh chan serf.Event
	done    chan struct{}
}

// New creates a discovery agent gossiping this hub's identity.
func New(identity *types.HubIdentity, bindAddr string, bindPort int, peers *peer.Manager) (*Discovery, error) {
	eventCh := make(chan serf.Event, 64)

	config := serf.DefaultConfig()
	config.NodeName = identity.ID
	config.MemberlistConfig.BindAddr = bindAddr
	config.MemberlistConfig.BindPort = bindPort
	config.EventCh = eventCh
	config.Tags = map[string]string{
		tagHubID:   identity.ID,
		tagHubName: identity.Name,
		tagFedPort: strconv.Itoa(identity.Port),
	}
	// Serf's own logging is noisy at this scale.
	config.LogOutput = io.Discard
	config.MemberlistConfig.LogOutput = io.Discard

	s, err := serf.Create(config)
	if err != nil {
		return nil, fmt.Errorf("create serf agent: %w", err)
	}

	d := &Discovery{
		serf:    s,
		peers:   peers,
		eventCh: eventCh,
		done:    make(chan struct{}),
	}
	go d.handleEvents()
	return d, nil
}

// Join contacts the seed nodes. Joining zero seeds is fine; the hub just
// waits to be found.
func (d *Discovery) Join(seeds []string) error {
	if len(seeds) == 0 {
		return nil
	}
	joined, err := d.serf.Join(seeds, true)
	if err != nil {
		return fmt.Errorf("join discovery seeds: %w", err)
	}
	slog.Info("joined discovery gossip", "seeds", len(seeds), "reached", joined)
	return nil
}

// Members returns the current gossip member count, including ourselves.
func (d *Discovery) Members() int {
	return len(d.serf.Members())
}

// Stop leaves the gossip and shuts the agent down.
func (d *Discovery) Stop() error {
	if err := d.serf.Leave(); err != nil {
		slog.Warn("discovery leave failed", "error", err)
	}
	err := d.serf.Shutdown()
	<-d.serf.ShutdownCh()
	close(d.done)
	return err
}

func (d *Discovery) handleEvents() {
	for {
		select {
		case <-d.done:
			return
		case event, ok := <-d.eventCh:
			if !ok {
				return
			}
			me, isMember := event.(serf.MemberEvent)
			if !isMember {
				continue
			}
			switch me.EventType() {
			case serf.EventMemberJoin, serf.EventMemberUpdate:
				for _, member := range me.Members {
					identity, ok := identityFromMember(member)
					if !ok {
						continue
					}
					d.peers.AddDiscoveredHub(identity)
					slog.Debug("hub discovered", "name", identity.Name, "addr", identity.Hostname)
				}
			}
		}
	}
}

// identityFromMember rebuilds a HubIdentity from gossip tags. Members without
// our tags (or with a garbled port) are ignored.
func identityFromMember(member serf.Member) (types.HubIdentity, bool) {
	id := member.Tags[tagHubID]
	name := member.Tags[tagHubName]
	if id == "" || name == "" {
		return types.HubIdentity{}, false
	}
	port, err := strconv.Atoi(member.Tags[tagFedPort])
	if err != nil {
		return types.HubIdentity{}, false
	}
	return types.HubIdentity{
		ID:       id,
		Name:     name,
		Hostname: member.Addr.String(),
		Port:     port,
	}, true
}
