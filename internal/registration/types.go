package registration

import (
	"errors"

	"github.com/LK4D4/trylock"
	"github.com/hexablock/vivaldi"
	"github.com/hivegrid/hivegrid/internal/node"
)

var UnavailableClientErr = errors.New("etcd client unavailable")
var IdRegistrationErr = errors.New("etcd error: could not complete the registration")
var KeepAliveErr = errors.New("the system can't renew your registration key")

// Registry tracks this node's etcd registration and the status of its
// peers in the same area.
type Registry struct {
	Area   string
	Key    string
	Client *vivaldi.Client
	RwMtx  trylock.Mutex

	id         string
	serversMap map[string]*StatusInformation
	etcdCh     chan bool
}

// StatusInformation is the probe reply a node sends over UDP: enough for
// the coordinator to refresh the scheduler registry and the coordinate
// model in one round trip.
type StatusInformation struct {
	NodeID            string             `json:"nodeId"`
	Url               string             `json:"url"`
	AgentUrl          string             `json:"agentUrl"`
	Region            string             `json:"region"`
	Zone              string             `json:"zone"`
	Resources         node.Resources     `json:"resources"`
	Capabilities      []string           `json:"capabilities"`
	IdleWarmInstances int                `json:"idleWarmInstances"`
	Coordinates       vivaldi.Coordinate `json:"coordinates"`
}
