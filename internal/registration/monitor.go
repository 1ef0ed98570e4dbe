package registration

import (
	"log"
	"net/url"
	"reflect"
	"strconv"
	"time"

	"github.com/hexablock/vivaldi"
	"github.com/hivegrid/hivegrid/internal/config"
	"github.com/hivegrid/hivegrid/internal/node"
	"github.com/hivegrid/hivegrid/internal/scheduler"
)

// InitMonitoring starts the registry monitor on a coordinator: it keeps
// the scheduler's node registry in sync with etcd and maintains the
// network coordinate model from probe round trip times.
func InitMonitoring(r *Registry, sched *scheduler.Scheduler) error {
	defaultConfig := vivaldi.DefaultConfig()
	defaultConfig.Dimensionality = 3

	client, err := vivaldi.NewClient(defaultConfig)
	if err != nil {
		return err
	}
	r.Client = client
	r.etcdCh = make(chan bool)
	r.serversMap = make(map[string]*StatusInformation)

	// complete a monitoring round at startup
	r.monitoring(sched)
	go r.runMonitor(sched)
	return nil
}

func (r *Registry) runMonitor(sched *scheduler.Scheduler) {
	interval := time.Duration(config.GetInt(config.REG_MONITORING_INTERVAL, 30)) * time.Second
	ticker := time.NewTicker(interval)

	for {
		select {
		case <-r.etcdCh:
			r.monitoring(sched)
		case <-ticker.C:
			r.monitoring(sched)
			r.markStale(sched)
		}
	}
}

// monitoring probes every node registered under the Area and folds the
// replies into the scheduler registry and the coordinate model.
func (r *Registry) monitoring(sched *scheduler.Scheduler) {
	r.RwMtx.Lock()
	defer r.RwMtx.Unlock()

	etcdServerMap, err := r.GetAll()
	if err != nil {
		log.Println(err)
		return
	}
	delete(etcdServerMap, r.Key) // not consider myself

	for key, agentUrl := range etcdServerMap {
		oldInfo, known := r.serversMap[key]

		probeAddr, err := probeAddress(agentUrl)
		if err != nil {
			log.Printf("Bad registration value %q: %v", agentUrl, err)
			continue
		}
		newInfo, rtt := statusInfoRequest(probeAddr)
		if newInfo == nil {
			// unreachable node; the staleness sweep will take it offline
			delete(r.serversMap, key)
			continue
		}
		r.serversMap[key] = newInfo
		r.syncNode(sched, newInfo)

		if !known || !reflect.DeepEqual(oldInfo.Coordinates, newInfo.Coordinates) {
			r.Client.Update(newInfo.NodeID, &newInfo.Coordinates, rtt)
		}
	}

	// forget nodes that are no longer registered
	for key := range r.serversMap {
		if _, ok := etcdServerMap[key]; !ok {
			delete(r.serversMap, key)
		}
	}
}

// syncNode registers or refreshes one node in the scheduler from its
// probe reply.
func (r *Registry) syncNode(sched *scheduler.Scheduler, info *StatusInformation) {
	sched.RegisterNode(&node.ComputeNode{
		ID:           info.NodeID,
		Address:      info.Url,
		Endpoint:     info.AgentUrl,
		Region:       info.Region,
		Zone:         info.Zone,
		Resources:    info.Resources,
		Capabilities: info.Capabilities,
		Coordinates:  info.Coordinates,
	})
	if err := sched.Heartbeat(info.NodeID); err != nil {
		log.Printf("Heartbeat for %s: %v", info.NodeID, err)
	}
}

// markStale takes nodes offline once their last heartbeat is older than
// the configured timeout.
func (r *Registry) markStale(sched *scheduler.Scheduler) {
	timeout := time.Duration(config.GetInt(config.NODE_HEARTBEAT_TIMEOUT, 90)) * time.Second
	now := time.Now()
	for _, n := range sched.GetAllNodes() {
		if n.Status == node.StatusOffline {
			continue
		}
		if now.Sub(n.LastHeartbeat) > timeout {
			log.Printf("Node %s heartbeat is stale, marking offline", n.ID)
			if err := sched.SetNodeStatus(n.ID, node.StatusOffline); err != nil {
				log.Println(err)
			}
		}
	}
}

// probeAddress derives the UDP status address from a registered agent
// url. Nodes listen for probes on the same host, on the configured UDP
// port.
func probeAddress(agentUrl string) (string, error) {
	u, err := url.Parse(agentUrl)
	if err != nil {
		return "", err
	}
	port := config.GetInt(config.LISTEN_UDP_PORT, 9876)
	return u.Hostname() + ":" + strconv.Itoa(port), nil
}
